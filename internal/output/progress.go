package output

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Progress renders measured steps as a bar. The zero value and nil are silent.
type Progress struct {
	bar *progressbar.ProgressBar
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// NewProgress returns a bar for total steps on w, or nil when w is not a
// terminal or enabled is false.
func NewProgress(w *os.File, label string, total int, enabled bool) *Progress {
	if !enabled || !IsTerminal(w) {
		return nil
	}
	return newProgress(w, label, total)
}

func newProgress(w io.Writer, label string, total int) *Progress {
	return &Progress{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(0),
		progressbar.OptionClearOnFinish(),
	)}
}

// Observe matches bench.Observer.
func (p *Progress) Observe(step, total int) {
	if p == nil {
		return
	}
	_ = p.bar.Set(step)
	if step == total {
		_ = p.bar.Finish()
	}
}

// Close clears the bar if the run stopped before its last step.
func (p *Progress) Close() {
	if p == nil {
		return
	}
	_ = p.bar.Exit()
}
