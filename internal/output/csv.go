/*
PURPOSE:
  Writes benchmark results to a CSV file.
  Ensures data integrity by flushing writes immediately.

REQUIREMENTS:
  User-specified:
  - Output to CSV.
  - Rows survive a crash in a later model configuration.

  Implementation-discovered:
  - NewCSVWriter truncates its path. The engine hands it a VersionedPath
    (results.csv.1, results.csv.2, ...) so earlier suites are never overwritten.
  - Input shapes are a list of lists; they are rendered as "8x3x32x32;1x64x64".

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine
  - Consumes: internal/model.Result

ERROR HANDLING:
  - Returns error on file creation or write failure.

IMPLEMENTATION RULES:
  - Use encoding/csv.
  - Flush() after every write (critical for crash resilience).
  - Mutex guards the writer.

USAGE:
  w, err := output.NewCSVWriter("results.csv")
  w.Write(result)
  w.Close()

SELF-HEALING INSTRUCTIONS:
  - If CSV format changes, update header and record conversion.

RELATED FILES:
  - internal/model/types.go

MAINTENANCE:
  - Update Write() mapping when Result struct changes.
*/

package output

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/daryltucker/infer-bench/internal/model"
)

// CSVHeader is the first row of every results file.
var CSVHeader = []string{
	"run_id", "model", "arch", "input_shapes", "device", "mode",
	"autotune", "allow_tf32", "timestamp", "num_steps", "warmup_steps",
	"elapsed_ms", "average_ms", "total_s", "wall_s",
	"error",
}

// CSVWriter handles writing results to a CSV file.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter creates a new CSVWriter.
// It overwrites the file if it exists.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := csv.NewWriter(f)
	if err := w.Write(CSVHeader); err != nil {
		f.Close()
		return nil, err
	}
	w.Flush()

	return &CSVWriter{
		file:   f,
		writer: w,
	}, nil
}

// FormatShapes renders input shapes as "8x3x32x32;1x64x64".
func FormatShapes(shapes [][]int) string {
	parts := make([]string, len(shapes))
	for i, s := range shapes {
		dims := make([]string, len(s))
		for j, d := range s {
			dims[j] = strconv.Itoa(d)
		}
		parts[i] = strings.Join(dims, "x")
	}
	return strings.Join(parts, ";")
}

// Write writes a single result to the CSV file.
// It is thread-safe.
func (cw *CSVWriter) Write(r model.Result) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	record := []string{
		r.RunID,
		r.Model,
		r.Arch,
		FormatShapes(r.InputShapes),
		r.Device,
		r.Mode,
		strconv.FormatBool(r.AutoTune),
		strconv.FormatBool(r.AllowTF32),
		r.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
		strconv.Itoa(r.NumSteps),
		strconv.Itoa(r.WarmupSteps),
		fmt.Sprintf("%.4f", r.ElapsedMS),
		fmt.Sprintf("%.4f", r.AverageMS),
		strconv.Itoa(r.TotalSeconds),
		fmt.Sprintf("%.3f", r.WallSeconds),
		r.Error,
	}

	if err := cw.writer.Write(record); err != nil {
		return err
	}
	cw.writer.Flush()
	return cw.writer.Error()
}

// Close closes the underlying file.
func (cw *CSVWriter) Close() error {
	cw.writer.Flush()
	return cw.file.Close()
}
