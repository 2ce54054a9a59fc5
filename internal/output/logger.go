/*
PURPOSE:
  Provides the structured logger for infer-bench.
  Wraps zerolog so every package logs through one configured sink.

REQUIREMENTS:
  User-specified:
  - "Sane" CLI output. Not spammy.
  - Result lines read "Average time: ..." and "Total time: ...".

  Implementation-discovered:
  - Needs Debug/Info/Warn/Error levels selectable from the CLI.
  - Machine consumers want JSON lines; humans want the console writer.

ARCHITECTURE INTEGRATION:
  - Used everywhere.
  - Configured once by internal/cli before any command runs.

ERROR HANDLING:
  - Unknown level or format strings are returned as errors from NewLogger.

IMPLEMENTATION RULES:
  - Use github.com/rs/zerolog.
  - Package-level Logger so packages do not thread a logger through calls.

USAGE:
  output.Logger.Info().Str("model", name).Msg("starting")

SELF-HEALING INSTRUCTIONS:
  - If logs disappear, check the level set by --log-level.

RELATED FILES:
  - internal/cli/root.go

MAINTENANCE:
  - Add new formats in NewLogger.
*/

package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
}

// SetLogger allows overriding the default logger (e.g. for testing or config changes)
func SetLogger(l zerolog.Logger) {
	Logger = l
}

// NewLogger builds a logger writing to w. format is "console" or "json".
func NewLogger(w io.Writer, format, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	switch strings.ToLower(format) {
	case "", "console", "text":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}
