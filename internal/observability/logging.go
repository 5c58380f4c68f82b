// Package observability wires the process-wide zerolog logger and the
// optional OpenTelemetry tracer used by the migration engine and the
// completions pipeline.
package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger. logPath may be empty, in
// which case logs go to stdout only. level is parsed with zerolog's own
// parser ("debug", "info", "warn", "error"); an unrecognized value falls
// back to info.
func InitLogger(logPath, level string) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	logger := zerolog.New(multi).Level(lvl).With().Timestamp().Caller().Logger()
	log.Logger = logger
	return nil
}

// Component returns a child logger tagged with a component name, mirroring
// the teacher's convention of attaching a "component" field to every
// subsystem logger instead of using separate loggers per package.
func Component(name string) zerolog.Logger {
	return log.Logger.With().Str("component", name).Logger()
}
