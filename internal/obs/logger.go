// Package obs provides the structured logging and metrics seams shared by
// every node, grounded on internal/rag/obs in the teacher repo.
package obs

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the minimal logging surface nodes depend on, kept small so
// in-memory test doubles stay trivial to write.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
}

// ZerologLogger adapts github.com/rs/zerolog to the Logger interface.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger builds a ZerologLogger writing structured JSON to
// stdout at the given level ("debug", "info", "error", ...).
func NewZerologLogger(level string) *ZerologLogger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	l := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	return &ZerologLogger{log: l}
}

func (z *ZerologLogger) Info(msg string, fields map[string]any) {
	z.log.Info().Fields(fields).Msg(msg)
}

func (z *ZerologLogger) Error(msg string, fields map[string]any) {
	z.log.Error().Fields(fields).Msg(msg)
}

func (z *ZerologLogger) Debug(msg string, fields map[string]any) {
	z.log.Debug().Fields(fields).Msg(msg)
}

// NoopLogger discards everything; used as the zero-value default the way
// rag/service.defaultLogger does.
type NoopLogger struct{}

func (NoopLogger) Info(string, map[string]any)  {}
func (NoopLogger) Error(string, map[string]any) {}
func (NoopLogger) Debug(string, map[string]any) {}

// RecordingLogger is an in-memory test double capturing every call, used
// in place of a mock framework the way the teacher's MockMetrics does for
// metrics.
type RecordingLogger struct {
	Entries []Entry
}

// Entry is one captured log call.
type Entry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

func (r *RecordingLogger) Info(msg string, fields map[string]any) {
	r.Entries = append(r.Entries, Entry{Level: "info", Msg: msg, Fields: fields})
}

func (r *RecordingLogger) Error(msg string, fields map[string]any) {
	r.Entries = append(r.Entries, Entry{Level: "error", Msg: msg, Fields: fields})
}

func (r *RecordingLogger) Debug(msg string, fields map[string]any) {
	r.Entries = append(r.Entries, Entry{Level: "debug", Msg: msg, Fields: fields})
}
