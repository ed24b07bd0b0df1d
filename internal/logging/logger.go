package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/slyt3/GetItDone/internal/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const maxMessageLen = 2048

// Fields captures structured context for JSON log entries.
// Include RequestID and TaskID for correlation across a request's lifetime.
type Fields struct {
	RequestID string
	TaskID    string
	OfferID   string
	DisputeID string
	EntryID   string
	PartyID   string
	Component string
	Method    string
	Error     string
	Amount    int64
}

var (
	mu       sync.RWMutex
	base     *zap.Logger
	initOnce sync.Once
)

// SetLogger replaces the process logger and returns a func restoring the previous one.
// Tests use it with zaptest/observer to capture entries.
func SetLogger(l *zap.Logger) (restore func()) {
	initOnce.Do(initDefault)
	mu.Lock()
	prev := base
	base = l
	mu.Unlock()
	return func() {
		mu.Lock()
		base = prev
		mu.Unlock()
	}
}

// Sync flushes buffered entries. Call it once before the process exits.
func Sync() {
	_ = current().Sync()
}

// Debug logs a debug-level message with structured fields in JSON format.
// Respects GETITDONE_LOG_LEVEL. Returns silently if msg is empty.
func Debug(msg string, fields Fields) {
	if !validMessage(msg) {
		return
	}
	current().Debug(msg, fields.zap()...)
}

// Info logs an info-level message. Default level if GETITDONE_LOG_LEVEL is unset.
func Info(msg string, fields Fields) {
	if !validMessage(msg) {
		return
	}
	current().Info(msg, fields.zap()...)
}

// Warn logs a warning. Use for recoverable errors and rejected requests.
func Warn(msg string, fields Fields) {
	if !validMessage(msg) {
		return
	}
	current().Warn(msg, fields.zap()...)
}

// Error logs errors that require attention but don't stop the service.
func Error(msg string, fields Fields) {
	if !validMessage(msg) {
		return
	}
	current().Error(msg, fields.zap()...)
}

// Critical logs invariant violations that operators must act on.
// Entries carry alert=true so log pipelines can page on them.
func Critical(msg string, fields Fields) {
	if !validMessage(msg) {
		return
	}
	current().Error(msg, append(fields.zap(), zap.Bool("alert", true))...)
}

func validMessage(msg string) bool {
	if err := assert.Check(msg != "", "log message must not be empty"); err != nil {
		return false
	}
	if err := assert.Check(len(msg) <= maxMessageLen, "log message too large: %d", len(msg)); err != nil {
		return false
	}
	return true
}

func current() *zap.Logger {
	initOnce.Do(initDefault)
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func initDefault() {
	l, err := New(os.Getenv("GETITDONE_LOG_LEVEL"))
	if err != nil {
		l = zap.NewNop()
	}
	mu.Lock()
	base = l
	mu.Unlock()
}

// New builds the JSON production logger at level ("debug", "info", "warn",
// "error"). Unknown levels mean info.
func New(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(levelFromEnv(level))
	cfg.Sampling = nil
	cfg.DisableCaller = true
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return cfg.Build()
}

func levelFromEnv(v string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error", "critical":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (f Fields) zap() []zap.Field {
	out := make([]zap.Field, 0, 10)
	add := func(key, val string) {
		if val != "" {
			out = append(out, zap.String(key, val))
		}
	}
	add("request_id", f.RequestID)
	add("task_id", f.TaskID)
	add("offer_id", f.OfferID)
	add("dispute_id", f.DisputeID)
	add("entry_id", f.EntryID)
	add("party_id", f.PartyID)
	add("component", f.Component)
	add("method", f.Method)
	add("error", f.Error)
	if f.Amount != 0 {
		out = append(out, zap.Int64("amount", f.Amount))
	}
	return out
}
