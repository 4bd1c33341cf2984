package credits

// Field is a key/value pair attached to a log entry.
type Field struct {
	Key   string
	Value any
}

// Logger is the structured logging interface consumed by this package.
// An adapter for zerolog lives in pkg/credits/logger/zerolog.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// NoopLogger discards all log entries. It is the default when no Logger
// is configured.
type NoopLogger struct{}

func (n *NoopLogger) Debug(msg string, fields ...Field) {}
func (n *NoopLogger) Info(msg string, fields ...Field)  {}
func (n *NoopLogger) Warn(msg string, fields ...Field)  {}
func (n *NoopLogger) Error(msg string, fields ...Field) {}
