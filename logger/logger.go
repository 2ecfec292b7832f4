package logger

// Logger is the minimal structured logging interface used across fleetgate.
// Implementations accept alternating key/value pairs as variadic arguments.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}

// TraceIDFunc generates a correlation/trace ID string for each request/log.
// It should be cheap and safe for concurrent calls.
type TraceIDFunc func() string
