package pv

import "time"

// LogEvent describes a store, engine or manifest operation for logging.
type LogEvent struct {
	Op        string
	Namespace string
	Name      string
	Engine    string
	Expr      string
	Value     any
	Duration  time.Duration
	Err       error
}

// Logger records store events.
type Logger interface {
	Log(LogEvent)
}

// LoggerFunc adapts a function to Logger.
type LoggerFunc func(LogEvent)

// Log implements Logger.
func (f LoggerFunc) Log(event LogEvent) {
	if f != nil {
		f(event)
	}
}

type noopLogger struct{}

func (noopLogger) Log(LogEvent) {}

// WithLogger attaches a logger to the store. The engine and manifests bound to
// the store share it.
func WithLogger(logger Logger) StoreOption {
	return func(cfg *storeConfig) {
		if logger == nil {
			cfg.logger = noopLogger{}
			return
		}
		cfg.logger = logger
	}
}
