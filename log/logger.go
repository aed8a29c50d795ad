package log

import "sync/atomic"

// Logger is the structured logging contract used by every engine package.
type Logger interface {
	Trace() *LogEvent
	Debug() *LogEvent
	Info() *LogEvent
	Warn() *LogEvent
	Error() *LogEvent
	Fatal() *LogEvent
	// With returns a logger that tags every entry with key=value.
	With(key, value string) Logger
	AddAppender(appender LogAppender)
	Refresh()
	Close()
}

var _defaultLogger atomic.Pointer[ClientLogger]

func init() {
	_defaultLogger.Store(NewLogger(DefaultLogCfg()))
}

// Initialize replaces the default logger with one built from cfg.
// A nil cfg restores the defaults.
func Initialize(cfg *LogCfg) error {
	if cfg == nil {
		cfg = DefaultLogCfg()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	SetDefaultLogger(NewLogger(cfg))
	return nil
}

// SetDefaultLogger installs logger as the package-level default.
func SetDefaultLogger(logger *ClientLogger) {
	_defaultLogger.Store(logger)
}

// Default returns the package-level logger.
func Default() *ClientLogger {
	return _defaultLogger.Load()
}

// AddAppender adds an appender to the default logger.
func AddAppender(appender LogAppender) {
	Default().AddAppender(appender)
}

// Refresh flushes the default logger.
func Refresh() {
	Default().Refresh()
}

// Close flushes and closes the default logger's appenders.
func Close() {
	Default().Close()
}

// Trace starts a trace-level entry on the default logger.
func Trace() *LogEvent {
	return Default().Trace()
}

// Debug starts a debug-level entry on the default logger.
func Debug() *LogEvent {
	return Default().Debug()
}

// Info starts an info-level entry on the default logger.
func Info() *LogEvent {
	return Default().Info()
}

// Warn starts a warn-level entry on the default logger.
func Warn() *LogEvent {
	return Default().Warn()
}

// Error starts an error-level entry on the default logger.
func Error() *LogEvent {
	return Default().Error()
}

// Fatal starts a fatal-level entry on the default logger.
func Fatal() *LogEvent {
	return Default().Fatal()
}
