package log

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		return levelNames[l]
	}
}

var levelNames = map[zerolog.Level]string{
	zerolog.TraceLevel: TraceLevel.String(),
	zerolog.DebugLevel: DebugLevel.String(),
	zerolog.InfoLevel:  InfoLevel.String(),
	zerolog.WarnLevel:  WarnLevel.String(),
	zerolog.ErrorLevel: ErrorLevel.String(),
	zerolog.FatalLevel: FatalLevel.String(),
	zerolog.PanicLevel: "PANIC",
}

// sink fans encoded lines out to the registered appenders. Loggers derived with
// With share the sink of their parent, so appenders added later reach them too.
type sink struct {
	lock      sync.RWMutex
	appenders []LogAppender
}

func (s *sink) Write(p []byte) (int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var errs []error
	for _, a := range s.appenders {
		if _, err := a.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	return len(p), errors.Join(errs...)
}

func (s *sink) add(a LogAppender) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.appenders = append(s.appenders, a)
}

func (s *sink) snapshot() []LogAppender {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return append([]LogAppender(nil), s.appenders...)
}

// ClientLogger is the Logger implementation used across the engine. It encodes
// with zerolog and writes through the configured appenders.
type ClientLogger struct {
	cfg  *LogCfg
	sink *sink
	zl   zerolog.Logger
}

var _ Logger = (*ClientLogger)(nil)

// NewLogger builds a logger from cfg. cfg is assumed valid.
func NewLogger(cfg *LogCfg) *ClientLogger {
	s := &sink{}
	if cfg.ConsoleAppender {
		s.add(NewConsoleAppender(cfg.ConsolePretty))
	}
	if cfg.FileAppender {
		s.add(NewFileAppender(cfg))
	}

	zctx := zerolog.New(s).Level(cfg.LogLevel.zerolog()).With().Timestamp()
	if cfg.EnabledCallerInfo {
		zctx = zctx.CallerWithSkipFrameCount(zerolog.CallerSkipFrameCount + cfg.CallerSkip)
	}
	return &ClientLogger{
		cfg:  cfg,
		sink: s,
		zl:   zctx.Logger(),
	}
}

// GetCurrentConfig returns the configuration the logger was built from.
func (x *ClientLogger) GetCurrentConfig() *LogCfg {
	return x.cfg
}

// With returns a logger that adds key=value to every entry.
func (x *ClientLogger) With(key, value string) Logger {
	return &ClientLogger{
		cfg:  x.cfg,
		sink: x.sink,
		zl:   x.zl.With().Str(key, value).Logger(),
	}
}

// AddAppender registers another output destination.
func (x *ClientLogger) AddAppender(appender LogAppender) {
	x.sink.add(appender)
}

// GetAppender returns the registered appenders.
func (x *ClientLogger) GetAppender() []LogAppender {
	return x.sink.snapshot()
}

// Refresh flushes every appender.
func (x *ClientLogger) Refresh() {
	for _, a := range x.sink.snapshot() {
		_ = a.Refresh()
	}
}

// Close flushes and closes every appender.
func (x *ClientLogger) Close() {
	for _, a := range x.sink.snapshot() {
		_ = a.Refresh()
		_ = a.Close()
	}
}

// Trace starts a trace-level entry.
func (x *ClientLogger) Trace() *LogEvent {
	return newEvent(x.zl.WithLevel(zerolog.TraceLevel))
}

// Debug starts a debug-level entry.
func (x *ClientLogger) Debug() *LogEvent {
	return newEvent(x.zl.WithLevel(zerolog.DebugLevel))
}

// Info starts an info-level entry.
func (x *ClientLogger) Info() *LogEvent {
	return newEvent(x.zl.WithLevel(zerolog.InfoLevel))
}

// Warn starts a warn-level entry.
func (x *ClientLogger) Warn() *LogEvent {
	return newEvent(x.zl.WithLevel(zerolog.WarnLevel))
}

// Error starts an error-level entry.
func (x *ClientLogger) Error() *LogEvent {
	return newEvent(x.zl.WithLevel(zerolog.ErrorLevel))
}

// Fatal starts a fatal-level entry. Unlike zerolog's Fatal it does not exit.
func (x *ClientLogger) Fatal() *LogEvent {
	return newEvent(x.zl.WithLevel(zerolog.FatalLevel))
}
