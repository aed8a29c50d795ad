package log

import (
	"fmt"
	"path/filepath"
)

// LogCfg configures the engine logger. It is decoded from the [log] table of the
// client configuration file.
type LogCfg struct {
	// LogPath is the file written by the file appender. Parent directories are created on demand.
	LogPath string `mapstructure:"path"`

	// LogLevel is the minimum level that reaches any appender.
	LogLevel Level `mapstructure:"level"`

	// FileSplitMB rotates the log file once it grows past this size. Zero disables size rotation.
	FileSplitMB int `mapstructure:"splitMB"`

	// FileSplitHour rotates the log file daily at this hour (1-23). Zero disables time rotation.
	FileSplitHour int `mapstructure:"splitHour"`

	// FileAppender enables file output.
	FileAppender bool `mapstructure:"fileAppender"`

	// ConsoleAppender enables stdout output.
	ConsoleAppender bool `mapstructure:"consoleAppender"`

	// ConsolePretty renders console output in human-readable form instead of JSON lines.
	ConsolePretty bool `mapstructure:"consolePretty"`

	// EnabledCallerInfo adds file:line of the logging call site.
	EnabledCallerInfo bool `mapstructure:"enabledCallerInfo"`

	// CallerSkip is the number of extra frames between the call site and the encoder.
	CallerSkip int `mapstructure:"callerSkip"`
}

// GetName returns the configuration table name.
func (cfg *LogCfg) GetName() string {
	return "log"
}

// Validate checks ranges and normalizes the file path.
func (cfg *LogCfg) Validate() error {
	if cfg.LogLevel < TraceLevel || cfg.LogLevel > FatalLevel {
		return fmt.Errorf("invalid log level: %d, must be between %d (Trace) and %d (Fatal)",
			cfg.LogLevel, TraceLevel, FatalLevel)
	}
	if cfg.FileSplitMB < 0 || cfg.FileSplitMB > 1024 {
		return fmt.Errorf("file split size must be between 0MB and 1024MB, got %dMB", cfg.FileSplitMB)
	}
	if cfg.FileSplitHour < 0 || cfg.FileSplitHour > 23 {
		return fmt.Errorf("file split hour must be between 0 and 23, got %d", cfg.FileSplitHour)
	}
	if cfg.CallerSkip < 0 {
		return fmt.Errorf("caller skip must be non-negative, got %d", cfg.CallerSkip)
	}
	if cfg.FileAppender {
		if cfg.LogPath == "" {
			return fmt.Errorf("log path cannot be empty when file appender is enabled")
		}
		cfg.LogPath = filepath.Clean(cfg.LogPath)
	}
	if !cfg.FileAppender && !cfg.ConsoleAppender {
		return fmt.Errorf("at least one appender (file or console) must be enabled")
	}
	return nil
}

// DefaultLogCfg returns the configuration used before Initialize is called.
// A client library logs to the console only unless told otherwise.
func DefaultLogCfg() *LogCfg {
	return &LogCfg{
		LogPath:           "./strixlink.log",
		LogLevel:          InfoLevel,
		FileSplitMB:       50,
		ConsoleAppender:   true,
		EnabledCallerInfo: true,
		CallerSkip:        1,
	}
}
