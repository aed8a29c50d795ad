package log

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Level is the severity of a log entry. Higher values are more severe.
type Level int8

// Severity levels accepted by LogCfg and the Logger interface.
const (
	// TraceLevel logs wire-level detail such as tunnel request bodies.
	TraceLevel Level = iota + 1
	// DebugLevel logs state machine transitions and frame sizes.
	DebugLevel
	// InfoLevel logs connection lifecycle milestones.
	InfoLevel
	// WarnLevel logs API misuse and recoverable failures.
	WarnLevel
	// ErrorLevel logs failures that end a connection or session.
	ErrorLevel
	// FatalLevel logs unrecoverable engine faults. It never exits the process.
	FatalLevel
)

// String returns the upper-case level name.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "TRACE"
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive level name. Unknown names yield InfoLevel.
func ParseLevel(levelStr string) Level {
	l, err := parseLevel(levelStr)
	if err != nil {
		return InfoLevel
	}
	return l
}

func parseLevel(levelStr string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return TraceLevel, nil
	case "DEBUG":
		return DebugLevel, nil
	case "INFO":
		return InfoLevel, nil
	case "WARN", "WARNING":
		return WarnLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	case "FATAL":
		return FatalLevel, nil
	}
	return 0, fmt.Errorf("unknown log level %q", levelStr)
}

// UnmarshalText lets configuration files spell levels by name.
func (l *Level) UnmarshalText(text []byte) error {
	v, err := parseLevel(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(l.String())), nil
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case TraceLevel:
		return zerolog.TraceLevel
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	case FatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
