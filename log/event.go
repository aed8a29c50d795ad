package log

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var _eventPool = sync.Pool{
	New: func() any {
		return &LogEvent{}
	},
}

// LogEvent is one log entry under construction. A nil *LogEvent is returned for
// disabled levels and every method on it is a no-op, so call chains never need a
// level check.
type LogEvent struct {
	ze *zerolog.Event
}

func newEvent(ze *zerolog.Event) *LogEvent {
	if ze == nil {
		return nil
	}
	e, _ := _eventPool.Get().(*LogEvent)
	if e == nil {
		e = &LogEvent{}
	}
	e.ze = ze
	return e
}

func (e *LogEvent) release() {
	e.ze = nil
	_eventPool.Put(e)
}

// Str adds a string field.
func (e *LogEvent) Str(k, v string) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Str(k, v)
	return e
}

// Strs adds a string slice field.
func (e *LogEvent) Strs(k string, v []string) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Strs(k, v)
	return e
}

// Stringer adds the String() form of v.
func (e *LogEvent) Stringer(k string, v fmt.Stringer) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Stringer(k, v)
	return e
}

// Int adds an int field.
func (e *LogEvent) Int(k string, v int) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Int(k, v)
	return e
}

// Int32 adds an int32 field.
func (e *LogEvent) Int32(k string, v int32) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Int32(k, v)
	return e
}

// Int64 adds an int64 field.
func (e *LogEvent) Int64(k string, v int64) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Int64(k, v)
	return e
}

// Uint8 adds a uint8 field.
func (e *LogEvent) Uint8(k string, v uint8) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Uint8(k, v)
	return e
}

// Uint16 adds a uint16 field.
func (e *LogEvent) Uint16(k string, v uint16) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Uint16(k, v)
	return e
}

// Uint32 adds a uint32 field.
func (e *LogEvent) Uint32(k string, v uint32) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Uint32(k, v)
	return e
}

// Uint64 adds a uint64 field.
func (e *LogEvent) Uint64(k string, v uint64) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Uint64(k, v)
	return e
}

// Float64 adds a float64 field.
func (e *LogEvent) Float64(k string, v float64) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Float64(k, v)
	return e
}

// Bool adds a bool field.
func (e *LogEvent) Bool(k string, v bool) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Bool(k, v)
	return e
}

// Dur adds a duration field.
func (e *LogEvent) Dur(k string, v time.Duration) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Dur(k, v)
	return e
}

// Time adds a timestamp field.
func (e *LogEvent) Time(k string, v time.Time) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Time(k, v)
	return e
}

// Hex adds a byte slice rendered as hex.
func (e *LogEvent) Hex(k string, v []byte) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Hex(k, v)
	return e
}

// Err adds the error under the "error" key. A nil error is skipped.
func (e *LogEvent) Err(err error) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Err(err)
	return e
}

// Any adds v using reflection-based encoding.
func (e *LogEvent) Any(k string, v any) *LogEvent {
	if e == nil {
		return e
	}
	e.ze.Interface(k, v)
	return e
}

// Msg writes the entry with the given message.
func (e *LogEvent) Msg(msg string) {
	if e == nil {
		return
	}
	e.ze.Msg(msg)
	e.release()
}

// Msgf writes the entry with a formatted message.
func (e *LogEvent) Msgf(format string, v ...any) {
	if e == nil {
		return
	}
	e.ze.Msgf(format, v...)
	e.release()
}

// End writes the entry without a message.
func (e *LogEvent) End() {
	if e == nil {
		return
	}
	e.ze.Send()
	e.release()
}
