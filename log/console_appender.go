package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// ConsoleAppender writes log lines to stdout, either raw or through zerolog's
// human-readable console writer.
type ConsoleAppender struct {
	out io.Writer
}

// NewConsoleAppender creates a stdout appender.
func NewConsoleAppender(pretty bool) *ConsoleAppender {
	return newConsoleAppender(os.Stdout, pretty)
}

func newConsoleAppender(w io.Writer, pretty bool) *ConsoleAppender {
	if !pretty {
		return &ConsoleAppender{out: w}
	}
	return &ConsoleAppender{out: zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMilli}}
}

// Write implements io.Writer.
func (ca *ConsoleAppender) Write(buf []byte) (int, error) {
	return ca.out.Write(buf)
}

// Refresh is a no-op, stdout is unbuffered.
func (ca *ConsoleAppender) Refresh() error {
	return nil
}

// Close is a no-op, stdout is never closed by the logger.
func (ca *ConsoleAppender) Close() error {
	return nil
}
