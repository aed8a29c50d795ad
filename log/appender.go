package log

import "io"

// LogAppender is an output destination for encoded log lines.
//
// Appenders receive complete JSON lines from the encoder and must be safe for
// concurrent use: engine I/O goroutines and dispatch workers log at the same time.
type LogAppender interface {
	io.Writer

	// Refresh flushes buffered output, if any.
	Refresh() error

	// Close flushes and releases the destination.
	Close() error
}
