package log

import (
	"sync"
	"time"
)

// FileAppender writes log lines to a file with size and daily rotation.
// Writes are synchronous.
type FileAppender struct {
	lock sync.Mutex
	rot  rotator
}

// NewFileAppender creates an appender for cfg.LogPath. The file is opened on first write.
func NewFileAppender(cfg *LogCfg) *FileAppender {
	return &FileAppender{
		rot: rotator{
			path:      cfg.LogPath,
			splitMB:   cfg.FileSplitMB,
			splitHour: cfg.FileSplitHour,
		},
	}
}

// Write implements io.Writer.
func (a *FileAppender) Write(buf []byte) (int, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	fd, err := a.rot.file(time.Now(), len(buf))
	if err != nil {
		return 0, err
	}
	n, err := fd.Write(buf)
	a.rot.size += int64(n)
	return n, err
}

// Refresh syncs the current file to disk.
func (a *FileAppender) Refresh() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	if a.rot.fd == nil {
		return nil
	}
	return a.rot.fd.Sync()
}

// Close closes the current file. A later Write reopens it.
func (a *FileAppender) Close() error {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.rot.close()
}
