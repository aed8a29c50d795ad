package log

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/linchenxuan/strixlink/utils/file"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// rotator owns the current log file and swaps it out when the size or the
// daily hour threshold is crossed. Callers serialize access.
type rotator struct {
	path      string
	splitMB   int
	splitHour int

	fd       *os.File
	size     int64
	openedAt time.Time
}

// file returns the descriptor to write n more bytes to, rotating first if needed.
func (r *rotator) file(now time.Time, n int) (*os.File, error) {
	if r.fd != nil && !r.shouldRotate(now, n) {
		return r.fd, nil
	}
	if r.fd != nil {
		if err := r.archive(now); err != nil {
			return nil, err
		}
	}
	if err := r.open(now); err != nil {
		return nil, err
	}
	return r.fd, nil
}

func (r *rotator) shouldRotate(now time.Time, n int) bool {
	if r.splitMB > 0 && r.size+int64(n) > int64(r.splitMB)<<20 {
		return true
	}
	return rotateByHour(r.openedAt, now, r.splitHour)
}

// rotateByHour reports whether the daily split hour has passed since openedAt.
func rotateByHour(openedAt, now time.Time, splitHour int) bool {
	if splitHour == 0 {
		return false
	}
	boundary := time.Date(now.Year(), now.Month(), now.Day(), splitHour, 0, 0, 0, now.Location())
	if now.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}
	return openedAt.Before(boundary)
}

func (r *rotator) open(now time.Time) error {
	if dir := filepath.Dir(r.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, defaultDirMode); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}
	fd, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	fi, err := fd.Stat()
	if err != nil {
		_ = fd.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.fd = fd
	r.size = fi.Size()
	r.openedAt = now
	if r.size > 0 {
		r.openedAt = fi.ModTime()
	}
	return nil
}

// archive closes the current file and renames it with a timestamp suffix.
// Processes sharing the path take turns through path.lock; when another one
// holds it, the rename is left to that process and the file is just reopened.
func (r *rotator) archive(now time.Time) error {
	if err := r.fd.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	r.fd = nil
	lk, err := file.TryLock(r.path + ".lock")
	if errors.Is(err, file.ErrLocked) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock log file: %w", err)
	}
	defer lk.Unlock()
	backup, err := backupName(r.path, now)
	if err != nil {
		return err
	}
	if err := os.Rename(r.path, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rename log file: %w", err)
	}
	return nil
}

func (r *rotator) close() error {
	if r.fd == nil {
		return nil
	}
	err := r.fd.Close()
	r.fd = nil
	return err
}

// backupName yields path.ext.YYYYMMDD-HHMMSS, stepping a second forward on collision.
func backupName(path string, now time.Time) (string, error) {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for i := 0; i < 5; i++ {
		ts := now.Add(time.Duration(i) * time.Second)
		name := fmt.Sprintf("%s%s.%s", base, ext, ts.Format("20060102-150405"))
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			return name, nil
		} else if err != nil {
			return "", fmt.Errorf("stat backup file: %w", err)
		}
	}
	return "", errors.New("cannot generate unique backup filename")
}
