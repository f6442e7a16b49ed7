// Package filelog is an append-only log file sink that can be told to roll
// over to a new backing file. Files are named after the time they were
// opened and are never reopened once rolled, so earlier contents stay under
// their original name.
package filelog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// ErrClosed is returned by Write and RollToNewFile after Close.
var ErrClosed = errors.New("filelog: handle closed")

const (
	timestampFormat = "2006-01-02T15-04-05.000000000"
	maxNameAttempts = 100
)

// Handle owns the open log file and the rotation machinery. Exactly one file
// is open at a time. All methods are safe for concurrent use.
type Handle struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	file   *os.File
	path   string
	closed bool
}

type Option func(*Handle)

// WithClock overrides the clock used to name new files.
func WithClock(now func() time.Time) Option {
	return func(h *Handle) { h.now = now }
}

// Open creates dir if needed and opens the first log file in it.
func Open(dir string, opts ...Option) (*Handle, error) {
	h := &Handle{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, path, err := h.create()
	if err != nil {
		return nil, err
	}
	h.file, h.path = f, path
	return h, nil
}

// Path returns the file currently written to.
func (h *Handle) Path() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.path
}

func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	return h.file.Write(p)
}

// RollToNewFile opens a fresh file and makes it current, then closes the
// previous one. If the new file cannot be created the current file stays in
// use and the error is returned.
func (h *Handle) RollToNewFile() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", ErrClosed
	}
	f, path, err := h.create()
	if err != nil {
		return "", err
	}
	old := h.file
	h.file, h.path = f, path
	// The new file is already current; a failed close of the old one has
	// nothing left to retry.
	_ = old.Close()
	return path, nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.file.Close()
}

func (h *Handle) create() (*os.File, string, error) {
	stamp := h.now().UTC().Format(timestampFormat)
	for i := 0; i < maxNameAttempts; i++ {
		name := stamp
		if i > 0 {
			name += "-" + strconv.Itoa(i)
		}
		path := filepath.Join(h.dir, name+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("open log file: %w", err)
		}
	}
	return nil, "", fmt.Errorf("open log file: no free name for %s in %s", stamp, h.dir)
}
