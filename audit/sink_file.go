package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
)

// FileSink appends events as JSON lines to a file. The file is created
// with mode 0600 and only ever appended to.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	w    *bufio.Writer
	sync bool
}

// FileOption configures a FileSink.
type FileOption func(*FileSink)

// WithFsync makes every batch durable before Write returns.
func WithFsync(enable bool) FileOption {
	return func(s *FileSink) {
		s.sync = enable
	}
}

// NewFileSink opens path for appending, creating the file if needed. The
// parent directory must exist.
func NewFileSink(path string, opts ...FileOption) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("audit log path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, errors.Wrapf(err, "audit log directory %s", dir)
		}
		if !info.IsDir() {
			return nil, errors.Newf("audit log directory %s is not a directory", dir)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open audit log %s", path)
	}
	s := &FileSink{path: path, f: f, w: bufio.NewWriter(f)}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the file path.
func (s *FileSink) Path() string {
	return s.path
}

// Write appends the batch, one JSON object per line.
func (s *FileSink) Write(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return errors.Mark(errors.New("audit file sink closed"), ErrSinkUnavailable)
	}
	enc := json.NewEncoder(s.w)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return errors.Wrap(err, "encode audit event")
		}
	}
	if err := s.w.Flush(); err != nil {
		return errors.Mark(errors.Wrapf(err, "write audit log %s", s.path), ErrSinkUnavailable)
	}
	if s.sync {
		if err := s.f.Sync(); err != nil {
			return errors.Mark(errors.Wrapf(err, "sync audit log %s", s.path), ErrSinkUnavailable)
		}
	}
	return nil
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.f == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.f.Close()
	s.f = nil
	return errors.CombineErrors(flushErr, closeErr)
}
