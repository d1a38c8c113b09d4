package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

var (
	// ErrNotSequential is returned when a sequential sink is written out of order.
	ErrNotSequential = errors.New("sink only accepts sequential writes")
	ErrSinkClosed    = errors.New("sink is closed")
)

// SinkError reports a destination that could not be opened or written.
type SinkError struct {
	Op   string
	Path string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// Sink is a write target addressed by byte offset. Implementations must be
// safe for use by concurrent workers writing disjoint ranges.
type Sink interface {
	WriteAt(p []byte, off int64) (int, error)
	// RandomAccess reports whether writes may arrive at any offset.
	RandomAccess() bool
	Close() error
}

// FileSink writes to a local file at arbitrary offsets.
type FileSink struct {
	path string
	f    *os.File
}

// OpenFile opens path for writing without truncating it so that existing
// bytes survive a resume. A positive size preallocates the file.
func OpenFile(path string, size int64) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &SinkError{Op: "mkdir", Path: path, Err: err}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &SinkError{Op: "open", Path: path, Err: err}
	}

	if size > 0 {
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, &SinkError{Op: "stat", Path: path, Err: err}
		}
		if st.Size() < size {
			if err := f.Truncate(size); err != nil {
				f.Close()
				return nil, &SinkError{Op: "allocate", Path: path, Err: err}
			}
		}
	}

	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) WriteAt(p []byte, off int64) (int, error) {
	n, err := s.f.WriteAt(p, off)
	if err != nil {
		return n, &SinkError{Op: "write", Path: s.path, Err: err}
	}
	return n, nil
}

func (s *FileSink) RandomAccess() bool { return true }

func (s *FileSink) Path() string { return s.path }

// Close flushes the file to disk and closes it.
func (s *FileSink) Close() error {
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return &SinkError{Op: "sync", Path: s.path, Err: err}
	}
	if err := s.f.Close(); err != nil {
		return &SinkError{Op: "close", Path: s.path, Err: err}
	}
	return nil
}

// BlobSink streams into a bucket object. Objects are written in one pass,
// so only the next expected offset is accepted.
type BlobSink struct {
	key    string
	bucket *blob.Bucket
	owned  bool
	w      *blob.Writer
	cancel context.CancelFunc

	mu     sync.Mutex
	offset int64
	closed bool
}

// OpenBlob opens the bucket at bucketURL and starts writing key. The bucket
// is closed together with the sink.
func OpenBlob(ctx context.Context, bucketURL, key string) (*BlobSink, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, &SinkError{Op: "open bucket", Path: bucketURL, Err: err}
	}

	s, err := NewBlobSink(ctx, bucket, key)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	s.owned = true

	return s, nil
}

// NewBlobSink starts writing key into an already opened bucket.
func NewBlobSink(ctx context.Context, bucket *blob.Bucket, key string) (*BlobSink, error) {
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w, err := bucket.NewWriter(wctx, key, nil)
	if err != nil {
		cancel()
		return nil, &SinkError{Op: "open writer", Path: key, Err: err}
	}

	return &BlobSink{key: key, bucket: bucket, w: w, cancel: cancel}, nil
}

func (s *BlobSink) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, &SinkError{Op: "write", Path: s.key, Err: ErrSinkClosed}
	}
	if off != s.offset {
		return 0, &SinkError{Op: "write", Path: s.key, Err: fmt.Errorf("%w: expected offset %d, got %d", ErrNotSequential, s.offset, off)}
	}

	n, err := s.w.Write(p)
	s.offset += int64(n)
	if err != nil {
		return n, &SinkError{Op: "write", Path: s.key, Err: err}
	}

	return n, nil
}

func (s *BlobSink) RandomAccess() bool { return false }

// Close commits the object.
func (s *BlobSink) Close() error {
	return s.finish(false)
}

// Abort discards everything written so far.
func (s *BlobSink) Abort() error {
	return s.finish(true)
}

func (s *BlobSink) finish(abort bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if abort {
		s.cancel()
	}
	err := s.w.Close()
	s.cancel()

	if s.owned {
		if cerr := s.bucket.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	if err != nil && !abort {
		return &SinkError{Op: "commit", Path: s.key, Err: err}
	}

	return nil
}
