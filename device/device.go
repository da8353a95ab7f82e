// Package device exposes a record log through character-device style file
// operations: every Open returns a handle with its own position, reads stop
// at record boundaries, writes are buffered until a newline, and failures
// are reported as errno values.
package device

import (
	"context"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/tsdb/wlog"
	"golang.org/x/sys/unix"

	"ringlog/storage"
)

const Name = "aesdchar"

type Device struct {
	logger log.Logger
	store  storage.Store

	mu    sync.Mutex
	files map[*File]struct{}
}

// New creates a device backed by an in-memory ring of capacity records.
func New(logger log.Logger, registerer prometheus.Registerer, capacity int) *Device {
	return NewWithStore(logger, storage.NewMemStore(logger, registerer, capacity))
}

func NewWithStore(logger log.Logger, store storage.Store) *Device {
	return &Device{
		logger: log.With(logger, "device", Name),
		store:  store,
		files:  make(map[*File]struct{}),
	}
}

func (d *Device) Open() *File {
	f := &File{dev: d}

	d.mu.Lock()
	d.files[f] = struct{}{}
	d.mu.Unlock()

	level.Debug(d.logger).Log("msg", "open")

	return f
}

// Release drops a handle. Further operations on it fail with EBADF.
func (d *Device) Release(f *File) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.files[f]; !ok {
		return unix.EBADF
	}

	delete(d.files, f)
	f.released = true

	level.Debug(d.logger).Log("msg", "release")

	return nil
}

// Close releases every open handle and frees all records.
func (d *Device) Close() error {
	d.mu.Lock()
	for f := range d.files {
		f.released = true
		delete(d.files, f)
	}
	d.mu.Unlock()

	return d.store.Close()
}

// File is an open handle on a Device. A File must not be used from more
// than one goroutine at a time; distinct Files may be used concurrently.
type File struct {
	dev      *Device
	pos      int64
	released bool
}

func (f *File) Pos() int64 {
	return f.pos
}

func (f *File) check() error {
	f.dev.mu.Lock()
	defer f.dev.mu.Unlock()

	if f.released {
		return unix.EBADF
	}

	return nil
}

// Read copies bytes of the record under the file position into p. It
// returns 0 with a nil error at end of stream.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}

	level.Debug(f.dev.logger).Log("msg", "read", "bytes", len(p), "pos", f.pos)

	n, err := f.dev.store.ReadAt(ctx, p, f.pos)

	if errors.Is(err, io.EOF) {
		return 0, nil
	}

	if err != nil {
		return 0, f.dev.errno(err)
	}

	f.pos += int64(n)

	return n, nil
}

// Write appends p to the log. The file position is not moved.
func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}

	level.Debug(f.dev.logger).Log("msg", "write", "bytes", len(p), "pos", f.pos)

	n, err := f.dev.store.Append(ctx, p)

	if err != nil {
		return 0, f.dev.errno(err)
	}

	return n, nil
}

func (f *File) Llseek(ctx context.Context, offset int64, whence int) (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}

	size, err := f.dev.store.Size(ctx)

	if err != nil {
		return 0, f.dev.errno(err)
	}

	pos, err := storage.SeekTarget(f.pos, size, offset, whence)

	if err != nil {
		return 0, f.dev.errno(err)
	}

	f.pos = pos

	return pos, nil
}

func (f *File) Ioctl(ctx context.Context, cmd Command) error {
	if err := f.check(); err != nil {
		return err
	}

	switch c := cmd.(type) {
	case SeekTo:
		pos, err := f.dev.store.SeekToRecord(ctx, c.Record, c.Offset)

		if err != nil {
			return f.dev.errno(err)
		}

		f.pos = pos

		return nil
	default:
		return unix.ENOTTY
	}
}

func (d *Device) errno(err error) unix.Errno {
	var (
		cerr  *wlog.CorruptionErr
		errno unix.Errno
	)

	switch {
	case errors.Is(err, storage.ErrInvalidSeek), errors.Is(err, storage.ErrNotFound):
		errno = unix.EINVAL
	case errors.Is(err, storage.ErrInterrupted):
		errno = unix.EINTR
	case errors.Is(err, storage.ErrClosed):
		errno = unix.EBADF
	case errors.As(err, &cerr):
		errno = unix.EIO
	default:
		errno = unix.EFAULT
	}

	level.Debug(d.logger).Log("msg", "operation failed", "errno", errno, "err", err)

	return errno
}
