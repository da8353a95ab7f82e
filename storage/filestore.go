package storage

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/tsdb/wlog"
)

const DefaultDataFile = "/var/tmp/aesdsocketdata"

type FileStoreOptions struct {
	Path string

	// RemoveOnClose deletes the data file when the store is closed.
	RemoveOnClose bool
}

// FileStore keeps every record in a flat file. The newline ending each
// record doubles as the on-disk boundary; record start offsets are kept in
// memory only.
type FileStore struct {
	logger  log.Logger
	metrics *StoreMetrics
	options FileStoreOptions
	pool    *BytesPool

	mu      storeLock
	file    *dataFile
	starts  []int64
	size    int64
	pending pending
	closed  bool
}

func NewFileStore(logger log.Logger, registerer prometheus.Registerer, options FileStoreOptions) (*FileStore, error) {
	if options.Path == "" {
		options.Path = DefaultDataFile
	}

	file, err := createDataFile(options.Path)

	if err != nil {
		return nil, err
	}

	return &FileStore{
		logger:  logger,
		metrics: NewStoreMetrics(wrapRegisterer(registerer)),
		options: options,
		pool:    NewBytesPool(),
		mu:      newStoreLock(),
		file:    file,
	}, nil
}

func (s *FileStore) acquire(ctx context.Context) error {
	if err := s.mu.lock(ctx); err != nil {
		return err
	}

	if s.closed {
		s.mu.unlock()
		return ErrClosed
	}

	return nil
}

func (s *FileStore) Append(ctx context.Context, p []byte) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	n, err := s.pending.feed(p, s.writeRecord)

	s.metrics.liveRecords.Set(float64(len(s.starts)))
	s.metrics.liveBytes.Set(float64(s.size))
	s.metrics.pendingBytes.Set(float64(s.pending.Len()))

	return n, err
}

func (s *FileStore) writeRecord(line []byte) error {
	n, err := s.file.Write(line)

	if err == nil && n != len(line) {
		err = io.ErrShortWrite
	}

	if err != nil {
		if terr := s.file.truncate(s.size); terr != nil {
			level.Error(s.logger).Log("msg", "failed to drop torn record", "err", terr, "file", s.options.Path)
		}

		return errors.Wrap(err, "write record")
	}

	s.starts = append(s.starts, s.size)
	s.size += int64(len(line))
	s.metrics.recordsAppended.Inc()

	return nil
}

func (s *FileStore) corruption(err error, offset int64) error {
	return &wlog.CorruptionErr{
		Dir:     filepath.Dir(s.options.Path),
		Segment: -1,
		Offset:  offset,
		Err:     err,
	}
}

func (s *FileStore) ReadAll(ctx context.Context, w io.Writer) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	now := time.Now()

	buf := s.pool.GetBytes()
	defer s.pool.PutBytes(buf)

	n, err := io.CopyBuffer(w, io.NewSectionReader(s.file.reader, 0, s.size), *buf)

	if err != nil {
		s.metrics.replaysFailed.Inc()
		return n, errors.Wrap(err, "replay data file")
	}

	if n != s.size {
		s.metrics.replaysFailed.Inc()
		return n, s.corruption(errors.Errorf("data file holds %d bytes, expected %d", n, s.size), n)
	}

	s.metrics.replayDuration.Observe(time.Since(now).Seconds())

	return n, nil
}

// locate returns the index of the record owning off.
func (s *FileStore) locate(off int64) (int, bool) {
	if off < 0 || off >= s.size {
		return 0, false
	}

	return sort.Search(len(s.starts), func(i int) bool { return s.starts[i] > off }) - 1, true
}

func (s *FileStore) recordLen(i int) int64 {
	if i+1 < len(s.starts) {
		return s.starts[i+1] - s.starts[i]
	}

	return s.size - s.starts[i]
}

func (s *FileStore) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	i, ok := s.locate(off)

	if !ok {
		return 0, io.EOF
	}

	end := s.starts[i] + s.recordLen(i)

	if remaining := end - off; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := s.file.reader.ReadAt(p, off)

	if err != nil && !(errors.Is(err, io.EOF) && n == len(p)) {
		return n, s.corruption(errors.Wrap(err, "read record"), off+int64(n))
	}

	return n, nil
}

func (s *FileStore) Resolve(ctx context.Context, off int64) (Location, bool, error) {
	if err := s.acquire(ctx); err != nil {
		return Location{}, false, err
	}
	defer s.mu.unlock()

	i, ok := s.locate(off)

	if !ok {
		return Location{}, false, nil
	}

	return Location{Record: i, Offset: off - s.starts[i]}, true, nil
}

func (s *FileStore) SeekToRecord(ctx context.Context, record, offset uint64) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	if record >= uint64(len(s.starts)) {
		return 0, ErrNotFound
	}

	i := int(record)

	if offset >= uint64(s.recordLen(i)) {
		return 0, ErrNotFound
	}

	return s.starts[i] + int64(offset), nil
}

func (s *FileStore) Size(ctx context.Context) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	return s.size, nil
}

func (s *FileStore) Len(ctx context.Context) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	return len(s.starts), nil
}

// Sync flushes the data file to stable storage.
func (s *FileStore) Sync(ctx context.Context) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	return s.file.Sync()
}

func (s *FileStore) Close() error {
	if err := s.mu.lock(context.Background()); err != nil {
		return err
	}
	defer s.mu.unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	s.pending.reset()
	s.starts = nil
	s.size = 0

	err := s.file.Close()

	if err != nil {
		level.Error(s.logger).Log("msg", "failed to close data file", "err", err, "file", s.options.Path)
	}

	if !s.options.RemoveOnClose {
		return err
	}

	if rerr := s.file.remove(); rerr != nil {
		level.Error(s.logger).Log("msg", "Failed to delete file", "file", s.options.Path, "err", rerr)

		if err == nil {
			err = rerr
		}
	} else {
		level.Info(s.logger).Log("msg", "Deleted file", "file", s.options.Path)
	}

	return err
}

var _ Store = (*FileStore)(nil)
