package storage

import (
	"context"
	"io"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// MemStore keeps the most recent records in a RecordIndex.
type MemStore struct {
	logger  log.Logger
	metrics *StoreMetrics

	mu      storeLock
	index   *RecordIndex
	pending pending
	closed  bool
}

func NewMemStore(logger log.Logger, registerer prometheus.Registerer, capacity int) *MemStore {
	return &MemStore{
		logger:  logger,
		metrics: NewStoreMetrics(wrapRegisterer(registerer)),
		mu:      newStoreLock(),
		index:   NewRecordIndex(capacity),
	}
}

func wrapRegisterer(registerer prometheus.Registerer) prometheus.Registerer {
	if registerer == nil {
		return nil
	}

	return prometheus.WrapRegistererWithPrefix("storage_", registerer)
}

func (s *MemStore) acquire(ctx context.Context) error {
	if err := s.mu.lock(ctx); err != nil {
		return err
	}

	if s.closed {
		s.mu.unlock()
		return ErrClosed
	}

	return nil
}

func (s *MemStore) Append(ctx context.Context, p []byte) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	n, err := s.pending.feed(p, func(line []byte) error {
		evicted, ok := s.index.Insert(Record{Data: line})
		s.metrics.recordsAppended.Inc()

		if ok {
			s.release(evicted)
		}

		return nil
	})

	s.updateGauges()

	return n, err
}

func (s *MemStore) release(rec Record) {
	s.metrics.recordsEvicted.Inc()
	level.Debug(s.logger).Log("msg", "evicted oldest record", "bytes", len(rec.Data))
}

func (s *MemStore) updateGauges() {
	s.metrics.liveRecords.Set(float64(s.index.Len()))
	s.metrics.liveBytes.Set(float64(s.index.Size()))
	s.metrics.pendingBytes.Set(float64(s.pending.Len()))
}

func (s *MemStore) ReadAll(ctx context.Context, w io.Writer) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	now := time.Now()

	var (
		written int64
		err     error
	)

	s.index.ForEach(func(_ int, rec *Record) bool {
		var n int
		n, err = w.Write(rec.Data)
		written += int64(n)

		return err == nil
	})

	if err != nil {
		s.metrics.replaysFailed.Inc()
		return written, errors.Wrap(err, "replay records")
	}

	s.metrics.replayDuration.Observe(time.Since(now).Seconds())

	return written, nil
}

func (s *MemStore) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	rec, loc, ok := s.index.Resolve(off)

	if !ok {
		return 0, io.EOF
	}

	return copy(p, rec.Data[loc.Offset:]), nil
}

func (s *MemStore) Resolve(ctx context.Context, off int64) (Location, bool, error) {
	if err := s.acquire(ctx); err != nil {
		return Location{}, false, err
	}
	defer s.mu.unlock()

	_, loc, ok := s.index.Resolve(off)

	return loc, ok, nil
}

func (s *MemStore) SeekToRecord(ctx context.Context, record, offset uint64) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	if record >= uint64(s.index.Len()) {
		return 0, ErrNotFound
	}

	return s.index.OffsetOf(int(record), int64(offset))
}

func (s *MemStore) Size(ctx context.Context) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	return s.index.Size(), nil
}

func (s *MemStore) Len(ctx context.Context) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.mu.unlock()

	return s.index.Len(), nil
}

// Records returns a copy of all live records, oldest first.
func (s *MemStore) Records(ctx context.Context) ([][]byte, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.mu.unlock()

	out := make([][]byte, 0, s.index.Len())

	s.index.ForEach(func(_ int, rec *Record) bool {
		out = append(out, append([]byte(nil), rec.Data...))
		return true
	})

	return out, nil
}

// Close frees every live record and the pending accumulator.
func (s *MemStore) Close() error {
	if err := s.mu.lock(context.Background()); err != nil {
		return err
	}
	defer s.mu.unlock()

	if s.closed {
		return nil
	}

	drained := s.index.Drain()
	s.pending.reset()
	s.closed = true
	s.updateGauges()

	level.Debug(s.logger).Log("msg", "store closed", "freed", len(drained))

	return nil
}

var _ Store = (*MemStore)(nil)
