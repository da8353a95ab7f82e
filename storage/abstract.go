package storage

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

const (
	// DefaultCapacity is the number of records a RecordIndex keeps before it
	// starts evicting the oldest one.
	DefaultCapacity = 10

	Delimiter = '\n'
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrInvalidSeek = errors.New("invalid seek")
	ErrInterrupted = errors.New("interrupted while waiting for store lock")
	ErrClosed      = errors.New("store closed")
)

// Record is one delimiter-terminated write. Data is never modified after the
// record is inserted.
type Record struct {
	Data []byte
}

func (r *Record) Len() int64 {
	return int64(len(r.Data))
}

// Location is a position inside a live record. Record is the 0-indexed
// position of the record among live records, oldest first.
type Location struct {
	Record int
	Offset int64
}

// Store is a bounded log of delimiter-terminated records addressed by
// global byte offset. Every method takes the store lock for its whole
// duration; waiting for the lock honours ctx and fails with ErrInterrupted.
type Store interface {
	// Append buffers p and turns every completed line into a record.
	// It consumes all of p unless storing a line fails; the count then
	// covers only the lines that were stored, and the rest of p is dropped.
	Append(ctx context.Context, p []byte) (int, error)

	// ReadAll writes every live record to w, oldest first.
	ReadAll(ctx context.Context, w io.Writer) (int64, error)

	// ReadAt copies bytes of the record owning off into p, never crossing
	// into the next record. It returns io.EOF when off is past the end.
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)

	Resolve(ctx context.Context, off int64) (Location, bool, error)

	// SeekToRecord returns the global offset of byte offset of the given
	// live record, or ErrNotFound.
	SeekToRecord(ctx context.Context, record, offset uint64) (int64, error)

	Size(ctx context.Context) (int64, error)
	Len(ctx context.Context) (int, error)

	Close() error
}
