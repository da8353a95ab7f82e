package storage

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// Cursor is a reader position in the global offset space of a Store. Reads
// never span a record boundary and re-resolve the position on every call, so
// a cursor stays usable while the store evicts records underneath it.
//
// A Cursor is not safe for concurrent use; the store it reads from is.
type Cursor struct {
	ctx   context.Context
	store Store
	pos   int64
}

func NewCursor(ctx context.Context, store Store) *Cursor {
	return &Cursor{ctx: ctx, store: store}
}

func (c *Cursor) Pos() int64 {
	return c.pos
}

// Read copies at most the rest of the record under the cursor and advances
// the cursor by the number of bytes copied.
func (c *Cursor) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n, err := c.store.ReadAt(c.ctx, p, c.pos)
	c.pos += int64(n)

	return n, err
}

// Seek implements io.Seeker. The resulting position must lie in
// [0, size of live records]; otherwise ErrInvalidSeek is returned and the
// cursor does not move.
func (c *Cursor) Seek(offset int64, whence int) (int64, error) {
	size, err := c.store.Size(c.ctx)

	if err != nil {
		return c.pos, err
	}

	target, err := SeekTarget(c.pos, size, offset, whence)

	if err != nil {
		return c.pos, err
	}

	c.pos = target

	return c.pos, nil
}

// SeekToRecord moves the cursor to byte offset of the given live record.
func (c *Cursor) SeekToRecord(record, offset uint64) (int64, error) {
	pos, err := c.store.SeekToRecord(c.ctx, record, offset)

	if err != nil {
		return c.pos, err
	}

	c.pos = pos

	return c.pos, nil
}

// WriteTo drains the log from the cursor to the end of the stream.
func (c *Cursor) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, copyBufferSize)

	var written int64

	for {
		n, err := c.Read(buf)

		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)

			if werr != nil {
				return written, werr
			}
		}

		if errors.Is(err, io.EOF) {
			return written, nil
		}

		if err != nil {
			return written, err
		}
	}
}

var (
	_ io.ReadSeeker = (*Cursor)(nil)
	_ io.WriterTo   = (*Cursor)(nil)
)

// SeekTarget applies an io.Seeker style (offset, whence) to pos and checks the
// result against [0, size].
func SeekTarget(pos, size, offset int64, whence int) (int64, error) {
	var base int64

	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = pos
	case io.SeekEnd:
		base = size
	default:
		return pos, errors.Wrapf(ErrInvalidSeek, "unknown whence %d", whence)
	}

	target := base + offset

	if (offset > 0 && target < base) || target < 0 || target > size {
		return pos, errors.Wrapf(ErrInvalidSeek, "offset %d out of range [0, %d]", target, size)
	}

	return target, nil
}
