package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/tsdb/wlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFileStore(t *testing.T, removeOnClose bool) (*FileStore, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "aesdsocketdata")

	s, err := NewFileStore(log.NewNopLogger(), prometheus.NewRegistry(), FileStoreOptions{
		Path:          path,
		RemoveOnClose: removeOnClose,
	})
	require.NoError(t, err)

	return s, path
}

func TestFileStoreCreationTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aesdsocketdata")
	require.NoError(t, os.WriteFile(path, []byte("stale data\n"), 0o644))

	s, err := NewFileStore(log.NewNopLogger(), nil, FileStoreOptions{Path: path})
	require.NoError(t, err)
	defer s.Close()

	size, err := s.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, contents)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t, false)
	defer s.Close()

	for _, line := range []string{"a\n", "bb\n", "ccc\n"} {
		_, err := s.Append(ctx, []byte(line))
		require.NoError(t, err)
	}

	assert.Equal(t, "a\nbb\nccc\n", readAll(t, s))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a\nbb\nccc\n", string(contents))

	count, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestFileStorePartialLineNotWritten(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t, false)
	defer s.Close()

	_, err := s.Append(ctx, []byte("hello"))
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, contents)

	_, err = s.Append(ctx, []byte(" world\nnext"))
	require.NoError(t, err)

	assert.Equal(t, "hello world\n", readAll(t, s))
}

func TestFileStoreResolveAndSeek(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFileStore(t, false)
	defer s.Close()

	_, err := s.Append(ctx, []byte("a\nbb\n"))
	require.NoError(t, err)

	loc, ok, err := s.Resolve(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Location{Record: 1, Offset: 0}, loc)

	loc, ok, err = s.Resolve(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Location{Record: 0, Offset: 1}, loc)

	_, ok, err = s.Resolve(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok)

	off, err := s.SeekToRecord(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(4), off)

	_, err = s.SeekToRecord(ctx, 5, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.SeekToRecord(ctx, 1, 3)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreReadAtStopsAtRecordBoundary(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFileStore(t, false)
	defer s.Close()

	_, err := s.Append(ctx, []byte("first\nsecond\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := s.ReadAt(ctx, buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "rst\n", string(buf[:n]))

	n, err = s.ReadAt(ctx, buf, 13)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFileStoreRemoveOnClose(t *testing.T) {
	s, path := newTestFileStore(t, true)

	_, err := s.Append(context.Background(), []byte("bye\n"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	_, err = s.Append(context.Background(), []byte("late\n"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFileStoreDetectsShrunkFile(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t, false)
	defer s.Close()

	_, err := s.Append(ctx, []byte("one\ntwo\n"))
	require.NoError(t, err)

	require.NoError(t, os.Truncate(path, 4))

	var buf bytes.Buffer
	_, err = s.ReadAll(ctx, &buf)
	require.Error(t, err)

	var cerr *wlog.CorruptionErr
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, int64(4), cerr.Offset)
}

// tornWriter passes ok writes through to the data file, then writes a single
// byte of the next one and fails.
type tornWriter struct {
	wlog.SegmentFile
	ok int
}

func (w *tornWriter) Write(p []byte) (int, error) {
	if w.ok > 0 {
		w.ok--
		return w.SegmentFile.Write(p)
	}

	n, _ := w.SegmentFile.Write(p[:1])

	return n, errors.New("no space left on device")
}

func TestFileStoreWriteFailureKeepsPriorState(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t, false)
	defer s.Close()

	_, err := s.Append(ctx, []byte("keep\npre"))
	require.NoError(t, err)

	handle := s.file.SegmentFile
	s.file.SegmentFile = &tornWriter{SegmentFile: handle}

	n, err := s.Append(ctx, []byte("fix\n"))
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, len("pre"), s.pending.Len())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep\n", string(contents))

	s.file.SegmentFile = handle

	n, err = s.Append(ctx, []byte("fix\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "keep\nprefix\n", readAll(t, s))

	contents, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep\nprefix\n", string(contents))
}

func TestFileStoreWriteFailureReportsCommittedBytes(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t, false)
	defer s.Close()

	handle := s.file.SegmentFile
	s.file.SegmentFile = &tornWriter{SegmentFile: handle, ok: 1}

	p := []byte("one\ntwo\ntail")
	n, err := s.Append(ctx, p)
	require.Error(t, err)
	assert.Equal(t, len("one\n"), n)
	assert.Equal(t, 0, s.pending.Len())

	s.file.SegmentFile = handle

	// Retrying the uncommitted rest stores every line exactly once.
	m, err := s.Append(ctx, p[n:])
	require.NoError(t, err)
	assert.Equal(t, len(p)-n, m)

	assert.Equal(t, "one\ntwo\n", readAll(t, s))
	assert.Equal(t, len("tail"), s.pending.Len())

	count, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(contents))
}
