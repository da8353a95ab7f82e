package storage

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(lines *[]string) func([]byte) error {
	return func(line []byte) error {
		*lines = append(*lines, string(line))
		return nil
	}
}

// failAfter accepts ok lines and rejects every later one.
func failAfter(ok int, lines *[]string) func([]byte) error {
	return func(line []byte) error {
		if len(*lines) >= ok {
			return errors.New("device full")
		}

		*lines = append(*lines, string(line))
		return nil
	}
}

func TestPendingFeed(t *testing.T) {
	var (
		p     pending
		lines []string
	)

	n, err := p.feed([]byte("par"), collect(&lines))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Empty(t, lines)

	n, err = p.feed([]byte("tial\nnext\nrest"), collect(&lines))
	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.Equal(t, []string{"partial\n", "next\n"}, lines)
	assert.Equal(t, "rest", string(p.buf))
}

func TestPendingFeedFirstFlushFails(t *testing.T) {
	var (
		p     pending
		lines []string
	)

	_, err := p.feed([]byte("pre"), collect(&lines))
	require.NoError(t, err)

	n, err := p.feed([]byte("fix\nmore"), failAfter(0, &lines))
	require.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "pre", string(p.buf))
	assert.Empty(t, lines)
}

func TestPendingFeedLaterFlushFails(t *testing.T) {
	var (
		p     pending
		lines []string
	)

	_, err := p.feed([]byte("pre"), collect(&lines))
	require.NoError(t, err)

	n, err := p.feed([]byte("fix\nnext\ntail"), failAfter(1, &lines))
	require.Error(t, err)
	assert.Equal(t, len("fix\n"), n)
	assert.Equal(t, []string{"prefix\n"}, lines)
	assert.Empty(t, p.buf)
}
