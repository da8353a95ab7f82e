package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveRecords(i *RecordIndex) []string {
	var out []string

	i.ForEach(func(_ int, rec *Record) bool {
		out = append(out, string(rec.Data))
		return true
	})

	return out
}

func TestRecordIndexInsert(t *testing.T) {
	i := NewRecordIndex(3)

	require.Equal(t, 0, i.Len())
	require.Equal(t, 3, i.Cap())

	for n := 0; n < 3; n++ {
		_, evicted := i.Insert(Record{Data: []byte(fmt.Sprintf("%d\n", n))})
		assert.False(t, evicted)
	}

	assert.Equal(t, 3, i.Len())
	assert.True(t, i.full)
	assert.Equal(t, []string{"0\n", "1\n", "2\n"}, liveRecords(i))
}

func TestRecordIndexEvictsOldest(t *testing.T) {
	i := NewRecordIndex(DefaultCapacity)

	for n := 0; n < DefaultCapacity; n++ {
		i.Insert(Record{Data: []byte(fmt.Sprintf("write%d\n", n))})
	}

	evicted, ok := i.Insert(Record{Data: []byte("newest\n")})
	require.True(t, ok)
	assert.Equal(t, "write0\n", string(evicted.Data))

	live := liveRecords(i)
	require.Len(t, live, DefaultCapacity)
	assert.Equal(t, "write1\n", live[0])
	assert.Equal(t, "newest\n", live[DefaultCapacity-1])
	assert.True(t, i.full)

	for n := 1; n < DefaultCapacity; n++ {
		assert.Equal(t, fmt.Sprintf("write%d\n", n), live[n-1])
	}
}

func TestRecordIndexWriteCursorWraps(t *testing.T) {
	i := NewRecordIndex(2)

	for n := 0; n < 5; n++ {
		i.Insert(Record{Data: []byte{byte('a' + n), '\n'}})
		assert.Equal(t, (n+1)%2, i.in)
	}

	assert.Equal(t, []string{"d\n", "e\n"}, liveRecords(i))
}

func TestRecordIndexResolve(t *testing.T) {
	i := NewRecordIndex(DefaultCapacity)
	i.Insert(Record{Data: []byte("a\n")})
	i.Insert(Record{Data: []byte("bb\n")})

	testCases := []struct {
		off    int64
		found  bool
		record int
		intra  int64
	}{
		{off: 0, found: true, record: 0, intra: 0},
		{off: 1, found: true, record: 0, intra: 1},
		{off: 2, found: true, record: 1, intra: 0},
		{off: 4, found: true, record: 1, intra: 2},
		{off: 5, found: false},
		{off: -1, found: false},
	}

	for _, tc := range testCases {
		t.Run(fmt.Sprintf("offset %d", tc.off), func(t *testing.T) {
			rec, loc, ok := i.Resolve(tc.off)
			require.Equal(t, tc.found, ok)

			if !tc.found {
				assert.Nil(t, rec)
				return
			}

			assert.Equal(t, tc.record, loc.Record)
			assert.Equal(t, tc.intra, loc.Offset)
		})
	}
}

func TestRecordIndexResolveMonotonic(t *testing.T) {
	i := NewRecordIndex(DefaultCapacity)

	for n := 0; n < DefaultCapacity; n++ {
		i.Insert(Record{Data: make([]byte, n+1)})
	}

	last := 0
	for off := int64(0); off < i.Size(); off++ {
		_, loc, ok := i.Resolve(off)
		require.True(t, ok)
		require.GreaterOrEqual(t, loc.Record, last)
		last = loc.Record
	}

	assert.Equal(t, DefaultCapacity-1, last)
}

func TestRecordIndexResolveAfterEviction(t *testing.T) {
	i := NewRecordIndex(2)
	i.Insert(Record{Data: []byte("first\n")})
	i.Insert(Record{Data: []byte("second\n")})
	i.Insert(Record{Data: []byte("third\n")})

	rec, loc, ok := i.Resolve(0)
	require.True(t, ok)
	assert.Equal(t, "second\n", string(rec.Data))
	assert.Equal(t, Location{Record: 0, Offset: 0}, loc)
	assert.Equal(t, int64(13), i.Size())
}

func TestRecordIndexOffsetOf(t *testing.T) {
	i := NewRecordIndex(DefaultCapacity)
	i.Insert(Record{Data: []byte("a\n")})
	i.Insert(Record{Data: []byte("bb\n")})
	i.Insert(Record{Data: []byte("ccc\n")})

	off, err := i.OffsetOf(2, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(6), off)

	_, err = i.OffsetOf(3, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = i.OffsetOf(0, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordIndexDrain(t *testing.T) {
	i := NewRecordIndex(2)
	i.Insert(Record{Data: []byte("x\n")})
	i.Insert(Record{Data: []byte("y\n")})
	i.Insert(Record{Data: []byte("z\n")})

	drained := i.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "y\n", string(drained[0].Data))
	assert.Equal(t, "z\n", string(drained[1].Data))
	assert.Equal(t, 0, i.Len())
	assert.Empty(t, liveRecords(i))
}
