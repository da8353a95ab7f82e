package storage

// RecordIndex is a fixed-capacity ring of records. It does no locking of its
// own; callers serialize access.
type RecordIndex struct {
	entries []Record
	in      int // next slot to write
	out     int // oldest live slot
	full    bool
}

func NewRecordIndex(capacity int) *RecordIndex {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &RecordIndex{
		entries: make([]Record, capacity),
	}
}

func (i *RecordIndex) Cap() int {
	return len(i.entries)
}

func (i *RecordIndex) Len() int {
	if i.full {
		return len(i.entries)
	}

	return (i.in - i.out + len(i.entries)) % len(i.entries)
}

// Insert stores rec at the write cursor. When the ring is full the oldest
// record is evicted first and handed back to the caller.
func (i *RecordIndex) Insert(rec Record) (Record, bool) {
	var (
		evicted Record
		ok      bool
	)

	if i.full {
		evicted, ok = i.entries[i.out], true
		i.entries[i.out] = Record{}
		i.out = (i.out + 1) % len(i.entries)
	}

	i.entries[i.in] = rec
	i.in = (i.in + 1) % len(i.entries)
	i.full = i.in == i.out

	return evicted, ok
}

// At returns the n-th live record, oldest first.
func (i *RecordIndex) At(n int) (*Record, bool) {
	if n < 0 || n >= i.Len() {
		return nil, false
	}

	return &i.entries[(i.out+n)%len(i.entries)], true
}

// ForEach calls fn for every live record, oldest first, until fn returns false.
func (i *RecordIndex) ForEach(fn func(n int, rec *Record) bool) {
	count := i.Len()

	for n := 0; n < count; n++ {
		if !fn(n, &i.entries[(i.out+n)%len(i.entries)]) {
			return
		}
	}
}

// Size is the total number of live bytes.
func (i *RecordIndex) Size() int64 {
	var size int64

	i.ForEach(func(_ int, rec *Record) bool {
		size += rec.Len()
		return true
	})

	return size
}

// Resolve finds the record containing the global offset off. A byte on a
// record boundary belongs to the following record.
func (i *RecordIndex) Resolve(off int64) (*Record, Location, bool) {
	if off < 0 {
		return nil, Location{}, false
	}

	var (
		found    *Record
		loc      Location
		consumed int64
	)

	i.ForEach(func(n int, rec *Record) bool {
		if consumed+rec.Len() > off {
			found = rec
			loc = Location{Record: n, Offset: off - consumed}
			return false
		}

		consumed += rec.Len()
		return true
	})

	return found, loc, found != nil
}

// OffsetOf returns the global offset of byte offset within the n-th live
// record.
func (i *RecordIndex) OffsetOf(n int, offset int64) (int64, error) {
	rec, ok := i.At(n)

	if !ok || offset < 0 || offset >= rec.Len() {
		return 0, ErrNotFound
	}

	var before int64

	i.ForEach(func(k int, r *Record) bool {
		if k == n {
			return false
		}

		before += r.Len()
		return true
	})

	return before + offset, nil
}

// Drain empties the ring and returns all live records, oldest first.
func (i *RecordIndex) Drain() []Record {
	drained := make([]Record, 0, i.Len())

	i.ForEach(func(_ int, rec *Record) bool {
		drained = append(drained, *rec)
		return true
	})

	for n := range i.entries {
		i.entries[n] = Record{}
	}

	i.in, i.out, i.full = 0, 0, false

	return drained
}
