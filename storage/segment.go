package storage

import (
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/prometheus/tsdb/wlog"
)

// dataFile is the flat file behind a FileStore: records concatenated in
// insertion order, no header. Writes, Stat and Sync go through the
// append-only wlog.SegmentFile handle, which any segment implementation can
// stand in for; reads use a separate *os.File so replays never move the
// write position.
type dataFile struct {
	wlog.SegmentFile
	path   string
	reader *os.File
}

func createDataFile(path string) (*dataFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0o644)

	if err != nil {
		return nil, errors.Wrapf(err, "create data file %s", path)
	}

	r, err := os.Open(path)

	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "open data file %s for reading", path)
	}

	return &dataFile{
		SegmentFile: f,
		path:        path,
		reader:      r,
	}, nil
}

func (d *dataFile) size() (int64, error) {
	stat, err := d.Stat()

	if err != nil {
		return 0, err
	}

	return stat.Size(), nil
}

// truncate drops a torn tail left by a failed write.
func (d *dataFile) truncate(size int64) error {
	return os.Truncate(d.path, size)
}

func (d *dataFile) Close() error {
	rerr := d.reader.Close()

	if err := d.SegmentFile.Close(); err != nil {
		return err
	}

	return rerr
}

func (d *dataFile) remove() error {
	return os.Remove(d.path)
}
