package device

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

// SeekToken is the in-band spelling of the SeekTo command:
// "AESDCHAR_IOCSEEKTO:<record>,<offset>\n".
const SeekToken = "AESDCHAR_IOCSEEKTO:"

var ErrMalformedCommand = errors.New("malformed device command")

// Command is a control operation accepted by File.Ioctl.
type Command interface {
	command()
}

// SeekTo moves a file position to byte Offset of live record Record, both
// 0-indexed with the oldest live record being 0.
type SeekTo struct {
	Record uint64
	Offset uint64
}

func (SeekTo) command() {}

// ParseCommand recognises the in-band form of a command in a received line.
// ok is false when the line is ordinary data.
func ParseCommand(line []byte) (cmd Command, ok bool, err error) {
	if !bytes.HasPrefix(line, []byte(SeekToken)) {
		return nil, false, nil
	}

	args := bytes.TrimRight(line[len(SeekToken):], "\r\n")
	record, offset, found := bytes.Cut(args, []byte{','})

	if !found {
		return nil, true, errors.Wrapf(ErrMalformedCommand, "%q", line)
	}

	r, err := strconv.ParseUint(string(bytes.TrimSpace(record)), 10, 32)

	if err != nil {
		return nil, true, errors.Wrapf(ErrMalformedCommand, "record in %q", line)
	}

	o, err := strconv.ParseUint(string(bytes.TrimSpace(offset)), 10, 32)

	if err != nil {
		return nil, true, errors.Wrapf(ErrMalformedCommand, "offset in %q", line)
	}

	return SeekTo{Record: r, Offset: o}, true, nil
}
