package storage

import "bytes"

// pending holds bytes received since the last delimiter.
type pending struct {
	buf []byte
}

func (p *pending) Len() int {
	return len(p.buf)
}

// feed appends data and calls flush once per completed line, in order. It
// returns how many bytes of data were committed. When a flush fails, the
// failed line and the rest of data are dropped: the accumulator goes back to
// what it held before the call, or to empty once an earlier flush in the
// same call has consumed those bytes.
func (p *pending) feed(data []byte, flush func(line []byte) error) (int, error) {
	prior := len(p.buf)
	scanFrom := prior
	p.buf = append(p.buf, data...)

	committed := 0

	for {
		idx := bytes.IndexByte(p.buf[scanFrom:], Delimiter)

		if idx < 0 {
			return len(data), nil
		}

		end := scanFrom + idx + 1
		line := make([]byte, end)
		copy(line, p.buf[:end])

		if err := flush(line); err != nil {
			if committed == 0 {
				p.buf = p.buf[:prior]
			} else {
				p.buf = nil
			}

			return committed, err
		}

		// The first line also carries the prior bytes, which are not part of
		// data.
		committed += end - prior
		prior = 0

		rest := make([]byte, len(p.buf)-end)
		copy(rest, p.buf[end:])
		p.buf = rest
		scanFrom = 0
	}
}

func (p *pending) reset() {
	p.buf = nil
}
