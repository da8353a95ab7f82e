package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"ringlog/device"
	"ringlog/storage"
)

var ErrLineTooLong = errors.New("line exceeds maximum length")

// Worker serves one connection: every received line is appended to the
// store and the whole log is sent back.
type Worker struct {
	logger  log.Logger
	metrics *ServerMetrics
	store   storage.Store
	conn    net.Conn
	options Options
}

func NewWorker(logger log.Logger, metrics *ServerMetrics, store storage.Store, conn net.Conn, options Options) *Worker {
	if options.MaxLineLength <= 0 {
		options.MaxLineLength = DefaultMaxLineLength
	}

	return &Worker{
		logger:  logger,
		metrics: metrics,
		store:   store,
		conn:    conn,
		options: options,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	reader := bufio.NewReader(w.conn)

	for {
		if w.options.ReadTimeout > 0 {
			w.conn.SetReadDeadline(time.Now().Add(w.options.ReadTimeout))
		}

		line, rerr := w.readLine(reader)

		if errors.Is(rerr, ErrLineTooLong) {
			return rerr
		}

		if len(line) > 0 {
			if err := w.handle(ctx, line); err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}

				return err
			}
		}

		if errors.Is(rerr, io.EOF) {
			return nil
		}

		if rerr != nil {
			if ctx.Err() != nil || errors.Is(rerr, net.ErrClosed) {
				return nil
			}

			return errors.Wrap(rerr, "receive")
		}
	}
}

// readLine reads up to and including the next delimiter. A line longer than
// MaxLineLength fails with ErrLineTooLong before it is buffered in full.
func (w *Worker) readLine(reader *bufio.Reader) ([]byte, error) {
	var line []byte

	for {
		chunk, err := reader.ReadSlice(storage.Delimiter)

		if len(line)+len(chunk) > w.options.MaxLineLength {
			return nil, errors.Wrapf(ErrLineTooLong, "more than %d bytes", w.options.MaxLineLength)
		}

		line = append(line, chunk...)

		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, err
		}
	}
}

func (w *Worker) handle(ctx context.Context, line []byte) error {
	cmd, ok, err := device.ParseCommand(line)

	if ok {
		w.metrics.seekCommands.Inc()

		if err != nil {
			level.Warn(w.logger).Log("msg", "ignoring seek command", "err", err)
			return nil
		}

		return w.seek(ctx, cmd)
	}

	// Only delimited lines are logged; a fragment cut off by end of stream
	// is dropped.
	if line[len(line)-1] != storage.Delimiter {
		level.Debug(w.logger).Log("msg", "dropping unterminated fragment", "bytes", len(line))
		return nil
	}

	if _, err := w.store.Append(ctx, line); err != nil {
		return errors.Wrap(err, "append")
	}

	w.metrics.linesReceived.Inc()
	w.setWriteDeadline()

	if _, err := w.store.ReadAll(ctx, w.conn); err != nil {
		return errors.Wrap(err, "send log")
	}

	return nil
}

func (w *Worker) seek(ctx context.Context, cmd device.Command) error {
	seekTo, ok := cmd.(device.SeekTo)

	if !ok {
		level.Warn(w.logger).Log("msg", "unsupported command")
		return nil
	}

	cursor := storage.NewCursor(ctx, w.store)

	if _, err := cursor.SeekToRecord(seekTo.Record, seekTo.Offset); err != nil {
		level.Warn(w.logger).Log("msg", "seek failed", "record", seekTo.Record, "offset", seekTo.Offset, "err", err)
		return nil
	}

	w.setWriteDeadline()

	if _, err := cursor.WriteTo(w.conn); err != nil {
		return errors.Wrap(err, "send log from seek position")
	}

	return nil
}

func (w *Worker) setWriteDeadline() {
	if w.options.WriteTimeout > 0 {
		w.conn.SetWriteDeadline(time.Now().Add(w.options.WriteTimeout))
	}
}
