package main

import (
	"io"
	gosyslog "log/syslog"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-kit/log/syslog"
	"github.com/pkg/errors"

	"ringlog/config"
)

const syslogIdentity = "aesdsocketd"

// levelLogger filters by a level that can be changed while the process
// runs.
type levelLogger struct {
	base    log.Logger
	current atomic.Pointer[log.Logger]
}

func newLevelLogger(base log.Logger, name string) (*levelLogger, error) {
	l := &levelLogger{base: base}

	if err := l.SetLevel(name); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *levelLogger) SetLevel(name string) error {
	option, err := config.LevelOption(name)

	if err != nil {
		return err
	}

	filtered := level.NewFilter(l.base, option)
	l.current.Store(&filtered)

	return nil
}

func (l *levelLogger) Log(keyvals ...interface{}) error {
	return (*l.current.Load()).Log(keyvals...)
}

// newLogger writes logfmt to out, or to syslog in daemon mode.
func newLogger(out io.Writer, daemon bool, name string) (*levelLogger, error) {
	var base log.Logger

	if daemon {
		w, err := gosyslog.New(gosyslog.LOG_INFO|gosyslog.LOG_USER, syslogIdentity)

		if err != nil {
			return nil, errors.Wrap(err, "connect to syslog")
		}

		base = syslog.NewSyslogLogger(w, log.NewLogfmtLogger)
	} else {
		base = log.NewLogfmtLogger(log.NewSyncWriter(out))
		base = log.With(base, "ts", log.DefaultTimestampUTC)
	}

	return newLevelLogger(base, name)
}
