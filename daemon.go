package main

import (
	"net"
	"os"
	"os/exec"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	daemonEnv = "RINGLOG_DAEMONIZED"

	// First descriptor after stdio in the child's ExtraFiles.
	inheritedListenerFD = 3
)

func isDaemonChild() bool {
	return os.Getenv(daemonEnv) == "1"
}

// daemonize binds addr, so that a bind failure is still reported to the
// caller, then starts a copy of the process in a new session that inherits
// the listener. The parent returns once the child is running.
func daemonize(logger log.Logger, addr string) error {
	ln, err := net.Listen("tcp", addr)

	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}

	defer ln.Close()

	f, err := ln.(*net.TCPListener).File()

	if err != nil {
		return errors.Wrap(err, "duplicate listener")
	}

	defer f.Close()

	exe, err := os.Executable()

	if err != nil {
		return errors.Wrap(err, "locate executable")
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")
	cmd.ExtraFiles = []*os.File{f}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start daemon")
	}

	level.Info(logger).Log("msg", "Started daemon", "pid", cmd.Process.Pid, "addr", ln.Addr().String())

	return cmd.Process.Release()
}

// detach finishes turning the child into a daemon and returns the listener
// handed down by the parent.
func detach(logger log.Logger) (net.Listener, error) {
	unix.Umask(0)

	if err := os.Chdir("/"); err != nil {
		return nil, errors.Wrap(err, "chdir to /")
	}

	if sid, err := unix.Getsid(0); err != nil || sid != unix.Getpid() {
		level.Warn(logger).Log("msg", "daemon is not a session leader", "sid", sid, "err", err)
	}

	f := os.NewFile(inheritedListenerFD, "listener")
	defer f.Close()

	ln, err := net.FileListener(f)

	if err != nil {
		return nil, errors.Wrap(err, "inherit listener")
	}

	return ln, nil
}
