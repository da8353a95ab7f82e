package storage

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// storeLock is a mutex whose acquisition can be abandoned through a context.
type storeLock struct {
	sem *semaphore.Weighted
}

func newStoreLock() storeLock {
	return storeLock{sem: semaphore.NewWeighted(1)}
}

func (l storeLock) lock(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrInterrupted
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ErrInterrupted
	}

	return nil
}

func (l storeLock) unlock() {
	l.sem.Release(1)
}
