package server

import (
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

// Registry tracks running connection workers. A worker is reclaimed as soon
// as its function returns; Wait blocks until every worker has been
// reclaimed.
type Registry struct {
	logger log.Logger
	group  errgroup.Group

	mu     sync.Mutex
	live   map[string]io.Closer
	closed bool
}

// NewRegistry returns a registry running at most limit workers at once.
// Go blocks while the limit is reached. A limit <= 0 means no limit.
func NewRegistry(logger log.Logger, limit int) *Registry {
	r := &Registry{
		logger: logger,
		live:   make(map[string]io.Closer),
	}

	if limit > 0 {
		r.group.SetLimit(limit)
	}

	return r
}

// Go runs fn for the resource c under id. c is closed once fn returns, or
// right away if the registry has already been shut down.
func (r *Registry) Go(id string, c io.Closer, fn func() error) {
	r.group.Go(func() error {
		if !r.register(id, c) {
			c.Close()
			return nil
		}

		defer r.reclaim(id, c)

		if err := fn(); err != nil {
			level.Error(r.logger).Log("msg", "worker failed", "id", id, "err", err)
		}

		return nil
	})
}

func (r *Registry) register(id string, c io.Closer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	r.live[id] = c

	return true
}

func (r *Registry) reclaim(id string, c io.Closer) {
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()

	c.Close()
}

func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.live)
}

// CloseAll closes every live resource so blocked workers return, and makes
// later calls to Go close their resource without running.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	for id, c := range r.live {
		if err := c.Close(); err != nil {
			level.Debug(r.logger).Log("msg", "close on shutdown", "id", id, "err", err)
		}
	}
}

func (r *Registry) Wait() {
	_ = r.group.Wait()
}
