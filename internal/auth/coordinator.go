package auth

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// refreshFunc matches Refresher.Refresh.
type refreshFunc func(ctx context.Context) (string, error)

// outcome is the shared settlement of one refresh operation.
type outcome struct {
	access string
	err    error
}

// Coordinator guarantees at most one refresh call is in flight process-wide.
// The first caller that observes Idle owns the refresh; every caller that
// arrives while it runs joins a FIFO waiter queue and is resumed with the
// owner's settlement. Waiters never trigger their own refresh: a denied
// refresh fails the whole queue together.
type Coordinator struct {
	mu         sync.Mutex
	refreshing bool
	waiters    []chan outcome
	refresh    refreshFunc
}

// NewCoordinator creates a coordinator around the given refresher.
func NewCoordinator(r *Refresher) *Coordinator {
	return newCoordinator(r.Refresh)
}

func newCoordinator(fn refreshFunc) *Coordinator {
	return &Coordinator{refresh: fn}
}

// Refresh returns the next valid access token, coalescing concurrent calls
// into a single refresh operation. The context only governs this caller's
// wait; an owner's refresh keeps running for the benefit of other waiters.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.refreshing {
		ch := make(chan outcome, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case out := <-ch:
			return out.access, out.err
		}
	}
	c.refreshing = true
	c.mu.Unlock()

	access, err := c.refresh(ctx)
	c.settle(outcome{access: access, err: err})
	return access, err
}

// settle clears the in-flight flag and resumes waiters in enqueue order.
// The flag is cleared and the queue snapshotted in one critical section, so
// a request arriving after settlement starts a fresh refresh instead of
// receiving a stale result.
func (c *Coordinator) settle(out outcome) {
	c.mu.Lock()
	c.refreshing = false
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	if len(waiters) > 0 {
		log.WithField("waiters", len(waiters)).Debug("refresh settled, resuming queued requests")
	}
	for _, ch := range waiters {
		ch <- out
	}
}

// waiterCount reports how many requests are queued behind the in-flight
// refresh.
func (c *Coordinator) waiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
