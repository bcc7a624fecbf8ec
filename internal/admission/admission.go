// Package admission decides whether a request may enter the job queue.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/JakeFAU/pinsave/internal/clock/system"
	"github.com/JakeFAU/pinsave/internal/media"
)

// Reason explains why a request was turned away.
type Reason string

// Rejection reasons.
const (
	ReasonNone       Reason = ""
	ReasonCooldown   Reason = "cooldown"
	ReasonGlobalFull Reason = "global_full"
	ReasonUserFull   Reason = "user_full"
)

// Decision is the outcome of an admission attempt.
type Decision struct {
	Admitted bool
	Reason   Reason
	// Position is the queue length right after a successful enqueue.
	Position int
}

// Limits configures the controller.
type Limits struct {
	Cooldown        time.Duration
	MaxQueuePerUser int
	GlobalLimit     int
}

// Controller enforces the per-requester cooldown and the queue quotas.
type Controller struct {
	limits Limits
	queue  media.Queue
	clock  media.Clock

	mu      sync.Mutex
	pending map[int64]int

	cooldownMu sync.Mutex
	last       map[int64]time.Time
}

// New constructs a Controller that admits jobs into q.
func New(limits Limits, q media.Queue, clock media.Clock) *Controller {
	if clock == nil {
		clock = system.New()
	}
	return &Controller{
		limits:  limits,
		queue:   q,
		clock:   clock,
		pending: make(map[int64]int),
		last:    make(map[int64]time.Time),
	}
}

// CheckCooldown reports whether requester may submit now. On success the
// request time is recorded; on failure the remaining wait is returned and
// nothing changes.
func (c *Controller) CheckCooldown(requester int64) (time.Duration, bool) {
	c.cooldownMu.Lock()
	defer c.cooldownMu.Unlock()
	now := c.clock.Now()
	if last, ok := c.last[requester]; ok {
		if elapsed := now.Sub(last); elapsed < c.limits.Cooldown {
			return c.limits.Cooldown - elapsed, false
		}
	}
	c.last[requester] = now
	return 0, true
}

// WaitSeconds rounds a remaining cooldown up to whole seconds.
func WaitSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// TryAdmit checks the global and per-requester quotas, then reserves a slot and
// enqueues job. All three steps happen under one lock; a rejection has no side
// effects.
func (c *Controller) TryAdmit(ctx context.Context, job media.Job) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queue.Len() >= c.limits.GlobalLimit {
		return Decision{Reason: ReasonGlobalFull}, nil
	}
	if c.pending[job.RequesterID] >= c.limits.MaxQueuePerUser {
		return Decision{Reason: ReasonUserFull}, nil
	}

	c.pending[job.RequesterID]++
	if err := c.queue.Enqueue(ctx, job); err != nil {
		c.decrementLocked(job.RequesterID)
		if errors.Is(err, media.ErrQueueFull) {
			return Decision{Reason: ReasonGlobalFull}, nil
		}
		return Decision{}, fmt.Errorf("enqueue job: %w", err)
	}
	return Decision{Admitted: true, Position: c.queue.Len()}, nil
}

// Release returns the slot held by requester once its job has finished.
func (c *Controller) Release(requester int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decrementLocked(requester)
}

// Pending returns the number of unfinished jobs held by requester.
func (c *Controller) Pending(requester int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[requester]
}

func (c *Controller) decrementLocked(requester int64) {
	n := c.pending[requester] - 1
	if n <= 0 {
		delete(c.pending, requester)
		return
	}
	c.pending[requester] = n
}
