// Package router turns inbound chat messages into cached replays or queued jobs.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/admission"
	"github.com/JakeFAU/pinsave/internal/clock/system"
	"github.com/JakeFAU/pinsave/internal/media"
	"github.com/JakeFAU/pinsave/internal/metrics"
	"github.com/JakeFAU/pinsave/internal/replies"
	"github.com/JakeFAU/pinsave/internal/stats"
)

// Action describes what the router did with a message.
type Action string

// Router actions.
const (
	ActionIgnored   Action = "ignored"
	ActionNoLocator Action = "no_locator"
	ActionCooldown  Action = "cooldown"
	ActionCached    Action = "cached"
	ActionQueued    Action = "queued"
	ActionRejected  Action = "rejected"
)

// Inbound is a message received from the transport.
type Inbound struct {
	RequesterID int64  `json:"requester_id"`
	ChatID      int64  `json:"chat_id"`
	MessageID   int64  `json:"message_id"`
	Text        string `json:"text"`
}

// Result summarises how a message was handled.
type Result struct {
	Action      Action           `json:"action"`
	Locator     string           `json:"locator,omitempty"`
	JobID       string           `json:"job_id,omitempty"`
	Position    int              `json:"position,omitempty"`
	WaitSeconds int              `json:"wait_seconds,omitempty"`
	Reason      admission.Reason `json:"reason,omitempty"`
}

// BanChecker reports whether a requester is banned.
type BanChecker interface {
	Contains(id int64) bool
}

// Admitter is the admission surface used by the router.
type Admitter interface {
	CheckCooldown(requester int64) (wait time.Duration, ok bool)
	TryAdmit(ctx context.Context, job media.Job) (admission.Decision, error)
}

// Counter increments a persisted stats key.
type Counter interface {
	Inc(key string) error
}

// Deps bundles the router collaborators. Promo and Clock are optional.
type Deps struct {
	Bans      BanChecker
	Admission Admitter
	Cache     media.ArtifactCache
	Deliverer media.Deliverer
	Notifier  media.Notifier
	Stats     Counter
	IDs       media.IDGenerator
	Promo     *media.Promo
	Clock     media.Clock
}

// Router handles inbound messages on the caller's goroutine. It never blocks
// on the fetch pipeline.
type Router struct {
	deps   Deps
	logger *zap.Logger
}

// New constructs a Router.
func New(deps Deps, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	return &Router{deps: deps, logger: logger.Named("router")}
}

// Handle processes one inbound message. Replies are sent through the notifier;
// the returned error covers only failures that left no reply behind.
func (r *Router) Handle(ctx context.Context, in Inbound) (Result, error) {
	if r.deps.Bans != nil && r.deps.Bans.Contains(in.RequesterID) {
		r.logger.Debug("ignoring banned requester", zap.Int64("requester_id", in.RequesterID))
		return Result{Action: ActionIgnored}, nil
	}

	target := media.Target{ChatID: in.ChatID, ReplyTo: in.MessageID}
	locator, ok := media.ExtractLocator(in.Text)
	if !ok {
		r.reply(ctx, target, replies.NoLink)
		return Result{Action: ActionNoLocator}, nil
	}

	if wait, ok := r.deps.Admission.CheckCooldown(in.RequesterID); !ok {
		secs := admission.WaitSeconds(wait)
		metrics.ObserveRejection(string(admission.ReasonCooldown))
		r.reply(ctx, target, replies.Cooldown(secs))
		return Result{Action: ActionCooldown, Locator: locator, WaitSeconds: secs, Reason: admission.ReasonCooldown}, nil
	}

	r.inc(stats.TotalRequests)

	key := media.CacheKey(locator)
	if handle, ok := r.deps.Cache.Lookup(key); ok {
		if r.replay(ctx, target, key, handle) {
			return Result{Action: ActionCached, Locator: locator}, nil
		}
	} else {
		metrics.ObserveCacheLookup("miss")
	}

	return r.enqueue(ctx, in, target, locator)
}

// replay re-sends a cached handle. A stale handle is evicted and the caller
// falls through to a fresh fetch.
func (r *Router) replay(ctx context.Context, target media.Target, key, handle string) bool {
	err := r.deps.Deliverer.Replay(ctx, target, handle)
	if err != nil {
		metrics.ObserveCacheLookup("stale")
		r.logger.Info("cached handle replay failed, refetching", zap.String("locator", key), zap.Error(err))
		if invErr := r.deps.Cache.Invalidate(key); invErr != nil {
			r.logger.Warn("cache invalidate failed", zap.String("locator", key), zap.Error(invErr))
		}
		return false
	}
	metrics.ObserveCacheLookup("hit")
	r.inc(stats.ServedFromCache)
	if promo := r.deps.Promo.Text(); promo != "" {
		r.reply(ctx, target, promo)
	}
	return true
}

func (r *Router) enqueue(ctx context.Context, in Inbound, target media.Target, locator string) (Result, error) {
	id, err := r.deps.IDs.NewID()
	if err != nil {
		r.inc(stats.Errors)
		r.reply(ctx, target, replies.Failed)
		return Result{}, fmt.Errorf("generate job id: %w", err)
	}
	job := media.Job{
		ID:              id,
		RequesterID:     in.RequesterID,
		ChatID:          in.ChatID,
		Locator:         locator,
		OriginMessageID: in.MessageID,
		Submitted:       r.deps.Clock.Now(),
	}

	decision, err := r.deps.Admission.TryAdmit(ctx, job)
	if err != nil {
		r.reply(ctx, target, replies.Overloaded)
		if errors.Is(err, media.ErrQueueClosed) {
			return Result{Action: ActionRejected, Locator: locator}, nil
		}
		return Result{}, fmt.Errorf("admit job: %w", err)
	}
	if !decision.Admitted {
		metrics.ObserveRejection(string(decision.Reason))
		text := replies.Overloaded
		if decision.Reason == admission.ReasonUserFull {
			text = replies.UserFull
		}
		r.reply(ctx, target, text)
		return Result{Action: ActionRejected, Locator: locator, Reason: decision.Reason}, nil
	}

	metrics.SetQueueDepth(decision.Position)
	r.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.Int64("requester_id", job.RequesterID),
		zap.String("locator", locator),
		zap.Int("position", decision.Position),
	)
	r.reply(ctx, target, replies.Queued(decision.Position))
	return Result{Action: ActionQueued, Locator: locator, JobID: job.ID, Position: decision.Position}, nil
}

func (r *Router) reply(ctx context.Context, target media.Target, text string) {
	msg := media.Message{ChatID: target.ChatID, ReplyTo: target.ReplyTo, Text: text}
	if err := r.deps.Notifier.Send(ctx, msg); err != nil {
		r.logger.Warn("reply failed", zap.Int64("chat_id", target.ChatID), zap.Error(err))
	}
}

func (r *Router) inc(key string) {
	if err := r.deps.Stats.Inc(key); err != nil {
		r.logger.Warn("stats update failed", zap.String("key", key), zap.Error(err))
	}
}
