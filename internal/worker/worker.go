// Package worker implements the single-consumer fetch pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/clock/system"
	"github.com/JakeFAU/pinsave/internal/media"
	"github.com/JakeFAU/pinsave/internal/metrics"
	"github.com/JakeFAU/pinsave/internal/replies"
	"github.com/JakeFAU/pinsave/internal/scratch"
	"github.com/JakeFAU/pinsave/internal/stats"
)

// Config controls Worker behavior.
type Config struct {
	// MaxBytes is the largest artifact that will be delivered.
	MaxBytes int64
}

// Releaser frees the admission slot held by a requester.
type Releaser interface {
	Release(requester int64)
}

// Counter increments a persisted stats key.
type Counter interface {
	Inc(key string) error
}

// Deps bundles the collaborators used by the worker. History and Promo are
// optional.
type Deps struct {
	Queue     media.Queue
	Releaser  Releaser
	Extractor media.Extractor
	Deliverer media.Deliverer
	Notifier  media.Notifier
	Cache     media.ArtifactCache
	Stats     Counter
	Scratch   *scratch.Dir
	History   media.HistoryStore
	Promo     *media.Promo
	Clock     media.Clock
}

// Worker consumes jobs one at a time and runs the probe, fetch, and deliver
// pipeline for each.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

type result struct {
	outcome media.Outcome
	bytes   int64
	handle  string
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("worker"),
	}
}

// Run blocks, consuming jobs until the context finishes or the queue closes.
// A job that has been dequeued always runs to completion.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, media.ErrQueueClosed) {
				w.logger.Info("worker stopping")
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID))
		w.processJob(context.WithoutCancel(ctx), job)
	}
}

func (w *Worker) processJob(ctx context.Context, job media.Job) {
	start := w.deps.Clock.Now()
	prefix := w.deps.Scratch.Prefix(job.ID)
	rec := media.JobRecord{Job: job, StartedAt: start}
	metrics.SetWorkerBusy(true)
	metrics.SetQueueDepth(w.deps.Queue.Len())

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job panicked", zap.String("job_id", job.ID), zap.Any("panic", r))
			rec.Outcome = media.OutcomeFailed
			rec.ErrorText = fmt.Sprintf("panic: %v", r)
			w.fail(ctx, job)
		}
		w.deps.Scratch.Cleanup(prefix)
		w.deps.Releaser.Release(job.RequesterID)
		w.deps.Queue.Done()
		rec.FinishedAt = w.deps.Clock.Now()
		w.record(ctx, rec)
		metrics.SetWorkerBusy(false)
		metrics.SetQueueDepth(w.deps.Queue.Len())
	}()

	res, err := w.run(ctx, job, prefix)
	rec.Outcome = res.outcome
	rec.Bytes = res.bytes
	rec.Handle = res.handle
	if err != nil {
		w.logger.Error("job failed",
			zap.String("job_id", job.ID),
			zap.String("locator", job.Locator),
			zap.Error(err),
		)
		rec.Outcome = media.OutcomeFailed
		rec.ErrorText = err.Error()
		w.fail(ctx, job)
	}
}

func (w *Worker) run(ctx context.Context, job media.Job, prefix string) (result, error) {
	target := job.Target()
	w.notify(ctx, job, replies.Processing)

	estimate := w.probe(ctx, job)
	if estimate.Exceeds(w.cfg.MaxBytes) {
		w.rejectForSize(ctx, job, estimate.Bytes)
		return result{outcome: media.OutcomeRejectedForSize, bytes: estimate.Bytes}, nil
	}

	path, err := w.deps.Extractor.Fetch(ctx, media.FetchRequest{
		JobID:        job.ID,
		Locator:      job.Locator,
		OutputPrefix: prefix,
	})
	var sizeErr *media.SizeError
	if errors.As(err, &sizeErr) {
		w.rejectForSize(ctx, job, sizeErr.Bytes)
		return result{outcome: media.OutcomeRejectedForSize, bytes: sizeErr.Bytes}, nil
	}
	if err != nil {
		return result{}, fmt.Errorf("fetch: %w", err)
	}

	size, err := w.deps.Scratch.Size(path)
	if err != nil {
		w.logger.Warn("stat fetched file failed", zap.String("job_id", job.ID), zap.String("path", path), zap.Error(err))
	} else if size > w.cfg.MaxBytes {
		w.rejectForSize(ctx, job, size)
		return result{outcome: media.OutcomeRejectedForSize, bytes: size}, nil
	}

	handle, err := w.deps.Deliverer.Upload(ctx, target, path)
	if err != nil {
		return result{bytes: size}, fmt.Errorf("deliver: %w", err)
	}

	if err := w.deps.Cache.Put(media.CacheKey(job.Locator), handle); err != nil {
		w.logger.Warn("cache write failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	w.inc(stats.DownloadsOK)
	if promo := w.deps.Promo.Text(); promo != "" {
		w.notify(ctx, job, promo)
	}
	w.notify(ctx, job, replies.Done)

	w.logger.Info("job delivered",
		zap.String("job_id", job.ID),
		zap.Int64("requester_id", job.RequesterID),
		zap.Int64("bytes", size),
	)
	return result{outcome: media.OutcomeDelivered, bytes: size, handle: handle}, nil
}

// probe returns the size estimate for the job. Probe errors are not fatal:
// the estimate is unknown and the post-fetch check decides.
func (w *Worker) probe(ctx context.Context, job media.Job) media.SizeEstimate {
	info, err := w.deps.Extractor.Probe(ctx, job.Locator)
	if err != nil {
		w.logger.Warn("probe failed", zap.String("job_id", job.ID), zap.Error(err))
		return media.UnknownSize
	}
	return media.EstimateSize(info)
}

func (w *Worker) rejectForSize(ctx context.Context, job media.Job, size int64) {
	w.logger.Info("job rejected for size",
		zap.String("job_id", job.ID),
		zap.Int64("bytes", size),
		zap.Int64("limit", w.cfg.MaxBytes),
	)
	w.inc(stats.BlockedBig)
	w.notify(ctx, job, replies.TooLarge(size, w.cfg.MaxBytes))
}

func (w *Worker) fail(ctx context.Context, job media.Job) {
	w.inc(stats.Errors)
	w.notify(ctx, job, replies.Failed)
}

// notify sends text to the job's chat. A panicking notifier is contained here
// so that it cannot escape the job's deferred cleanup.
func (w *Worker) notify(ctx context.Context, job media.Job, text string) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("notifier panicked", zap.String("job_id", job.ID), zap.Any("panic", r))
		}
	}()
	target := job.Target()
	msg := media.Message{ChatID: target.ChatID, ReplyTo: target.ReplyTo, Text: text}
	if err := w.deps.Notifier.Send(ctx, msg); err != nil {
		w.logger.Warn("notify failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (w *Worker) inc(key string) {
	if err := w.deps.Stats.Inc(key); err != nil {
		w.logger.Warn("stats update failed", zap.String("key", key), zap.Error(err))
	}
}

func (w *Worker) record(ctx context.Context, rec media.JobRecord) {
	metrics.ObserveJob(string(rec.Outcome), rec.FinishedAt.Sub(rec.StartedAt), deliveredBytes(rec))
	if w.deps.History == nil {
		return
	}
	histCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := w.deps.History.RecordJob(histCtx, rec); err != nil {
		w.logger.Warn("record job history failed", zap.String("job_id", rec.Job.ID), zap.Error(err))
	}
}

func deliveredBytes(rec media.JobRecord) int64 {
	if rec.Outcome != media.OutcomeDelivered {
		return 0
	}
	return rec.Bytes
}
