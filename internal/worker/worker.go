// Package worker drains the activity analysis queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"peaklogger/internal/logging"
	"peaklogger/internal/metrics"
	"peaklogger/internal/sentry"
	"peaklogger/internal/storage"
	"peaklogger/internal/strava"
)

const (
	DefaultMaxAttempts  = 5
	defaultPollInterval = 2 * time.Second
	baseRetryDelay      = 30 * time.Second
	maxRetryDelay       = 10 * time.Minute
	minRateLimitDelay   = 5 * time.Minute
)

type Processor interface {
	Process(ctx context.Context, userStravaID, activityID int64) error
}

type Worker struct {
	Store        storage.Store
	Processor    Processor
	PollInterval time.Duration
	MaxAttempts  int
	Now          func() time.Time
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// ProcessNext handles the next due queue item. It reports false when
// nothing was due. A failed analysis is rescheduled, or marked failed once
// it has used up its attempts; only store errors are returned.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	item, err := w.Store.ClaimQueueItem(ctx, w.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	log := logging.Ctx(ctx).With().
		Int64("queue_id", item.ID).
		Int64("athlete_id", item.UserStravaID).
		Int64("activity_id", item.ActivityID).
		Int("attempt", item.Attempts).
		Logger()

	procErr := w.Processor.Process(ctx, item.UserStravaID, item.ActivityID)
	// The outcome is recorded even when shutdown cancelled ctx mid-analysis.
	storeCtx := context.WithoutCancel(ctx)
	if procErr == nil {
		metrics.QueueJobs.WithLabelValues("done").Inc()
		return true, w.Store.MarkQueueItemDone(storeCtx, item.ID)
	}

	if ctx.Err() != nil {
		log.Info().Err(procErr).Msg("analysis interrupted, returning activity to the queue")
		metrics.QueueJobs.WithLabelValues("released").Inc()
		return true, w.Store.ReleaseQueueItem(storeCtx, item.ID)
	}

	if item.Attempts >= w.maxAttempts() {
		log.Error().Err(procErr).Msg("activity analysis failed, giving up")
		metrics.QueueJobs.WithLabelValues("failed").Inc()
		sentry.CaptureException(procErr, map[string]string{
			"component":   "worker",
			"activity_id": strconv.FormatInt(item.ActivityID, 10),
		})
		return true, w.Store.MarkQueueItemFailed(storeCtx, item.ID, procErr.Error())
	}

	delay := RetryDelay(item.Attempts, procErr)
	log.Warn().Err(procErr).Dur("retry_in", delay).Msg("activity analysis failed, will retry")
	metrics.QueueJobs.WithLabelValues("retry").Inc()
	return true, w.Store.MarkQueueItemRetry(storeCtx, item.ID, procErr.Error(), w.now().Add(delay))
}

// RetryDelay doubles from 30s per attempt up to 10 minutes. Strava rate
// limiting waits for Retry-After when given, otherwise at least 5 minutes.
func RetryDelay(attempt int, err error) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	if strava.IsRateLimited(err) {
		if retryAfter, ok := strava.RateLimitBackoff(err); ok && retryAfter > 0 {
			return retryAfter
		}
		if delay < minRateLimitDelay {
			delay = minRateLimitDelay
		}
	}
	return delay
}

func (w *Worker) maxAttempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Serve drains the queue until ctx is done, sleeping PollInterval whenever
// the queue is empty.
func (w *Worker) Serve(ctx context.Context) error {
	poll := w.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logging.Info().Dur("poll_interval", poll).Msg("queue worker started")

	// Items still running belong to a worker that died before recording them.
	if n, err := w.Store.ResetRunningQueueItems(ctx); err != nil {
		return fmt.Errorf("reset running queue items: %w", err)
	} else if n > 0 {
		logging.Warn().Int("count", n).Msg("requeued interrupted activities")
	}

	for {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			logging.Error().Err(err).Msg("queue worker store error")
			sentry.CaptureException(err, map[string]string{"component": "worker"})
		}
		if depth, err := w.Store.CountQueue(ctx); err == nil {
			metrics.QueueDepth.Set(float64(depth))
		}
		if processed && err == nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (w *Worker) String() string {
	return "queue-worker"
}
