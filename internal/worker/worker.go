// Package worker runs the push-delivery loop: lease the oldest eligible
// submission, POST it to the bound grader, return the outcome to the LMS,
// retire the row. One Worker serves one (queue, grader endpoint) binding
// and is strictly sequential; throughput comes from running several.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/SirClappington/gradeq/internal/domain"
)

// Store is the slice of the queue store the worker needs. LeaseNextPush
// must be an atomic claim: concurrent calls never hand the same submission
// to two workers.
type Store interface {
	LeaseNextPush(ctx context.Context, queue, graderID string, now time.Time, delay time.Duration) (*domain.Submission, error)
	Finalize(ctx context.Context, sub *domain.Submission) error
}

// Poster is the outbound HTTP dependency, satisfied by delivery.Client.
type Poster interface {
	Post(ctx context.Context, url string, body []byte, timeout time.Duration) (bool, string)
}

// Notifier reports grading outcomes back to the LMS.
type Notifier interface {
	PostGrade(ctx context.Context, rawHeader, body string) bool
	PostFailure(ctx context.Context, rawHeader string) bool
}

// Gauge tracks queue lengths for observability. May be nil.
type Gauge interface {
	Decr(ctx context.Context, queue string) error
	Get(ctx context.Context, queue string) (int64, error)
}

type Config struct {
	QueueName string
	GraderURL string

	// ProcessingDelay is the visibility timeout: a claim older than this is
	// considered abandoned and the submission becomes eligible again. This
	// is the sole crash-recovery mechanism and makes delivery at-least-once
	// after a worker crash.
	ProcessingDelay time.Duration
	// PollInterval is the sleep between empty polls.
	PollInterval   time.Duration
	GradingTimeout time.Duration
}

// Worker delivers submissions to a single grader endpoint. A pushed
// submission gets exactly one grading attempt: whatever the outcome, it is
// retired. There is no requeue on grading failure.
type Worker struct {
	cfg      Config
	store    Store
	client   Poster
	notifier Notifier
	gauge    Gauge
	log      *zap.Logger
}

func New(cfg Config, store Store, client Poster, notifier Notifier, gauge Gauge, log *zap.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		store:    store,
		client:   client,
		notifier: notifier,
		gauge:    gauge,
		log: log.With(
			zap.String("queue", cfg.QueueName),
			zap.String("grader", cfg.GraderURL)),
	}
}

// Run polls until ctx is cancelled. Per-submission failures are absorbed
// here; nothing a single bad submission does can stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("starting consumer")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("consumer stopped")
			return ctx.Err()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	sub, err := w.store.LeaseNextPush(ctx, w.cfg.QueueName, w.cfg.GraderURL,
		time.Now().UTC(), w.cfg.ProcessingDelay)
	if err != nil {
		// Store trouble is fatal for this iteration only; the next tick
		// starts fresh.
		w.log.Error("lease failed", zap.Error(err))
		return
	}
	if sub == nil {
		return
	}
	w.deliver(ctx, sub)
}

func (w *Worker) deliver(ctx context.Context, sub *domain.Submission) {
	payload, err := json.Marshal(domain.GraderPayload{
		Body:  sub.XQueueBody,
		Files: sub.URLs,
	})
	if err != nil {
		w.log.Error("marshal grader payload", zap.String("submission", sub.ID), zap.Error(err))
		return
	}

	start := time.Now()
	ok, reply := w.client.Post(ctx, w.cfg.GraderURL, payload, w.cfg.GradingTimeout)
	elapsed := time.Since(start)

	// The transport already enforced the timeout; this is a signal for
	// operators watching grader latency.
	if elapsed > w.cfg.GradingTimeout {
		w.log.Error("grading time above timeout",
			zap.String("submission", sub.ID),
			zap.Duration("grading_time", elapsed),
			zap.String("body", sub.XQueueBody),
			zap.String("files", sub.URLs))
	}

	now := time.Now().UTC()
	sub.ReturnTime = &now

	if ok {
		sub.GraderReply = reply
		sub.LMSAck = w.notifier.PostGrade(ctx, sub.XQueueHeader, reply)
	} else {
		w.log.Error("submission delivery failed",
			zap.String("submission", sub.ID),
			zap.String("reply", reply))
		sub.NumFailures++
		sub.LMSAck = w.notifier.PostFailure(ctx, sub.XQueueHeader)
	}

	// One shot per pushed submission, success or not.
	sub.Retired = true

	if err := w.store.Finalize(ctx, sub); err != nil {
		w.log.Error("finalize failed", zap.String("submission", sub.ID), zap.Error(err))
		return
	}

	if w.gauge != nil {
		if err := w.gauge.Decr(ctx, w.cfg.QueueName); err == nil {
			if n, err := w.gauge.Get(ctx, w.cfg.QueueName); err == nil {
				w.log.Info("submission delivered",
					zap.String("submission", sub.ID),
					zap.Bool("graded", ok),
					zap.Bool("lms_ack", sub.LMSAck),
					zap.Int64("queue_len", n))
				return
			}
		}
	}
	w.log.Info("submission delivered",
		zap.String("submission", sub.ID),
		zap.Bool("graded", ok),
		zap.Bool("lms_ack", sub.LMSAck))
}
