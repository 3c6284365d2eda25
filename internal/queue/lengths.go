// Package queue keeps per-queue length counters in Redis. Postgres stays
// the queue of record; these counters are the cheap read path for the
// queue_len endpoint and the worker's post-delivery log line.
package queue

import (
	"context"

	r "github.com/redis/go-redis/v9"
)

type Lengths struct{ rdb *r.Client }

func NewLengths(rdb *r.Client) *Lengths { return &Lengths{rdb} }

func key(queue string) string { return "qlen:" + queue }

func (l *Lengths) Incr(ctx context.Context, queue string) error {
	return l.rdb.Incr(ctx, key(queue)).Err()
}

// Decr floors at zero so a restart with stale counters cannot go negative.
func (l *Lengths) Decr(ctx context.Context, queue string) error {
	n, err := l.rdb.Decr(ctx, key(queue)).Result()
	if err != nil {
		return err
	}
	if n < 0 {
		return l.rdb.Set(ctx, key(queue), 0, 0).Err()
	}
	return nil
}

func (l *Lengths) Get(ctx context.Context, queue string) (int64, error) {
	n, err := l.rdb.Get(ctx, key(queue)).Int64()
	if err == r.Nil {
		return 0, nil
	}
	return n, err
}

// Reset pins a counter to the authoritative count from the store, used at
// consumer startup.
func (l *Lengths) Reset(ctx context.Context, queue string, n int64) error {
	return l.rdb.Set(ctx, key(queue), n, 0).Err()
}
