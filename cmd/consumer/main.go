package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/gradeq/internal/config"
	"github.com/SirClappington/gradeq/internal/delivery"
	"github.com/SirClappington/gradeq/internal/notifier"
	"github.com/SirClappington/gradeq/internal/queue"
	"github.com/SirClappington/gradeq/internal/storage"
	"github.com/SirClappington/gradeq/internal/worker"
)

func main() {
	cfg := config.Load()
	log, _ := zap.NewProduction()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("connect postgres", zap.Error(err))
	}
	defer db.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	store := storage.New(db)
	lengths := queue.NewLengths(rdb)

	client := delivery.New(delivery.Options{
		BasicAuthUser: cfg.BasicAuthUser,
		BasicAuthPass: cfg.BasicAuthPass,
		VerifyTLS:     cfg.HTTPSVerify,
	}, log)
	lms := notifier.New(client, cfg.RequestsTimeout, log)

	g, ctx := errgroup.WithContext(ctx)
	for name, graderURL := range cfg.XQueues {
		if graderURL == "" {
			// Pull-only queue: served by the external grader interface,
			// no delivery workers.
			continue
		}
		if n, err := store.QueueLength(ctx, name); err == nil {
			_ = lengths.Reset(ctx, name, int64(n))
		}
		for i := 0; i < cfg.WorkersPerQueue; i++ {
			w := worker.New(worker.Config{
				QueueName:       name,
				GraderURL:       graderURL,
				ProcessingDelay: cfg.SubmissionProcessingDelay,
				PollInterval:    cfg.ConsumerDelay,
				GradingTimeout:  cfg.GradingTimeout,
			}, store, client, lms, lengths, log)
			g.Go(func() error { return w.Run(ctx) })
		}
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("consumer exited", zap.Error(err))
	}
}
