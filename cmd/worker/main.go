package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"classroll/internal/attendance"
	"classroll/internal/config"
	"classroll/internal/feed"
	"classroll/internal/jobs"
	"classroll/internal/store"
)

// Worker closes events whose day has passed on a schedule, so stale events
// and their live-feed buffer are cleaned up even when no request arrives.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := attendance.NewRepository(db.Client)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	redisOpts, err := store.RedisOptions(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("invalid REDIS_ADDR: %v", err)
	}
	rdb, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("redis client failed: %v", err)
	}
	defer rdb.Close()

	live := feed.New(feed.NewRedisBroker(rdb.Client), feed.Options{
		Topic:    cfg.FeedTopic,
		SeenKey:  cfg.FeedSeenKey,
		Location: cfg.Location,
	})
	events := attendance.NewLifecycle(repo, live, cfg.Location)

	// Sweep once on startup before waiting for the schedule.
	if _, err := events.CloseStale(ctx, time.Now()); err != nil {
		log.Printf("initial close-stale sweep failed: %v", err)
	}

	asynqRedis := asynq.RedisClientOpt{Addr: redisOpts.Addr, Password: redisOpts.Password, DB: redisOpts.DB}

	scheduler := asynq.NewScheduler(asynqRedis, &asynq.SchedulerOpts{Location: cfg.Location})
	entryID, err := scheduler.Register(cfg.CloseStaleCron, jobs.NewCloseStaleTask(), asynq.Unique(time.Minute))
	if err != nil {
		log.Fatalf("register close-stale schedule failed: %v", err)
	}
	log.Printf("close-stale scheduled (%s) entry=%s", cfg.CloseStaleCron, entryID)

	srv := asynq.NewServer(asynqRedis, asynq.Config{Concurrency: 2})
	if err := srv.Start(jobs.NewMux(events)); err != nil {
		log.Fatalf("worker start failed: %v", err)
	}
	if err := scheduler.Start(); err != nil {
		log.Fatalf("scheduler start failed: %v", err)
	}
	log.Println("worker started, waiting for tasks...")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutdown signal received")

	scheduler.Shutdown()
	srv.Shutdown()
	log.Println("worker stopped")
}
