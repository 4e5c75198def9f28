package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"classattend/internal/config"
	"classattend/internal/feed"
	"classattend/internal/roster"
	"classattend/internal/scheduler"
	"classattend/internal/session"
	"classattend/internal/store"
)

// The scheduler binary runs the sweep loop that auto-activates sessions whose
// scheduled start has passed and auto-closes sessions whose scheduled end has
// passed. It drives the same lifecycle service the API exposes to teachers.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var pub feed.Publisher
	if cfg.FeedBackend == "memory" {
		pub = feed.NewInMemory(64)
	} else {
		pub = feed.NewRedisFeed(redisClient.Client, "classattend:events")
	}

	repo := session.NewRepository(db.Client)
	dir := roster.NewRepository(db.Client)
	svc := session.NewService(repo, dir, pub, cfg.GracePeriod)

	sweeper := scheduler.New(svc, repo, cfg.SweepInterval)
	log.Printf("scheduler started, sweeping every %s", cfg.SweepInterval)
	sweeper.Run(ctx)
	log.Println("scheduler stopped")
}
