package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"presenca/internal/config"
	"presenca/internal/queue"
	"presenca/internal/store"
)

// Worker consumes check-in events and maintains the per-day attendance
// counters in redis that back the instructor's stats endpoint.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, counters will lag until it returns", cfg.RedisAddr)
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presenca:checkins")
	}

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for check-in events...")
	for evt := range events {
		if evt.Date == "" {
			log.Printf("skipping event without date: record %s", evt.RecordID)
			continue
		}
		if err := redisClient.IncrDailyCount(ctx, evt.Date); err != nil {
			log.Printf("counter update failed for %s (record %s): %v", evt.Date, evt.RecordID, err)
			continue
		}
		log.Printf("counted check-in %s for %s", evt.RecordID, evt.Date)
	}

	log.Println("worker stopped")
}
