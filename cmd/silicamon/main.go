package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"silicamon/internal/config"
	"silicamon/internal/logger"
	"silicamon/internal/pipeline"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("pipeline init: %v", err)
	}

	// run pipeline in background
	go func() {
		if err := p.Run(ctx); err != nil {
			log.Printf("pipeline exited: %v", err)
			cancel()
		}
	}()

	// wait for termination signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Println("shutting down")
		cancel()
	case <-ctx.Done():
	}

	// give graceful shutdown some time
	time.Sleep(500 * time.Millisecond)
	log.Println("exited")
}
