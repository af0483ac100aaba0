package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/ladiesman540/crane-platform"
)

func main() {
	cfg, err := crane.LoadConfig("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.ValidateBridge("simulate"); err != nil {
		log.Fatalf("config: %v", err)
	}

	obs, metrics := crane.NewObservability(cfg.LogLevel)
	src, err := crane.NewSource("simulate", cfg, obs)
	if err != nil {
		log.Fatalf("source: %v", err)
	}
	bridge, err := crane.NewBridge(cfg, src, crane.WithObservability(obs), crane.WithMetricsHandler(metrics))
	if err != nil {
		log.Fatalf("bridge: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bridge.Run(ctx); err != nil {
		log.Fatalf("bridge exited: %v", err)
	}
}
