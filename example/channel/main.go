package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ladiesman540/crane-platform"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	events := make(chan crane.LiveEvent, 32)
	sub := crane.NewSubscriber("ws://localhost:8000/ws", func(ev crane.LiveEvent) {
		select {
		case events <- ev:
		default:
		}
	})

	go alertWorker("zone-watch", events)

	if err := sub.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("subscriber exited: %v", err)
	}
}

func alertWorker(name string, events <-chan crane.LiveEvent) {
	for ev := range events {
		if ev.Zone.String() == "C" || ev.Zone.String() == "D" {
			fmt.Printf("[%s] %s in zone %s at %s\n", name, ev.SensorID, ev.Zone, time.Now().Format(time.RFC3339))
		}
	}
}
