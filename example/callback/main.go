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
	cfg, err := crane.LoadConfig("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	pub := crane.NewPublisher("embedded")
	bridge, err := crane.NewBridge(cfg, pub, crane.WithOutcomeHandler(func(r crane.Reading, o crane.Outcome) {
		fmt.Printf("%s addr=%s counter=%d outcome=%s\n",
			time.Now().Format(time.RFC3339Nano), r.DeviceAddress, r.SequenceCounter, o)
	}))
	if err != nil {
		log.Fatalf("bridge: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for v := 0.2; ; v += 0.1 {
			velocity := v
			r := crane.Reading{DeviceAddress: "00:13:A2:00:42:EX:01"}
			r.X.VelocityMMs = &velocity
			if err := pub.Publish(ctx, r); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	if err := bridge.Run(ctx); err != nil {
		log.Fatalf("bridge exited: %v", err)
	}
}
