package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ladiesman540/crane-platform"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "live":
		err = liveCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("crane-watch %s: %v", cmd, err)
	}
}

func liveCommand(args []string) error {
	fs := flag.NewFlagSet("live", flag.ExitOnError)
	apiURL := fs.String("api", envOr("API_URL", "http://localhost:8000"), "Ingestion gate base URL")
	apiKey := fs.String("key", os.Getenv("API_KEY"), "API key for the readings query")
	sensors := fs.String("sensors", "", "Comma separated sensor ids to preload")
	limit := fs.Int("limit", 50, "Readings to preload per sensor")
	refresh := fs.Duration("refresh", 30*time.Second, "Status table refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	merger := crane.NewMerger(0)
	snapshots := crane.NewSnapshotClient(*apiURL, *apiKey, nil)
	for _, id := range strings.Split(*sensors, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		list, err := snapshots.Recent(ctx, id, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "snapshot %s: %v\n", id, err)
			continue
		}
		merger.LoadSnapshot(id, list)
		fmt.Printf("loaded %d readings for %s\n", len(list), id)
	}

	sub := crane.NewSubscriber(wsURL(*apiURL), func(ev crane.LiveEvent) {
		now := time.Now()
		if !merger.HandleEvent(ev, now) {
			return
		}
		fmt.Printf("[%s] %-20s zone=%s %-10s v=%s battery=%s\n",
			now.Format(time.TimeOnly), ev.SensorID, ev.Zone, ev.Zone.Level(),
			formatFloat(ev.Reading.MaxVelocity()), formatInt(ev.Reading.BatteryPercent))
	}, crane.OnStateChange(func(s crane.ConnState) {
		fmt.Printf("live channel %s\n", s)
	}))

	go printStatusTable(ctx, merger, *refresh)

	fmt.Printf("Watching %s (Ctrl+C to stop)\n", wsURL(*apiURL))
	if err := sub.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func printStatusTable(ctx context.Context, merger *crane.Merger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, id := range merger.Sensors() {
				last, _ := merger.Latest(id)
				fmt.Printf("  %-20s %-12s zone=%s readings=%d\n",
					id, merger.Status(id, now), last.Zone, len(merger.Timeline(id)))
			}
		}
	}
}

func wsURL(apiURL string) string {
	u := strings.TrimRight(apiURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Bridge Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsTargets = []string{
	"crane_submit_accepted_total",
	"crane_submit_duplicate_total",
	"crane_submit_rejected_total",
	"crane_submit_transport_failures_total",
	"crane_readings_discarded_total",
	"crane_lane_queue_length",
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64, len(statsTargets))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsTargets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] accepted=%.0f duplicate=%.0f rejected=%.0f transport=%.0f discarded=%.0f queued=%.0f\n",
		time.Now().Format(time.RFC3339),
		values["crane_submit_accepted_total"],
		values["crane_submit_duplicate_total"],
		values["crane_submit_rejected_total"],
		values["crane_submit_transport_failures_total"],
		values["crane_readings_discarded_total"],
		values["crane_lane_queue_length"],
	)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func formatFloat(v *float64) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatInt(v *int) string {
	if v == nil {
		return "--"
	}
	return fmt.Sprintf("%d%%", *v)
}

func printUsage() {
	fmt.Printf(`Crane console dashboard

Usage:
  crane-watch <command> [flags]

Commands:
  live    Preload recent readings and follow the gate's live channel
  stats   Poll a bridge's Prometheus endpoint and print delivery counters

Examples:
  crane-watch live -api http://localhost:8000 -key crane_xxx -sensors D1,D2
  crane-watch stats -url http://localhost:9100/metrics -interval 1s
`)
}
