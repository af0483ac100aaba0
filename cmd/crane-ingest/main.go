package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

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
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("crane-ingest %s: %v", cmd, err)
	}
}

func loadConfig(name string, args []string) (*crane.Config, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", os.Getenv("CRANE_CONFIG"), "Optional YAML config; environment variables override it")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := crane.LoadConfig(*cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateGate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runCommand(args []string) error {
	cfg, err := loadConfig("run", args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := crane.NewIngestServer(ctx, cfg)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func validateCommand(args []string) error {
	cfg, err := loadConfig("validate", args)
	if err != nil {
		return err
	}
	fmt.Printf("gate config looks good ✅ (store=%s, keys=%d, sensors=%d)\n",
		cfg.Gate.Store.Backend, len(cfg.Gate.APIKeys), len(cfg.Gate.Sensors))
	return nil
}

func printUsage() {
	fmt.Printf(`Crane ingestion gate

Usage:
  crane-ingest <command> [flags]

Commands:
  run        Serve /api/v1/ingest, /api/v1/readings, /ws, /health and /metrics
  validate   Load and validate the gate configuration without serving

Environment:
  LISTEN_ADDR, INGEST_API_KEYS (required, comma separated), STORE_BACKEND
  (memory|journal|postgres|redis|dynamodb), DATABASE_URL, REDIS_ADDR,
  DYNAMODB_TABLE_NAME, JOURNAL_DIR, NATS_URL, ALERT_SUBJECT, LOG_LEVEL

Examples:
  INGEST_API_KEYS=crane_xxx crane-ingest run
  STORE_BACKEND=postgres DATABASE_URL=postgres://... crane-ingest run
  crane-ingest validate -config ./data/gate.yaml
`)
}
