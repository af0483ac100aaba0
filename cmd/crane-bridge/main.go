package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ladiesman540/crane-platform"
)

//go:embed assets/banner.txt
var banner string

func main() {
	fmt.Print(banner)
	fmt.Println()
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "gateway", "opcua", "mqtt", "kafka", "simulate":
		err = runCommand(cmd, os.Args[2:])
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
		log.Fatalf("crane-bridge %s: %v", cmd, err)
	}
}

func loadConfig(fs *flag.FlagSet, args []string) (*crane.Config, error) {
	cfgPath := fs.String("config", os.Getenv("CRANE_CONFIG"), "Optional YAML config; environment variables override it")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := crane.LoadConfig(*cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func runCommand(source string, args []string) error {
	cfg, err := loadConfig(flag.NewFlagSet(source, flag.ExitOnError), args)
	if err != nil {
		return err
	}
	if err := cfg.ValidateBridge(source); err != nil {
		return err
	}

	fmt.Printf("source=%s api=%s key=%s metrics=%s\n",
		source, cfg.Bridge.APIURL, crane.MaskKey(cfg.Bridge.APIKey), cfg.Bridge.MetricsAddr)

	obs, metrics := crane.NewObservability(cfg.LogLevel)
	src, err := crane.NewSource(source, cfg, obs)
	if err != nil {
		return err
	}
	bridge, err := crane.NewBridge(cfg, src,
		crane.WithObservability(obs),
		crane.WithMetricsHandler(metrics),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return bridge.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	source := fs.String("source", "simulate", "Source to validate settings for (gateway|opcua|mqtt|kafka|simulate)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}
	if err := cfg.ValidateBridge(*source); err != nil {
		return err
	}
	fmt.Printf("bridge config for %s looks good ✅\n", *source)
	return nil
}

func printUsage() {
	fmt.Printf(`Crane telemetry bridge

Usage:
  crane-bridge <command> [flags]

Commands:
  gateway    Read JSON lines from a serial port fed by a gateway frame decoder
  opcua      Subscribe to OPC UA nodes and forward one reading per device
  mqtt       Consume sensor messages from an MQTT broker
  kafka      Consume sensor messages from a Kafka topic
  simulate   Generate synthetic readings for three devices
  validate   Check the configuration for a source without starting it

Environment:
  API_URL, API_KEY (required), SERIAL_PORT, BAUD_RATE, MQTT_URL, MQTT_TOPIC,
  MQTT_USER, MQTT_PASS, KAFKA_BROKERS, KAFKA_TOPIC, KAFKA_GROUP,
  OPCUA_ENDPOINT, INTERVAL, METRICS_ADDR, LOG_LEVEL

Examples:
  API_KEY=crane_xxx crane-bridge gateway
  API_KEY=crane_xxx MQTT_URL=tcp://broker:1883 crane-bridge mqtt
  crane-bridge simulate -config ./data/bridge.yaml
  crane-bridge validate -source opcua -config ./data/bridge.yaml
`)
}
