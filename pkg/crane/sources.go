package crane

import (
	"fmt"

	"github.com/ladiesman540/crane-platform/internal/adapters/broker"
	"github.com/ladiesman540/crane-platform/internal/adapters/gateway"
	"github.com/ladiesman540/crane-platform/internal/adapters/simulator"
	"github.com/ladiesman540/crane-platform/internal/app/config"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// NewSource builds the source adapter named by kind from cfg. Each source
// gets its own sequencer for devices that omit their counter.
func NewSource(kind string, cfg *config.Config, obs ports.Observability) (ports.Source, error) {
	seq := gateway.NewSequencer()
	switch kind {
	case config.SourceGateway:
		return gateway.NewSerialSource(cfg.Bridge.Serial, gateway.NewEventNormalizer(seq), obs), nil
	case config.SourceOPCUA:
		return gateway.NewOPCUASource(cfg.Bridge.OPCUA, gateway.NewEventNormalizer(seq), obs)
	case config.SourceMQTT:
		return broker.NewMQTTSource(cfg.Bridge.MQTT, broker.NewMessageNormalizer(seq), obs), nil
	case config.SourceKafka:
		return broker.NewKafkaSource(cfg.Bridge.Kafka, broker.NewMessageNormalizer(seq), obs), nil
	case config.SourceSimulate:
		sim := simulator.Config{
			Interval: cfg.Bridge.Simulator.Interval,
			Seed:     cfg.Bridge.Simulator.Seed,
		}
		return simulator.NewSource(sim, gateway.NewEventNormalizer(seq), obs), nil
	default:
		return nil, fmt.Errorf("unknown source %q", kind)
	}
}
