package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ladiesman540/crane-platform/internal/adapters/broker"
	"github.com/ladiesman540/crane-platform/internal/adapters/gateway"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// Bridge source names accepted by ValidateBridge.
const (
	SourceGateway  = "gateway"
	SourceOPCUA    = "opcua"
	SourceMQTT     = "mqtt"
	SourceKafka    = "kafka"
	SourceSimulate = "simulate"
)

// Gate store backends.
const (
	StoreMemory   = "memory"
	StoreJournal  = "journal"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreDynamo   = "dynamodb"
)

type Config struct {
	LogLevel string       `yaml:"log_level"`
	Policy   ports.Policy `yaml:"policy"`
	Bridge   BridgeConfig `yaml:"bridge"`
	Gate     GateConfig   `yaml:"gate"`
}

type BridgeConfig struct {
	APIURL      string               `yaml:"api_url"`
	APIKey      string               `yaml:"api_key"`
	Timeout     time.Duration        `yaml:"timeout"`
	MetricsAddr string               `yaml:"metrics_addr"`
	Serial      gateway.SerialConfig `yaml:"serial"`
	OPCUA       gateway.OPCUAConfig  `yaml:"opcua"`
	MQTT        broker.MQTTConfig    `yaml:"mqtt"`
	Kafka       broker.KafkaConfig   `yaml:"kafka"`
	Simulator   SimulatorConfig      `yaml:"simulator"`
}

type SimulatorConfig struct {
	Interval time.Duration `yaml:"interval"`
	Seed     int64         `yaml:"seed"`
}

type GateConfig struct {
	ListenAddr string   `yaml:"listen_addr"`
	APIKeys    []string `yaml:"api_keys"`
	// Sensors maps device addresses to sensor ids. When set, unknown
	// addresses are refused.
	Sensors    map[string]string `yaml:"sensors"`
	Store      StoreConfig       `yaml:"store"`
	Alerts     AlertsConfig      `yaml:"alerts"`
	PingPeriod time.Duration     `yaml:"ping_period"`
	PongWait   time.Duration     `yaml:"pong_wait"`
}

type StoreConfig struct {
	Backend     string `yaml:"backend"`
	DatabaseURL string `yaml:"database_url"`
	Table       string `yaml:"table"`
	RedisAddr   string `yaml:"redis_addr"`
	DynamoTable string `yaml:"dynamodb_table"`
	JournalDir  string `yaml:"journal_dir"`
	Retention   int    `yaml:"retention"`
}

type AlertsConfig struct {
	NATSURL  string        `yaml:"nats_url"`
	Subject  string        `yaml:"subject"`
	Cooldown time.Duration `yaml:"cooldown"`
}

// Load reads an optional YAML file, applies environment overrides and fills
// defaults. Role-specific checks live in ValidateBridge and ValidateGate.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		var raw string
		str(key, &raw)
		if raw == "" {
			return
		}
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
	var errs []error
	num := func(key string, set func(int)) {
		var raw string
		str(key, &raw)
		if raw == "" {
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		set(n)
	}

	str("LOG_LEVEL", &c.LogLevel)

	str("API_URL", &c.Bridge.APIURL)
	str("API_KEY", &c.Bridge.APIKey)
	str("METRICS_ADDR", &c.Bridge.MetricsAddr)
	str("SERIAL_PORT", &c.Bridge.Serial.Port)
	num("BAUD_RATE", func(n int) { c.Bridge.Serial.BaudRate = n })
	str("MQTT_URL", &c.Bridge.MQTT.URL)
	str("MQTT_TOPIC", &c.Bridge.MQTT.Topic)
	str("MQTT_USER", &c.Bridge.MQTT.Username)
	str("MQTT_PASS", &c.Bridge.MQTT.Password)
	list("KAFKA_BROKERS", &c.Bridge.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Bridge.Kafka.Topic)
	str("KAFKA_GROUP", &c.Bridge.Kafka.GroupID)
	str("OPCUA_ENDPOINT", &c.Bridge.OPCUA.Endpoint)
	num("INTERVAL", func(n int) { c.Bridge.Simulator.Interval = time.Duration(n) * time.Second })

	str("LISTEN_ADDR", &c.Gate.ListenAddr)
	list("INGEST_API_KEYS", &c.Gate.APIKeys)
	str("STORE_BACKEND", &c.Gate.Store.Backend)
	str("DATABASE_URL", &c.Gate.Store.DatabaseURL)
	str("REDIS_ADDR", &c.Gate.Store.RedisAddr)
	str("DYNAMODB_TABLE_NAME", &c.Gate.Store.DynamoTable)
	str("JOURNAL_DIR", &c.Gate.Store.JournalDir)
	str("NATS_URL", &c.Gate.Alerts.NATSURL)
	str("ALERT_SUBJECT", &c.Gate.Alerts.Subject)

	return errors.Join(errs...)
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Policy.LaneMode == "" {
		c.Policy.LaneMode = ports.LaneModeDevice
	}
	if c.Policy.Lanes == 0 {
		c.Policy.Lanes = 8
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 1_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 50
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 50 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}

	if c.Bridge.APIURL == "" {
		c.Bridge.APIURL = "http://localhost:8000"
	}
	if c.Bridge.Timeout == 0 {
		c.Bridge.Timeout = 15 * time.Second
	}
	if c.Bridge.MetricsAddr == "" {
		c.Bridge.MetricsAddr = ":9100"
	}
	if c.Bridge.Simulator.Interval == 0 {
		c.Bridge.Simulator.Interval = 10 * time.Second
	}
	c.Bridge.Serial.ApplyDefaults()
	c.Bridge.OPCUA.ApplyDefaults()
	c.Bridge.MQTT.ApplyDefaults()
	c.Bridge.Kafka.ApplyDefaults()

	if c.Gate.ListenAddr == "" {
		c.Gate.ListenAddr = ":8000"
	}
	if c.Gate.Store.Backend == "" {
		c.Gate.Store.Backend = StoreMemory
	}
	if c.Gate.Store.JournalDir == "" {
		c.Gate.Store.JournalDir = "./data/journal"
	}
	if c.Gate.Store.Table == "" {
		c.Gate.Store.Table = "sensor_readings"
	}
	if c.Gate.Alerts.Cooldown == 0 {
		c.Gate.Alerts.Cooldown = 60 * time.Minute
	}
}

func (c *Config) validate() error {
	switch c.Policy.LaneMode {
	case ports.LaneModeDevice, ports.LaneModeHashed:
	default:
		return fmt.Errorf("policy.lane_mode must be device or hashed, got %q", c.Policy.LaneMode)
	}
	if c.Policy.Lanes < 1 {
		return errors.New("policy.lanes must be at least 1")
	}
	switch c.Policy.OnQueueFull {
	case "block", "drop":
	default:
		return fmt.Errorf("policy.on_queue_full must be block or drop, got %q", c.Policy.OnQueueFull)
	}
	return nil
}

// ValidateBridge checks what a bridge running source needs before it may
// start. A missing API key is always fatal.
func (c *Config) ValidateBridge(source string) error {
	if c.Bridge.APIKey == "" {
		return errors.New("API_KEY is required")
	}
	if c.Bridge.APIURL == "" {
		return errors.New("API_URL is required")
	}
	switch source {
	case SourceGateway:
		if c.Bridge.Serial.Port == "" {
			return errors.New("SERIAL_PORT is required")
		}
	case SourceOPCUA:
		if err := c.Bridge.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	case SourceMQTT:
		if c.Bridge.MQTT.URL == "" {
			return errors.New("MQTT_URL is required")
		}
	case SourceKafka:
		if len(c.Bridge.Kafka.Brokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
	case SourceSimulate:
		if c.Bridge.Simulator.Interval < 0 {
			return errors.New("INTERVAL must be positive")
		}
	default:
		return fmt.Errorf("unknown source %q", source)
	}
	return nil
}

// ValidateGate checks the ingestion gate settings.
func (c *Config) ValidateGate() error {
	if len(c.Gate.APIKeys) == 0 {
		return errors.New("INGEST_API_KEYS is required")
	}
	s := c.Gate.Store
	switch s.Backend {
	case StoreMemory:
	case StoreJournal:
		if s.JournalDir == "" {
			return errors.New("JOURNAL_DIR is required for the journal store")
		}
	case StorePostgres:
		if s.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreRedis:
		if s.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis store")
		}
	case StoreDynamo:
		if s.DynamoTable == "" {
			return errors.New("DYNAMODB_TABLE_NAME is required for the dynamodb store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", s.Backend)
	}
	return nil
}

// MaskKey shows only the first ten characters of a key.
func MaskKey(k string) string {
	if len(k) <= 10 {
		return strings.Repeat("*", len(k))
	}
	return k[:10] + "..."
}
