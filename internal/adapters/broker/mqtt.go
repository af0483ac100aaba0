package broker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

const DefaultTopic = "ncd/sensors/#"

type MQTTConfig struct {
	URL      string `yaml:"url"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
}

func (c *MQTTConfig) ApplyDefaults() {
	if c.URL == "" {
		c.URL = "tcp://localhost:1883"
	}
	if c.Topic == "" {
		c.Topic = DefaultTopic
	}
	if c.ClientID == "" {
		c.ClientID = fmt.Sprintf("crane-bridge-%d", time.Now().UnixNano())
	}
	if c.QoS > 2 {
		c.QoS = 1
	}
}

// MQTTSource subscribes to a topic pattern and normalizes every message.
// Subscription is renewed on each (re)connect.
type MQTTSource struct {
	cfg  MQTTConfig
	norm ports.Normalizer[[]byte]
	obs  ports.Observability

	mu      sync.Mutex
	client  mqtt.Client
	out     chan<- domain.Reading
	stop    chan struct{}
	started bool
}

func NewMQTTSource(cfg MQTTConfig, norm ports.Normalizer[[]byte], obs ports.Observability) *MQTTSource {
	cfg.ApplyDefaults()
	return &MQTTSource{cfg: cfg, norm: norm, obs: obs}
}

func (s *MQTTSource) Name() string { return "mqtt:" + s.cfg.Topic }

func (s *MQTTSource) Start(out chan<- domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("mqtt source already started")
	}
	s.out = out
	s.stop = make(chan struct{})

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.URL).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.obs.LogWarn("mqtt connection lost", ports.F("broker", s.cfg.URL), ports.F("err", err.Error()))
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username).SetPassword(s.cfg.Password)
	}

	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(10 * time.Second) {
		s.obs.LogWarn("mqtt broker not reachable yet, retrying in background", ports.F("broker", s.cfg.URL))
	} else if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", s.cfg.URL, err)
	}
	s.client = client
	s.started = true
	return nil
}

func (s *MQTTSource) onConnect(c mqtt.Client) {
	s.obs.LogInfo("mqtt connected", ports.F("broker", s.cfg.URL), ports.F("topic", s.cfg.Topic))
	tok := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		s.handle(m.Topic(), m.Payload())
	})
	go func() {
		if tok.Wait() && tok.Error() != nil {
			s.obs.LogError("mqtt subscribe failed", tok.Error(), ports.F("topic", s.cfg.Topic))
		}
	}()
}

// handle normalizes one message body. A bad body is discarded; it never
// stops the subscription.
func (s *MQTTSource) handle(topic string, payload []byte) {
	r, err := s.norm.Normalize(payload)
	if err != nil {
		s.obs.RecordDiscard(s.Name(), err, ports.F("topic", topic), ports.F("preview", Preview(payload)))
		return
	}
	s.mu.Lock()
	out, stop := s.out, s.stop
	s.mu.Unlock()
	select {
	case out <- r:
	case <-stop:
	}
}

func (s *MQTTSource) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	close(s.stop)
	client := s.client
	s.started = false
	s.mu.Unlock()

	client.Disconnect(250)
	return nil
}

var _ ports.Source = (*MQTTSource)(nil)
