package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

func (c *KafkaConfig) ApplyDefaults() {
	if c.Topic == "" {
		c.Topic = "ncd.sensors"
	}
	if c.GroupID == "" {
		c.GroupID = "crane-bridge"
	}
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource consumes sensor messages from a consumer group. Message keys
// are ignored; the body alone identifies the device.
type KafkaSource struct {
	cfg  KafkaConfig
	norm ports.Normalizer[[]byte]
	obs  ports.Observability

	newReader func(KafkaConfig) messageReader

	mu      sync.Mutex
	reader  messageReader
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewKafkaSource(cfg KafkaConfig, norm ports.Normalizer[[]byte], obs ports.Observability) *KafkaSource {
	cfg.ApplyDefaults()
	return &KafkaSource{cfg: cfg, norm: norm, obs: obs, newReader: newKafkaReader}
}

func newKafkaReader(cfg KafkaConfig) messageReader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
}

func (s *KafkaSource) Name() string { return "kafka:" + s.cfg.Topic }

func (s *KafkaSource) Start(out chan<- domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("kafka source already started")
	}
	if len(s.cfg.Brokers) == 0 {
		return errors.New("kafka source needs at least one broker")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.reader = s.newReader(s.cfg)
	s.cancel = cancel
	s.started = true
	s.obs.LogInfo("kafka consumer started", ports.F("topic", s.cfg.Topic), ports.F("group", s.cfg.GroupID))

	s.wg.Add(1)
	go s.consume(ctx, s.reader, out)
	return nil
}

func (s *KafkaSource) consume(ctx context.Context, reader messageReader, out chan<- domain.Reading) {
	defer s.wg.Done()
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.obs.LogWarn("kafka read failed", ports.F("topic", s.cfg.Topic), ports.F("err", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		r, err := s.norm.Normalize(msg.Value)
		if err != nil {
			s.obs.RecordDiscard(s.Name(), err,
				ports.F("partition", msg.Partition), ports.F("offset", msg.Offset), ports.F("preview", Preview(msg.Value)))
			continue
		}
		select {
		case out <- r:
		case <-ctx.Done():
			return
		}
	}
}

func (s *KafkaSource) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel, reader := s.cancel, s.reader
	s.started = false
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	return reader.Close()
}

var _ ports.Source = (*KafkaSource)(nil)
