package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// OPCUAConfig describes a PLC that republishes gateway metrics as OPC UA
// nodes, one node per metric of a sensor.
type OPCUAConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig binds one monitored node to a device address and the wire
// field it feeds (e.g. x_velocity_mm_sec).
type NodeConfig struct {
	NodeID string `yaml:"node_id"`
	Addr   string `yaml:"addr"`
	Field  string `yaml:"field"`
}

func (c *OPCUAConfig) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "Crane Bridge"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = time.Second
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
}

func (c *OPCUAConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("opcua endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one opcua node must be configured")
	}
	for _, n := range c.Nodes {
		if n.NodeID == "" || n.Addr == "" || n.Field == "" {
			return fmt.Errorf("opcua node %q needs node_id, addr and field", n.NodeID)
		}
		if n.Field == "addr" || n.Field == "counter" {
			return fmt.Errorf("opcua node %q cannot feed reserved field %q", n.NodeID, n.Field)
		}
	}
	return nil
}

// OPCUASource subscribes to the configured nodes and assembles each data
// change batch into one gateway event per device.
type OPCUASource struct {
	cfg  OPCUAConfig
	norm ports.Normalizer[Event]
	obs  ports.Observability

	client    *opcua.Client
	sub       *opcua.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	handleMap map[uint32]NodeConfig
	mu        sync.Mutex
	started   bool
}

func NewOPCUASource(cfg OPCUAConfig, norm ports.Normalizer[Event], obs ports.Observability) (*OPCUASource, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OPCUASource{cfg: cfg, norm: norm, obs: obs, handleMap: handles(cfg.Nodes)}, nil
}

func handles(nodes []NodeConfig) map[uint32]NodeConfig {
	m := make(map[uint32]NodeConfig, len(nodes))
	for i, n := range nodes {
		m[uint32(i+1)] = n
	}
	return m
}

func (s *OPCUASource) Name() string { return "opcua:" + s.cfg.Endpoint }

func (s *OPCUASource) Start(out chan<- domain.Reading) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("opcua source already started")
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	client, err := opcua.NewClient(s.cfg.Endpoint, s.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(s.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: s.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	for handle, node := range s.handleMap {
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			s.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if s.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(s.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			s.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
			s.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed", node.NodeID)
		}
	}

	s.mu.Lock()
	s.client = client
	s.sub = sub
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	s.obs.LogInfo("opcua subscription active", ports.F("endpoint", s.cfg.Endpoint), ports.F("nodes", len(s.cfg.Nodes)))
	s.wg.Add(1)
	go s.consume(ctx, notifyCh, out)
	return nil
}

func (s *OPCUASource) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel, sub, client := s.cancel, s.sub, s.client
	s.started = false
	s.cancel, s.sub, s.client = nil, nil, nil
	s.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	s.wg.Wait()
	return err
}

func (s *OPCUASource) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- domain.Reading) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				s.obs.LogWarn("opcua notification error", ports.F("err", notif.Error.Error()))
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, ev := range s.assemble(data) {
				r, err := s.norm.Normalize(ev)
				if err != nil {
					s.obs.RecordDiscard(s.Name(), err)
					continue
				}
				select {
				case <-ctx.Done():
					return
				case out <- r:
				}
			}
		}
	}
}

// assemble groups one data change batch into per-device events, keeping the
// order in which devices first appear in the batch.
func (s *OPCUASource) assemble(data *ua.DataChangeNotification) []Event {
	var (
		order  []string
		events = map[string]Event{}
	)
	for _, item := range data.MonitoredItems {
		node, ok := s.handleMap[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		fv, ok := variantToFloat(item.Value.Value)
		if !ok {
			s.obs.LogDebug("opcua node skipped", ports.F("node", node.NodeID))
			continue
		}
		ev, ok := events[node.Addr]
		if !ok {
			ev = Event{"addr": node.Addr}
			events[node.Addr] = ev
			order = append(order, node.Addr)
		}
		ev[node.Field] = fv
	}
	out := make([]Event, 0, len(order))
	for _, addr := range order {
		out = append(out, events[addr])
	}
	return out
}

func (s *OPCUASource) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(s.cfg.SecurityMode)),
		opcua.SecurityPolicy(s.cfg.SecurityPolicy),
		opcua.ApplicationName(s.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if s.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(s.cfg.Username, s.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func (s *OPCUASource) cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	cancel()
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "sign_and_encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

var _ ports.Source = (*OPCUASource)(nil)
