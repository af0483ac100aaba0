package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"

	"github.com/ladiesman540/crane-platform/internal/domain"
	"github.com/ladiesman540/crane-platform/internal/ports"
)

// SerialConfig selects the USB gateway's serial device.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

func (c *SerialConfig) ApplyDefaults() {
	if c.Port == "" {
		c.Port = "/dev/ttyUSB0"
	}
	if c.BaudRate <= 0 {
		c.BaudRate = 115200
	}
}

type opener func(port string, mode *serial.Mode) (io.ReadCloser, error)

func openSerial(port string, mode *serial.Mode) (io.ReadCloser, error) {
	return serial.Open(port, mode)
}

// SerialSource reads newline-delimited JSON events from a serial port. The
// wireless gateway itself emits binary radio API frames; an external frame
// decoder must turn those into one JSON object per line before they reach
// this source.
type SerialSource struct {
	cfg  SerialConfig
	norm ports.Normalizer[Event]
	obs  ports.Observability
	open opener

	mu      sync.Mutex
	port    io.ReadCloser
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func NewSerialSource(cfg SerialConfig, norm ports.Normalizer[Event], obs ports.Observability) *SerialSource {
	cfg.ApplyDefaults()
	return &SerialSource{cfg: cfg, norm: norm, obs: obs, open: openSerial}
}

func (s *SerialSource) Name() string { return "gateway:" + s.cfg.Port }

func (s *SerialSource) Start(out chan<- domain.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("serial source already started")
	}
	port, err := s.open(s.cfg.Port, &serial.Mode{BaudRate: s.cfg.BaudRate})
	if err != nil {
		return fmt.Errorf("open serial %s: %w", s.cfg.Port, err)
	}
	s.port = port
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.obs.LogInfo("serial gateway listening", ports.F("port", s.cfg.Port), ports.F("baud", s.cfg.BaudRate))
	go s.read(port, out, s.stop, s.done)
	return nil
}

// maxLineBytes bounds one event line. Longer lines are discarded whole.
const maxLineBytes = 64 << 10

func (s *SerialSource) read(src io.Reader, out chan<- domain.Reading, stop, done chan struct{}) {
	defer close(done)
	rd := bufio.NewReaderSize(src, maxLineBytes)
	for {
		line, err := rd.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			head := preview(line)
			n, err := skipLine(rd)
			s.obs.RecordDiscard(s.Name(),
				fmt.Errorf("%w: line exceeds %d bytes", domain.ErrMalformedPayload, maxLineBytes),
				ports.F("bytes", len(line)+n), ports.F("preview", head))
			if err != nil {
				s.readStopped(stop, err)
				return
			}
			continue
		}
		if !s.handleLine(bytes.TrimSpace(line), out, stop) {
			return
		}
		if err != nil {
			s.readStopped(stop, err)
			return
		}
	}
}

// handleLine decodes and forwards one line. It reports false once stop is
// closed.
func (s *SerialSource) handleLine(line []byte, out chan<- domain.Reading, stop chan struct{}) bool {
	if len(line) == 0 {
		return true
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		s.obs.RecordDiscard(s.Name(), fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err),
			ports.F("preview", preview(line)))
		return true
	}
	r, err := s.norm.Normalize(ev)
	if err != nil {
		s.obs.RecordDiscard(s.Name(), err)
		return true
	}
	select {
	case out <- r:
		return true
	case <-stop:
		return false
	}
}

// skipLine consumes the rest of an oversized line up to and including its
// newline and returns how many bytes it dropped.
func skipLine(rd *bufio.Reader) (int, error) {
	n := 0
	for {
		chunk, err := rd.ReadSlice('\n')
		n += len(chunk)
		if !errors.Is(err, bufio.ErrBufferFull) {
			return n, err
		}
	}
}

func (s *SerialSource) readStopped(stop chan struct{}, err error) {
	select {
	case <-stop:
		return
	default:
	}
	if !errors.Is(err, io.EOF) {
		s.obs.LogWarn("serial read stopped", ports.F("port", s.cfg.Port), ports.F("err", err.Error()))
	}
}

func (s *SerialSource) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	port, done := s.port, s.done
	close(s.stop)
	s.started = false
	s.port = nil
	s.mu.Unlock()

	err := port.Close()
	<-done
	return err
}

func preview(b []byte) string {
	const n = 100
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

var _ ports.Source = (*SerialSource)(nil)
