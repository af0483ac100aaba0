package ports

import "time"

const (
	LaneModeHashed = "hashed"
	LaneModeDevice = "device"
)

type Policy struct {
	// LaneMode "device" gives every device its own lane; "hashed" spreads
	// devices over Lanes fixed lanes. Empty means hashed.
	LaneMode     string        `yaml:"lane_mode"`
	Lanes        int           `yaml:"lanes"`
	MaxQueueLen  int           `yaml:"max_queue_len"`
	MaxBatchSize int           `yaml:"max_batch_size"`
	IdleSleep    time.Duration `yaml:"idle_sleep"`

	OnQueueFull string `yaml:"on_queue_full"` // "block", "drop"
}
