package crane

import (
	"fmt"
	"time"
)

// Freshness windows for a sensor's newest entry.
const (
	LiveWindow   = 5 * time.Minute
	OfflineAfter = 30 * time.Minute
)

type StatusLevel int

const (
	StatusOffline StatusLevel = iota
	StatusLive
	StatusStale
)

// Status describes how recent a sensor's newest reading is.
type Status struct {
	Level StatusLevel
	Age   time.Duration
}

// StatusAt grades last against now. A zero last means the sensor has never
// reported.
func StatusAt(now, last time.Time) Status {
	if last.IsZero() {
		return Status{Level: StatusOffline}
	}
	age := now.Sub(last)
	switch {
	case age < LiveWindow:
		return Status{Level: StatusLive, Age: max(age, 0)}
	case age <= OfflineAfter:
		return Status{Level: StatusStale, Age: age}
	default:
		return Status{Level: StatusOffline, Age: age}
	}
}

func (s Status) String() string {
	switch s.Level {
	case StatusLive:
		return "LIVE"
	case StatusStale:
		return fmt.Sprintf("STALE (%dm)", int(s.Age/time.Minute))
	default:
		return "OFFLINE"
	}
}
