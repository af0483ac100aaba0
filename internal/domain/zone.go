package domain

import "fmt"

// Zone is a vibration severity band derived from peak axis velocity.
type Zone int

const (
	ZoneUnknown Zone = iota
	ZoneA
	ZoneB
	ZoneC
	ZoneD
)

// Band lower bounds in mm/s. Each bound belongs to the higher-severity zone.
const (
	ZoneBLowerMMs = 0.71
	ZoneCLowerMMs = 1.12
	ZoneDLowerMMs = 1.80
)

// Classify maps a velocity magnitude to its severity zone. It is the only
// place zone thresholds are evaluated; ingestion alerting and dashboard
// presentation both call it.
func Classify(v *float64) Zone {
	if v == nil {
		return ZoneUnknown
	}
	switch {
	case *v < ZoneBLowerMMs:
		return ZoneA
	case *v < ZoneCLowerMMs:
		return ZoneB
	case *v < ZoneDLowerMMs:
		return ZoneC
	default:
		return ZoneD
	}
}

// ZoneOf classifies a reading by its largest absolute axis velocity.
func ZoneOf(r Reading) Zone {
	return Classify(r.MaxVelocity())
}

func (z Zone) String() string {
	switch z {
	case ZoneA:
		return "A"
	case ZoneB:
		return "B"
	case ZoneC:
		return "C"
	case ZoneD:
		return "D"
	default:
		return "UNKNOWN"
	}
}

// Level is the human label shown next to the zone.
func (z Zone) Level() string {
	switch z {
	case ZoneA:
		return "Excellent"
	case ZoneB:
		return "Acceptable"
	case ZoneC:
		return "Warning"
	case ZoneD:
		return "Danger"
	default:
		return "--"
	}
}

func (z Zone) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

func (z *Zone) UnmarshalText(b []byte) error {
	switch string(b) {
	case "A":
		*z = ZoneA
	case "B":
		*z = ZoneB
	case "C":
		*z = ZoneC
	case "D":
		*z = ZoneD
	case "UNKNOWN", "":
		*z = ZoneUnknown
	default:
		return fmt.Errorf("unknown zone %q", string(b))
	}
	return nil
}
