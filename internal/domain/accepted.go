package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ReadingID is the opaque identifier the ingestion gate assigns to an
// accepted reading. It decodes from either a JSON string or a JSON number.
type ReadingID string

func (id *ReadingID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ReadingID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("reading id: %w", err)
	}
	*id = ReadingID(n.String())
	return nil
}

// AcceptedReading is a reading the gate accepted on first sight of its
// (device address, sequence counter) pair. It is never mutated afterwards.
type AcceptedReading struct {
	ID         ReadingID
	SensorID   string
	AcceptedAt time.Time
	Reading    Reading
}

type wireAccepted struct {
	ID        ReadingID `json:"id"`
	SensorID  string    `json:"sensor_id"`
	Timestamp time.Time `json:"timestamp"`
	wireReading
}

func (a AcceptedReading) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireAccepted{
		ID:          a.ID,
		SensorID:    a.SensorID,
		Timestamp:   a.AcceptedAt,
		wireReading: a.Reading.toWire(),
	})
}

func (a *AcceptedReading) UnmarshalJSON(b []byte) error {
	var w wireAccepted
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*a = AcceptedReading{
		ID:         w.ID,
		SensorID:   w.SensorID,
		AcceptedAt: w.Timestamp,
		Reading:    w.wireReading.toReading(),
	}
	return nil
}

// EventSensorReading is the live channel event type carrying a new reading.
const EventSensorReading = "sensor.reading"

// LiveEvent is pushed to every live session when a reading is accepted.
type LiveEvent struct {
	Event      string
	SensorID   string
	ReadingID  ReadingID
	AcceptedAt time.Time
	Zone       Zone
	Reading    Reading
}

// NewLiveEvent builds the broadcast event for an accepted reading.
func NewLiveEvent(a AcceptedReading) LiveEvent {
	return LiveEvent{
		Event:      EventSensorReading,
		SensorID:   a.SensorID,
		ReadingID:  a.ID,
		AcceptedAt: a.AcceptedAt,
		Zone:       ZoneOf(a.Reading),
		Reading:    a.Reading,
	}
}

type wireEvent struct {
	Event     string    `json:"event"`
	SensorID  string    `json:"sensor_id"`
	ReadingID ReadingID `json:"reading_id"`
	Timestamp time.Time `json:"timestamp"`
	Zone      Zone      `json:"zone"`
	wireReading
}

func (e LiveEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Event:       e.Event,
		SensorID:    e.SensorID,
		ReadingID:   e.ReadingID,
		Timestamp:   e.AcceptedAt,
		Zone:        e.Zone,
		wireReading: e.Reading.toWire(),
	})
}

func (e *LiveEvent) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*e = LiveEvent{
		Event:      w.Event,
		SensorID:   w.SensorID,
		ReadingID:  w.ReadingID,
		AcceptedAt: w.Timestamp,
		Zone:       w.Zone,
		Reading:    w.wireReading.toReading(),
	}
	return nil
}

// Alert is raised by the gate when an accepted reading lands in zone C or D.
type Alert struct {
	SensorID    string    `json:"sensor_id"`
	Device      string    `json:"addr"`
	ReadingID   ReadingID `json:"reading_id"`
	Zone        Zone      `json:"zone"`
	Severity    string    `json:"severity"`
	MaxVelocity float64   `json:"max_velocity_mm_sec"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"created_at"`
}

// SeverityFor returns the alert severity for a zone, or "" when the zone
// does not warrant an alert.
func SeverityFor(z Zone) string {
	switch z {
	case ZoneC:
		return "warning"
	case ZoneD:
		return "critical"
	default:
		return ""
	}
}
