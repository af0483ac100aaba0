package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrDiscard marks input that must be dropped and logged, never forwarded.
var ErrDiscard = errors.New("discard")

var (
	// ErrMissingAddress is returned when no device address could be resolved.
	ErrMissingAddress = fmt.Errorf("%w: missing device address", ErrDiscard)
	// ErrMalformedPayload is returned when a payload cannot be parsed.
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrDiscard)
)

// Axis holds the per-axis vibration summary computed on the sensor.
type Axis struct {
	RMSAccelG      *float64
	MaxAccelG      *float64
	VelocityMMs    *float64
	DisplacementMM *float64
	Peak1Hz        *float64
	Peak2Hz        *float64
	Peak3Hz        *float64
}

// Reading is the canonical, source-independent telemetry sample. Every
// adapter maps its transport payload into this shape before submission.
type Reading struct {
	DeviceAddress   string
	SequenceCounter int64

	Firmware       *int
	BatteryPercent *int
	RSSI           *int
	SensorType     *int
	Mode           *int
	ODR            *int
	Temperature    *float64
	RPM            *int

	X Axis
	Y Axis
	Z Axis
}

// Axes returns the three axis summaries in x, y, z order.
func (r Reading) Axes() [3]Axis {
	return [3]Axis{r.X, r.Y, r.Z}
}

// MaxVelocity returns the largest absolute axis velocity, or nil when no axis
// carries velocity data.
func (r Reading) MaxVelocity() *float64 {
	var (
		best  float64
		found bool
	)
	for _, a := range r.Axes() {
		if a.VelocityMMs == nil {
			continue
		}
		v := math.Abs(*a.VelocityMMs)
		if !found || v > best {
			best = v
			found = true
		}
	}
	if !found {
		return nil
	}
	return &best
}

// wireReading is the flat field-per-metric shape used by the ingestion API.
type wireReading struct {
	Addr           string   `json:"addr"`
	Counter        int64    `json:"counter"`
	Firmware       *int     `json:"firmware,omitempty"`
	BatteryPercent *int     `json:"battery_percent,omitempty"`
	SensorType     *int     `json:"sensor_type,omitempty"`
	Mode           *int     `json:"mode,omitempty"`
	ODR            *int     `json:"odr,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`

	XRMSAccelG      *float64 `json:"x_rms_ACC_G,omitempty"`
	XMaxAccelG      *float64 `json:"x_max_ACC_G,omitempty"`
	XVelocityMMs    *float64 `json:"x_velocity_mm_sec,omitempty"`
	XDisplacementMM *float64 `json:"x_displacement_mm,omitempty"`
	XPeak1Hz        *float64 `json:"x_peak_one_Hz,omitempty"`
	XPeak2Hz        *float64 `json:"x_peak_two_Hz,omitempty"`
	XPeak3Hz        *float64 `json:"x_peak_three_Hz,omitempty"`

	YRMSAccelG      *float64 `json:"y_rms_ACC_G,omitempty"`
	YMaxAccelG      *float64 `json:"y_max_ACC_G,omitempty"`
	YVelocityMMs    *float64 `json:"y_velocity_mm_sec,omitempty"`
	YDisplacementMM *float64 `json:"y_displacement_mm,omitempty"`
	YPeak1Hz        *float64 `json:"y_peak_one_Hz,omitempty"`
	YPeak2Hz        *float64 `json:"y_peak_two_Hz,omitempty"`
	YPeak3Hz        *float64 `json:"y_peak_three_Hz,omitempty"`

	ZRMSAccelG      *float64 `json:"z_rms_ACC_G,omitempty"`
	ZMaxAccelG      *float64 `json:"z_max_ACC_G,omitempty"`
	ZVelocityMMs    *float64 `json:"z_velocity_mm_sec,omitempty"`
	ZDisplacementMM *float64 `json:"z_displacement_mm,omitempty"`
	ZPeak1Hz        *float64 `json:"z_peak_one_Hz,omitempty"`
	ZPeak2Hz        *float64 `json:"z_peak_two_Hz,omitempty"`
	ZPeak3Hz        *float64 `json:"z_peak_three_Hz,omitempty"`

	RPM  *int `json:"rpm,omitempty"`
	RSSI *int `json:"rssi,omitempty"`
}

func (r Reading) toWire() wireReading {
	return wireReading{
		Addr:           r.DeviceAddress,
		Counter:        r.SequenceCounter,
		Firmware:       r.Firmware,
		BatteryPercent: r.BatteryPercent,
		SensorType:     r.SensorType,
		Mode:           r.Mode,
		ODR:            r.ODR,
		Temperature:    r.Temperature,

		XRMSAccelG:      r.X.RMSAccelG,
		XMaxAccelG:      r.X.MaxAccelG,
		XVelocityMMs:    r.X.VelocityMMs,
		XDisplacementMM: r.X.DisplacementMM,
		XPeak1Hz:        r.X.Peak1Hz,
		XPeak2Hz:        r.X.Peak2Hz,
		XPeak3Hz:        r.X.Peak3Hz,

		YRMSAccelG:      r.Y.RMSAccelG,
		YMaxAccelG:      r.Y.MaxAccelG,
		YVelocityMMs:    r.Y.VelocityMMs,
		YDisplacementMM: r.Y.DisplacementMM,
		YPeak1Hz:        r.Y.Peak1Hz,
		YPeak2Hz:        r.Y.Peak2Hz,
		YPeak3Hz:        r.Y.Peak3Hz,

		ZRMSAccelG:      r.Z.RMSAccelG,
		ZMaxAccelG:      r.Z.MaxAccelG,
		ZVelocityMMs:    r.Z.VelocityMMs,
		ZDisplacementMM: r.Z.DisplacementMM,
		ZPeak1Hz:        r.Z.Peak1Hz,
		ZPeak2Hz:        r.Z.Peak2Hz,
		ZPeak3Hz:        r.Z.Peak3Hz,

		RPM:  r.RPM,
		RSSI: r.RSSI,
	}
}

func (w wireReading) toReading() Reading {
	return Reading{
		DeviceAddress:   w.Addr,
		SequenceCounter: w.Counter,
		Firmware:        w.Firmware,
		BatteryPercent:  w.BatteryPercent,
		SensorType:      w.SensorType,
		Mode:            w.Mode,
		ODR:             w.ODR,
		Temperature:     w.Temperature,
		RPM:             w.RPM,
		RSSI:            w.RSSI,
		X: Axis{
			RMSAccelG:      w.XRMSAccelG,
			MaxAccelG:      w.XMaxAccelG,
			VelocityMMs:    w.XVelocityMMs,
			DisplacementMM: w.XDisplacementMM,
			Peak1Hz:        w.XPeak1Hz,
			Peak2Hz:        w.XPeak2Hz,
			Peak3Hz:        w.XPeak3Hz,
		},
		Y: Axis{
			RMSAccelG:      w.YRMSAccelG,
			MaxAccelG:      w.YMaxAccelG,
			VelocityMMs:    w.YVelocityMMs,
			DisplacementMM: w.YDisplacementMM,
			Peak1Hz:        w.YPeak1Hz,
			Peak2Hz:        w.YPeak2Hz,
			Peak3Hz:        w.YPeak3Hz,
		},
		Z: Axis{
			RMSAccelG:      w.ZRMSAccelG,
			MaxAccelG:      w.ZMaxAccelG,
			VelocityMMs:    w.ZVelocityMMs,
			DisplacementMM: w.ZDisplacementMM,
			Peak1Hz:        w.ZPeak1Hz,
			Peak2Hz:        w.ZPeak2Hz,
			Peak3Hz:        w.ZPeak3Hz,
		},
	}
}

// MarshalJSON encodes the reading in the flat ingestion wire format.
func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.toWire())
}

// UnmarshalJSON decodes the flat ingestion wire format.
func (r *Reading) UnmarshalJSON(b []byte) error {
	var w wireReading
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = w.toReading()
	return nil
}

// Float returns a pointer to v; convenience for building readings.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
