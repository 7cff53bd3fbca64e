package model

import (
	"strings"
	"time"
)

// SlotLength is the fixed accounting window of the balancing market.
const SlotLength = 15 * time.Minute

// Signal is the MFFR activation direction derived from the battery mode.
type Signal string

const (
	SignalUp   Signal = "UP"
	SignalDown Signal = "DOWN"
	SignalIdle Signal = "IDLE"
)

// Active reports whether the signal is a market activation.
func (s Signal) Active() bool {
	return s == SignalUp || s == SignalDown
}

// Sample is one polled observation. NordpoolPrice is nil when the sensor
// has no value.
type Sample struct {
	Timestamp     time.Time
	ModeRaw       string
	BatteryPowerW float64
	NordpoolPrice *float64
}

// Slot is the unit of accounting.
type Slot struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at"`
	Signal   Signal    `json:"signal"`

	EnergyKWh  float64  `json:"energy_kwh"`
	DurationS  float64  `json:"duration_s"`
	Samples    int      `json:"samples"`
	BaselineW  *float64 `json:"baseline_w"`
	MFFRPowerW float64  `json:"mffr_power_w"`

	WasBackup bool `json:"was_backup"`
	Cancelled bool `json:"cancelled"`
	Anomalous bool `json:"anomalous"`
	Expired   bool `json:"expired"`

	// SensorNordpool is the last Nordpool sensor reading seen while the slot was open.
	SensorNordpool *float64 `json:"sensor_nordpool"`
	MFFRPrice      *float64 `json:"mffr_price"`
	NordpoolPrice  *float64 `json:"nordpool_price"`
	PriceSource    string   `json:"price_source,omitempty"`
	Profit         *float64 `json:"profit"`
}

// ID identifies a slot instance. Several slots may share a quarter when the
// signal changes inside it, so the open time is part of the key.
func (s *Slot) ID() string {
	return s.Start.Format(time.RFC3339) + "@" + s.OpenedAt.UTC().Format(time.RFC3339Nano)
}

// Pending reports whether the slot is closed without a resolved profit.
func (s *Slot) Pending() bool {
	return s.Profit == nil
}

// FloorToSlot aligns t to the start of its quarter hour. Truncation works on
// the absolute instant, so repeated wall-clock hours at a DST change map to
// distinct slots; zone offsets are whole quarters everywhere that matters.
func FloorToSlot(t time.Time) time.Time {
	return t.Truncate(SlotLength)
}

// ParseSignal maps a stored signal name back to a Signal.
func ParseSignal(s string) Signal {
	switch Signal(strings.ToUpper(s)) {
	case SignalUp:
		return SignalUp
	case SignalDown:
		return SignalDown
	default:
		return SignalIdle
	}
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
