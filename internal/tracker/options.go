package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/andressade/MFFR-Profit-Tracker/internal/calculator"
)

// PriceSourceMode selects where the Nordpool price of a slot comes from.
type PriceSourceMode string

const (
	// PriceSourcePrimary uses the Nordpool sensor sampled while the slot was open.
	PriceSourcePrimary PriceSourceMode = "primary"
	// PriceSourceSecondary uses the price API.
	PriceSourceSecondary PriceSourceMode = "secondary"
	// PriceSourceAuto uses the sensor and falls back to the price API.
	PriceSourceAuto PriceSourceMode = "auto"
)

// Labels of the source that supplied a slot's Nordpool price.
const (
	SourceSensor = "sensor"
	SourceAPI    = "api"
)

// ParsePriceSourceMode accepts the mode names case-insensitively.
// "auto-fallback" is an alias of auto.
func ParsePriceSourceMode(s string) (PriceSourceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "primary":
		return PriceSourcePrimary, nil
	case "secondary":
		return PriceSourceSecondary, nil
	case "auto", "auto-fallback":
		return PriceSourceAuto, nil
	}
	return "", fmt.Errorf("unknown price source mode %q (want primary, secondary or auto)", s)
}

const (
	DefaultPriceTimeout    = 5 * time.Second
	DefaultPendingCapacity = 192
	DefaultPendingMaxAge   = 48 * time.Hour
	DefaultRecentLimit     = 48
)

// Options configures the driver. FeeFraction and BaselineEnabled are taken
// as given; the other zero values get defaults.
type Options struct {
	FeeFraction     float64
	BaselineEnabled bool
	PriceSource     PriceSourceMode

	// PriceTimeout bounds the price lookups of one slot within a tick.
	PriceTimeout    time.Duration
	PendingCapacity int
	PendingMaxAge   time.Duration
	RecentLimit     int

	BoundaryGrace time.Duration
	MaxGap        time.Duration
	// LowPowerW and LowPowerGrace control early cancellation of active
	// slots. A negative grace disables it.
	LowPowerW     float64
	LowPowerGrace time.Duration

	// Location is the zone of slot alignment and calendar rollover.
	Location *time.Location
}

func (o *Options) setDefaults() {
	if m, err := ParsePriceSourceMode(string(o.PriceSource)); err == nil {
		o.PriceSource = m
	}
	if o.PriceTimeout <= 0 {
		o.PriceTimeout = DefaultPriceTimeout
	}
	if o.PendingCapacity <= 0 {
		o.PendingCapacity = DefaultPendingCapacity
	}
	if o.PendingMaxAge <= 0 {
		o.PendingMaxAge = DefaultPendingMaxAge
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = DefaultRecentLimit
	}
	if o.Location == nil {
		o.Location = time.Local
	}
}

// Validate rejects options the driver cannot run with.
func (o Options) Validate() error {
	if err := calculator.ValidateFee(o.FeeFraction); err != nil {
		return fmt.Errorf("fee_fraction %v: %w", o.FeeFraction, err)
	}
	if _, err := ParsePriceSourceMode(string(o.PriceSource)); err != nil {
		return err
	}
	return nil
}
