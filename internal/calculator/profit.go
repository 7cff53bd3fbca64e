package calculator

import (
	"errors"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

// DefaultFeeFraction is the operator's share of activation revenue.
const DefaultFeeFraction = 0.20

// ValidateFee checks that the operator fee is a fraction in [0, 1).
func ValidateFee(fee float64) error {
	if fee < 0 || fee >= 1 {
		return errors.New("fee fraction must be in [0, 1)")
	}
	return nil
}

// Deferrable reports whether a slot with this signal may wait for prices.
func Deferrable(sig model.Signal) bool {
	return sig.Active()
}

// Profit computes the activation profit of a slot.
// ok is false when the profit is pending on a missing price.
//
//	DOWN: (nordpool - mffr) * energy * (1 - fee)
//	UP:   (mffr - nordpool) * energy * (1 - fee)
//
// IDLE slots carry no market activity and are always 0.
func Profit(sig model.Signal, energyKWh float64, nordpool, mffr *float64, fee float64) (profit float64, ok bool) {
	if !Deferrable(sig) {
		return 0, true
	}
	if nordpool == nil || mffr == nil {
		return 0, false
	}
	share := 1 - fee
	switch sig {
	case model.SignalDown:
		return (*nordpool - *mffr) * energyKWh * share, true
	case model.SignalUp:
		return (*mffr - *nordpool) * energyKWh * share, true
	}
	return 0, true
}
