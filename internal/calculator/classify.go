package calculator

import (
	"strings"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

// Classify maps a battery mode string to an MFFR signal.
// "sell" is checked before "buy", so a string containing both is UP.
func Classify(raw string) model.Signal {
	m := strings.ToLower(raw)
	switch {
	case strings.Contains(m, "sell"):
		return model.SignalUp
	case strings.Contains(m, "buy"):
		return model.SignalDown
	default:
		return model.SignalIdle
	}
}
