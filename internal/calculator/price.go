package calculator

import "math"

// mwhThreshold separates €/MWh quotes from €/kWh ones. No realistic kWh
// price exceeds it.
const mwhThreshold = 5.0

// NormalizePrice converts a €/MWh quote to €/kWh. Values that already look
// like €/kWh are returned unchanged.
func NormalizePrice(v float64) float64 {
	if math.Abs(v) > mwhThreshold {
		return v / 1000.0
	}
	return v
}

// NormalizePricePtr is NormalizePrice for optional values.
func NormalizePricePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	n := NormalizePrice(*v)
	return &n
}
