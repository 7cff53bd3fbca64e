package calculator

// Baseline accumulates idle battery power for one slot window and reports
// the arithmetic mean. It keeps no memory across windows.
type Baseline struct {
	sumW  float64
	count int
}

// Observe adds an idle power sample.
func (b *Baseline) Observe(powerW float64) {
	b.sumW += powerW
	b.count++
}

// Value returns the running mean, or false when no idle sample was seen.
func (b *Baseline) Value() (float64, bool) {
	if b.count == 0 {
		return 0, false
	}
	return b.sumW / float64(b.count), true
}

// Finalize returns the mean for the window, nil when it had no idle samples.
func (b *Baseline) Finalize() *float64 {
	v, ok := b.Value()
	if !ok {
		return nil
	}
	return &v
}

// Count is the number of idle samples observed.
func (b *Baseline) Count() int { return b.count }

// Reset empties the estimator for a new window.
func (b *Baseline) Reset() {
	b.sumW = 0
	b.count = 0
}
