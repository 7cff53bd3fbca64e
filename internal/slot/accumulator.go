package slot

import (
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/andressade/MFFR-Profit-Tracker/internal/calculator"
	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

// Defaults for Options fields left at zero.
const (
	DefaultBoundaryGrace = 10 * time.Second
	DefaultMaxGap        = 2 * time.Minute
	DefaultLowPowerW     = 100.0
	DefaultLowPowerGrace = time.Minute
)

// Options tunes the accumulator.
type Options struct {
	// BaselineEnabled subtracts the idle baseline from battery power.
	BaselineEnabled bool
	// BoundaryGrace is how far past a quarter boundary a first sample may
	// arrive and still count as on the boundary.
	BoundaryGrace time.Duration
	// MaxGap is the largest sample spacing that is integrated. Larger or
	// negative deltas are treated as clock anomalies.
	MaxGap time.Duration
	// An active slot whose |mffr power| stays at or below LowPowerW for
	// LowPowerGrace is closed as cancelled. A negative grace disables this.
	LowPowerW     float64
	LowPowerGrace time.Duration
}

// Accumulator owns the lifecycle of the current slot.
type Accumulator struct {
	opts Options
	cur  *model.Slot

	baseline calculator.Baseline
	lowFor   time.Duration

	lastTS   time.Time
	heldW    float64 // |mffr power| of the previous sample, held until the next one
	lastMFFR float64
}

// New creates an Accumulator in the NO_SLOT state.
func New(opts Options) *Accumulator {
	if opts.BoundaryGrace <= 0 {
		opts.BoundaryGrace = DefaultBoundaryGrace
	}
	if opts.MaxGap <= 0 {
		opts.MaxGap = DefaultMaxGap
	}
	if opts.LowPowerW <= 0 {
		opts.LowPowerW = DefaultLowPowerW
	}
	if opts.LowPowerGrace == 0 {
		opts.LowPowerGrace = DefaultLowPowerGrace
	}
	return &Accumulator{opts: opts}
}

// Current returns a copy of the open slot, or nil when no slot is open.
func (a *Accumulator) Current() *model.Slot {
	if a.cur == nil {
		return nil
	}
	c := *a.cur
	return &c
}

// MFFRPowerW is the MFFR power derived from the latest sample.
func (a *Accumulator) MFFRPowerW() float64 { return a.lastMFFR }

// BaselineW is the running idle baseline of the open slot, nil when
// disabled or when no idle sample has been seen.
func (a *Accumulator) BaselineW() *float64 {
	if !a.opts.BaselineEnabled {
		return nil
	}
	return a.baseline.Finalize()
}

// Feed integrates one sample and returns the slot it closed, if any.
func (a *Accumulator) Feed(s model.Sample) *model.Slot {
	sig := calculator.Classify(s.ModeRaw)
	now := s.Timestamp

	if a.cur == nil {
		a.open(sig, now, !a.onBoundary(now))
		a.observe(s, sig)
		return nil
	}

	dt := now.Sub(a.lastTS)
	valid := a.plausible(dt)
	if !valid {
		log.Warnf("implausible sample delta %v in slot %s, integrating zero", dt, a.cur.Start.Format(time.RFC3339))
		a.cur.Anomalous = true
	}

	var closed *model.Slot
	switch {
	case !now.Before(a.cur.End):
		end := a.cur.End
		if valid {
			a.integrate(end.Sub(a.lastTS))
		}
		closed = a.closeCurrent(end, false)
		switch {
		case valid && model.FloorToSlot(now).Equal(end):
			// Straight across the boundary: the next quarter starts exactly
			// at end and takes the remainder of the delta.
			a.open(sig, end, false)
			a.integrate(now.Sub(end))
		case sig != closed.Signal:
			a.open(sig, now, false)
		default:
			// Tracking resumed after a gap; the slot starts late.
			a.open(sig, now, !a.onBoundary(now))
		}
	case sig != a.cur.Signal:
		if valid {
			a.integrate(dt)
		}
		closed = a.closeCurrent(now, true)
		a.open(sig, now, false)
	default:
		if valid {
			a.integrate(dt)
		}
	}

	a.observe(s, sig)
	if closed == nil && a.lowPowerExpired(dt, valid) {
		log.Infof("%s slot %s below %.0f W for %v, closing as cancelled",
			a.cur.Signal, a.cur.Start.Format(time.RFC3339), a.opts.LowPowerW, a.lowFor)
		closed = a.closeCurrent(now, true)
	}
	return closed
}

// lowPowerExpired tracks how long an active slot has held near-zero MFFR
// power. The next active sample after an early close opens a new slot.
func (a *Accumulator) lowPowerExpired(dt time.Duration, valid bool) bool {
	if a.opts.LowPowerGrace < 0 || !a.cur.Signal.Active() {
		return false
	}
	if math.Abs(a.lastMFFR) > a.opts.LowPowerW {
		a.lowFor = 0
		return false
	}
	if valid {
		a.lowFor += dt
	}
	return a.lowFor >= a.opts.LowPowerGrace
}

// Close ends the open slot when the driver stops. The slot is cancelled
// unless its end was already reached.
func (a *Accumulator) Close(now time.Time) *model.Slot {
	if a.cur == nil {
		return nil
	}
	at := now
	cancelled := true
	if !now.Before(a.cur.End) {
		at = a.cur.End
		cancelled = false
	}
	if dt := at.Sub(a.lastTS); a.plausible(dt) {
		a.integrate(dt)
	} else {
		a.cur.Anomalous = true
	}
	closed := a.closeCurrent(at, cancelled)
	a.lastTS = time.Time{}
	a.heldW = 0
	return closed
}

func (a *Accumulator) open(sig model.Signal, at time.Time, backup bool) {
	start := model.FloorToSlot(at)
	a.baseline.Reset()
	a.lowFor = 0
	a.cur = &model.Slot{
		Start:     start,
		End:       start.Add(model.SlotLength),
		OpenedAt:  at,
		Signal:    sig,
		WasBackup: backup,
	}
}

func (a *Accumulator) closeCurrent(at time.Time, cancelled bool) *model.Slot {
	c := *a.cur
	c.ClosedAt = at
	c.Cancelled = cancelled
	if a.opts.BaselineEnabled {
		c.BaselineW = a.baseline.Finalize()
	}
	a.cur = nil
	return &c
}

// observe records the sample on the open slot and updates the held power.
func (a *Accumulator) observe(s model.Sample, sig model.Signal) {
	if sig == model.SignalIdle {
		a.baseline.Observe(s.BatteryPowerW)
	}
	mffr := s.BatteryPowerW
	if a.opts.BaselineEnabled {
		if b, ok := a.baseline.Value(); ok {
			mffr = s.BatteryPowerW - b
		}
	}
	a.lastMFFR = mffr
	a.heldW = math.Abs(mffr)
	a.lastTS = s.Timestamp

	a.cur.Samples++
	a.cur.MFFRPowerW = mffr
	if s.NordpoolPrice != nil {
		a.cur.SensorNordpool = model.Float(*s.NordpoolPrice)
	}
}

func (a *Accumulator) integrate(dt time.Duration) {
	if dt <= 0 {
		return
	}
	a.cur.EnergyKWh += a.heldW * dt.Hours() / 1000.0
	a.cur.DurationS += dt.Seconds()
}

func (a *Accumulator) plausible(dt time.Duration) bool {
	return dt >= 0 && dt <= a.opts.MaxGap
}

func (a *Accumulator) onBoundary(t time.Time) bool {
	return t.Sub(model.FloorToSlot(t)) < a.opts.BoundaryGrace
}
