package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/andressade/MFFR-Profit-Tracker/internal/calculator"
	"github.com/andressade/MFFR-Profit-Tracker/internal/collector"
	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
	"github.com/andressade/MFFR-Profit-Tracker/internal/recorder"
	"github.com/andressade/MFFR-Profit-Tracker/internal/rollup"
	"github.com/andressade/MFFR-Profit-Tracker/internal/slot"
	"github.com/andressade/MFFR-Profit-Tracker/internal/store"
)

// ErrStopped is returned by Tick after Shutdown.
var ErrStopped = errors.New("tracker stopped")

// PriceResolver looks up the prices of one slot. It reports false when the
// price is not known yet.
type PriceResolver interface {
	MFFRPrice(ctx context.Context, start, end time.Time) (float64, bool)
	NordpoolPrice(ctx context.Context, start, end time.Time) (float64, bool)
}

// priceStatus is implemented by caching resolvers such as collector.PriceBook.
type priceStatus interface {
	Has(start time.Time) bool
	LastFetch() time.Time
}

// Driver runs the update cycle. All state is guarded by one mutex held for
// the whole tick.
type Driver struct {
	reader   collector.SampleReader
	prices   PriceResolver
	store    store.Store
	recorder recorder.Recorder
	opts     Options
	nowFunc  func() time.Time

	mu       sync.Mutex
	acc      *slot.Accumulator
	rollups  model.Rollups
	pending  []model.Slot
	recent   []model.Slot
	lastTick time.Time
	lastErr  error
	stopped  bool
}

// New validates opts, restores the persisted state and returns a driver
// ready to tick. A state that cannot be loaded is logged and replaced by a
// cold start.
func New(reader collector.SampleReader, prices PriceResolver, st store.Store, rec recorder.Recorder, opts Options) (*Driver, error) {
	if reader == nil || prices == nil {
		return nil, errors.New("tracker needs a sample reader and a price resolver")
	}
	opts.setDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		st = &store.MemoryStore{}
	}
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	d := &Driver{
		reader:   reader,
		prices:   prices,
		store:    st,
		recorder: rec,
		opts:     opts,
		nowFunc:  time.Now,
		acc: slot.New(slot.Options{
			BaselineEnabled: opts.BaselineEnabled,
			BoundaryGrace:   opts.BoundaryGrace,
			MaxGap:          opts.MaxGap,
			LowPowerW:       opts.LowPowerW,
			LowPowerGrace:   opts.LowPowerGrace,
		}),
	}
	d.restore()
	return d, nil
}

func (d *Driver) now() time.Time {
	return d.nowFunc().In(d.opts.Location)
}

func (d *Driver) restore() {
	state, err := d.store.Load()
	switch {
	case errors.Is(err, store.ErrNoState):
		log.Info("no saved state, starting fresh")
		return
	case err != nil:
		log.Warnf("load state failed, starting fresh: %v", err)
		return
	}
	d.rollups = state.Rollups
	d.pending = state.Pending
	d.recent = state.Recent
	if len(d.recent) > d.opts.RecentLimit {
		d.recent = d.recent[:d.opts.RecentLimit]
	}
	log.Infof("state restored: all-time %.4f, %d pending slot(s), saved at %s",
		d.rollups.AllTimeProfit, len(d.pending), state.SavedAt.Format(time.RFC3339))
}

// Tick processes one sample. Errors are contained to the tick: a failed
// read still retries pending slots, and the next tick starts clean.
func (d *Driver) Tick(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}

	now := d.now()
	d.lastTick = now
	dirty := false

	sample, err := d.reader.ReadSample(ctx)
	if err != nil {
		err = fmt.Errorf("read sample: %w", err)
	} else {
		if sample.Timestamp.IsZero() {
			sample.Timestamp = now
		}
		sample.Timestamp = sample.Timestamp.In(d.opts.Location)
		if closed := d.acc.Feed(sample); closed != nil {
			d.finish(ctx, *closed)
			dirty = true
		}
	}

	if d.retryPending(ctx) {
		dirty = true
	}
	if d.expirePending(now) {
		dirty = true
	}
	rollup.Rollover(&d.rollups, now, d.opts.Location)

	if dirty {
		if serr := d.persist(); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	d.lastErr = err
	return err
}

// Shutdown closes the open slot as cancelled, resolves what it can and
// persists synchronously. Later ticks return ErrStopped.
func (d *Driver) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	d.stopped = true

	if closed := d.acc.Close(d.now()); closed != nil {
		d.finish(ctx, *closed)
	}
	d.retryPending(ctx)
	if err := d.persist(); err != nil {
		return fmt.Errorf("persist on shutdown: %w", err)
	}
	log.Infof("tracker stopped: %d pending slot(s) saved", len(d.pending))
	return nil
}

// finish resolves a freshly closed slot and either applies it or parks it.
func (d *Driver) finish(ctx context.Context, s model.Slot) {
	d.resolve(ctx, &s)
	if s.Profit != nil {
		d.apply(s)
	} else {
		log.Infof("slot %s %s closed with %.4f kWh, profit pending", s.Start.Format("15:04"), s.Signal, s.EnergyKWh)
		d.pending = append(d.pending, s)
	}
	d.archive(s)
}

// resolve fills the missing prices of s and computes its profit. It
// reports whether the profit was set by this call; a slot whose profit is
// already set is left untouched.
func (d *Driver) resolve(ctx context.Context, s *model.Slot) bool {
	if s.Profit != nil {
		return false
	}
	if calculator.Deferrable(s.Signal) {
		pctx, cancel := context.WithTimeout(ctx, d.opts.PriceTimeout)
		defer cancel()
		if s.MFFRPrice == nil {
			if v, ok := d.prices.MFFRPrice(pctx, s.Start, s.End); ok {
				s.MFFRPrice = model.Float(v)
			}
		}
		if s.NordpoolPrice == nil {
			s.NordpoolPrice, s.PriceSource = d.nordpoolFor(pctx, s)
		}
	}
	profit, ok := calculator.Profit(s.Signal, s.EnergyKWh, s.NordpoolPrice, s.MFFRPrice, d.opts.FeeFraction)
	if !ok {
		return false
	}
	s.Profit = model.Float(profit)
	return true
}

// nordpoolFor picks the Nordpool price of a slot by the configured source.
func (d *Driver) nordpoolFor(ctx context.Context, s *model.Slot) (*float64, string) {
	api := func() (*float64, string) {
		if v, ok := d.prices.NordpoolPrice(ctx, s.Start, s.End); ok {
			return model.Float(v), SourceAPI
		}
		return nil, ""
	}
	switch d.opts.PriceSource {
	case PriceSourceSecondary:
		return api()
	case PriceSourceAuto:
		if s.SensorNordpool != nil {
			return model.Float(*s.SensorNordpool), SourceSensor
		}
		return api()
	default:
		if s.SensorNordpool != nil {
			return model.Float(*s.SensorNordpool), SourceSensor
		}
		return nil, ""
	}
}

func (d *Driver) apply(s model.Slot) {
	if err := rollup.Apply(&d.rollups, s, d.opts.Location); err != nil {
		log.Errorf("apply slot %s: %v", s.ID(), err)
		return
	}
	log.Infof("slot %s %s: %.4f kWh, profit %.4f (cancelled=%t backup=%t)",
		s.Start.Format("15:04"), s.Signal, s.EnergyKWh, *s.Profit, s.Cancelled, s.WasBackup)
}

// retryPending re-attempts every parked slot. A slot leaves the set only
// when its profit is set, so it is applied exactly once.
func (d *Driver) retryPending(ctx context.Context) bool {
	if len(d.pending) == 0 {
		return false
	}
	changed := false
	kept := d.pending[:0]
	for _, s := range d.pending {
		if d.resolve(ctx, &s) {
			log.Infof("deferred profit resolved for slot %s", s.ID())
			d.apply(s)
			d.archive(s)
			changed = true
			continue
		}
		kept = append(kept, s)
	}
	d.pending = kept
	return changed
}

// expirePending gives up on slots that waited longer than PendingMaxAge or
// overflow PendingCapacity. They are archived as expired, not dropped.
func (d *Driver) expirePending(now time.Time) bool {
	if len(d.pending) == 0 {
		return false
	}
	sort.SliceStable(d.pending, func(i, j int) bool { return d.pending[i].ClosedAt.Before(d.pending[j].ClosedAt) })

	overflow := len(d.pending) - d.opts.PendingCapacity
	changed := false
	kept := d.pending[:0]
	for i, s := range d.pending {
		if i < overflow || now.Sub(s.ClosedAt) > d.opts.PendingMaxAge {
			s.Expired = true
			log.Warnf("slot %s %s expired without prices (%.4f kWh, closed %s)",
				s.ID(), s.Signal, s.EnergyKWh, s.ClosedAt.Format(time.RFC3339))
			d.archive(s)
			changed = true
			continue
		}
		kept = append(kept, s)
	}
	d.pending = kept
	return changed
}

// archive puts s at the front of the recent log, replacing an older copy of
// the same slot, and forwards it to the history recorder.
func (d *Driver) archive(s model.Slot) {
	id := s.ID()
	for i := range d.recent {
		if d.recent[i].ID() == id {
			d.recent = append(d.recent[:i], d.recent[i+1:]...)
			break
		}
	}
	d.recent = append([]model.Slot{s}, d.recent...)
	if len(d.recent) > d.opts.RecentLimit {
		d.recent = d.recent[:d.opts.RecentLimit]
	}
	if err := d.recorder.RecordSlot(&s); err != nil {
		log.Warnf("record slot: %v", err)
	}
}

func (d *Driver) persist() error {
	state := &model.State{
		Rollups: d.rollups,
		Pending: append([]model.Slot(nil), d.pending...),
		Recent:  append([]model.Slot(nil), d.recent...),
	}
	if err := d.store.Save(state); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// PriceWanted lists slot starts whose activation price is still needed:
// the open slot and every pending one.
func (d *Driver) PriceWanted() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []time.Time
	if cur := d.acc.Current(); cur != nil && cur.Signal.Active() {
		out = append(out, cur.Start)
	}
	for _, s := range d.pending {
		out = append(out, s.Start)
	}
	return out
}

// Rollups returns the totals with calendar markers advanced to now.
func (d *Driver) Rollups() model.Rollups {
	d.mu.Lock()
	defer d.mu.Unlock()
	rollup.Rollover(&d.rollups, d.now(), d.opts.Location)
	return d.rollups
}

// Recent returns up to n closed slots, newest first.
func (d *Driver) Recent(n int) []model.Slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n <= 0 || n > len(d.recent) {
		n = len(d.recent)
	}
	return append([]model.Slot(nil), d.recent[:n]...)
}

// Pending returns the number of slots waiting for prices.
func (d *Driver) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Status reports the time and error of the last tick.
func (d *Driver) Status() (time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTick, d.lastErr
}

// Location returns the zone used for slot alignment and rollover.
func (d *Driver) Location() *time.Location {
	return d.opts.Location
}
