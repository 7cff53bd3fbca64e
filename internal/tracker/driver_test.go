package tracker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
	"github.com/andressade/MFFR-Profit-Tracker/internal/store"
)

var tallinn = mustLoad("Europe/Tallinn")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("EET", 2*3600)
	}
	return loc
}

func at(h, m, s int) time.Time {
	return time.Date(2025, 3, 12, h, m, s, 0, tallinn)
}

type fakeReader struct {
	sample model.Sample
	err    error
}

func (f *fakeReader) ReadSample(context.Context) (model.Sample, error) {
	return f.sample, f.err
}

type fakePrices struct {
	mffr      map[int64]float64
	nordpool  map[int64]float64
	lastFetch time.Time
}

func newFakePrices() *fakePrices {
	return &fakePrices{mffr: map[int64]float64{}, nordpool: map[int64]float64{}}
}

func (p *fakePrices) MFFRPrice(_ context.Context, start, _ time.Time) (float64, bool) {
	v, ok := p.mffr[start.Unix()]
	return v, ok
}

func (p *fakePrices) NordpoolPrice(_ context.Context, start, _ time.Time) (float64, bool) {
	v, ok := p.nordpool[start.Unix()]
	return v, ok
}

func (p *fakePrices) Has(start time.Time) bool {
	_, ok := p.mffr[start.Unix()]
	return ok
}

func (p *fakePrices) LastFetch() time.Time { return p.lastFetch }

type harness struct {
	t      *testing.T
	d      *Driver
	reader *fakeReader
	prices *fakePrices
	now    time.Time
}

func baseOptions() Options {
	return Options{FeeFraction: 0.20, Location: tallinn}
}

func newHarness(t *testing.T, opts Options, st store.Store, prices *fakePrices) *harness {
	t.Helper()
	if prices == nil {
		prices = newFakePrices()
	}
	h := &harness{t: t, reader: &fakeReader{}, prices: prices}
	d, err := New(h.reader, prices, st, nil, opts)
	require.NoError(t, err)
	d.nowFunc = func() time.Time { return h.now }
	h.d = d
	return h
}

func (h *harness) tick(ts time.Time, mode string, powerW float64, nordpool *float64) error {
	h.now = ts
	h.reader.sample = model.Sample{Timestamp: ts, ModeRaw: mode, BatteryPowerW: powerW, NordpoolPrice: nordpool}
	h.reader.err = nil
	return h.d.Tick(context.Background())
}

// run ticks every 10 s over [from, to].
func (h *harness) run(from, to time.Time, mode string, powerW float64, nordpool *float64) {
	for ts := from; !ts.After(to); ts = ts.Add(10 * time.Second) {
		require.NoError(h.t, h.tick(ts, mode, powerW, nordpool))
	}
}

func (h *harness) failTick(ts time.Time) error {
	h.now = ts
	h.reader.err = errors.New("sensor offline")
	return h.d.Tick(context.Background())
}

// One full UP quarter at 3.6 kW is 0.9 kWh.
const fullQuarterKWh = 0.9

func TestTickAppliesResolvedSlot(t *testing.T) {
	h := newHarness(t, baseOptions(), nil, nil)
	h.prices.mffr[at(12, 0, 0).Unix()] = 0.25

	h.run(at(12, 0, 0), at(12, 15, 0), "Fusebox Sell", 3600, model.Float(0.05))

	r := h.d.Rollups()
	// (0.25 - 0.05) * 0.9 * 0.8
	assert.InDelta(t, 0.144, r.AllTimeProfit, 1e-9)
	assert.InDelta(t, 0.144, r.DayProfit, 1e-9)
	assert.Equal(t, 1, r.UpCountToday)
	assert.Zero(t, h.d.Pending())

	recent := h.d.Recent(0)
	require.Len(t, recent, 1)
	s := recent[0]
	assert.InDelta(t, fullQuarterKWh, s.EnergyKWh, 1e-9)
	assert.False(t, s.Cancelled)
	assert.False(t, s.WasBackup)
	assert.Equal(t, SourceSensor, s.PriceSource)
	require.NotNil(t, s.Profit)
}

func TestDeferredResolutionAppliesExactlyOnce(t *testing.T) {
	h := newHarness(t, baseOptions(), nil, nil)
	h.run(at(12, 0, 0), at(12, 15, 0), "Fusebox Sell", 3600, model.Float(0.05))

	assert.Equal(t, 1, h.d.Pending())
	assert.Zero(t, h.d.Rollups().AllTimeProfit)
	assert.Zero(t, h.d.Rollups().UpCountToday)
	require.Len(t, h.d.Recent(0), 1)
	assert.Nil(t, h.d.Recent(0)[0].Profit)

	h.prices.mffr[at(12, 0, 0).Unix()] = 0.25
	h.run(at(12, 15, 10), at(12, 16, 0), "Fusebox Sell", 3600, model.Float(0.05))

	r := h.d.Rollups()
	assert.InDelta(t, 0.144, r.AllTimeProfit, 1e-9)
	assert.Equal(t, 1, r.UpCountToday)
	assert.Zero(t, h.d.Pending())

	recent := h.d.Recent(0)
	require.Len(t, recent, 1, "resolved slot replaces its pending copy")
	require.NotNil(t, recent[0].Profit)
	assert.InDelta(t, 0.144, *recent[0].Profit, 1e-9)

	// Re-resolving a resolved slot is a no-op.
	s := recent[0]
	assert.False(t, h.d.resolve(context.Background(), &s))
	assert.InDelta(t, 0.144, h.d.Rollups().AllTimeProfit, 1e-9)
}

func TestRestartKeepsPendingAndTotals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	prices := newFakePrices()
	prices.mffr[at(11, 45, 0).Unix()] = 0.30

	h1 := newHarness(t, baseOptions(), store.NewFileStore(path), prices)
	h1.run(at(11, 45, 0), at(12, 15, 0), "Fusebox Sell", 3600, model.Float(0.05))
	h1.now = at(12, 15, 5)
	require.NoError(t, h1.d.Shutdown(context.Background()))
	assert.ErrorIs(t, h1.d.Tick(context.Background()), ErrStopped)

	before := h1.d.Rollups()
	// 11:45 resolved: (0.30 - 0.05) * 0.9 * 0.8
	assert.InDelta(t, 0.18, before.AllTimeProfit, 1e-9)
	// 12:00 full quarter and the cancelled 12:15 stub wait for prices.
	assert.Equal(t, 2, h1.d.Pending())

	h2 := newHarness(t, baseOptions(), store.NewFileStore(path), prices)
	h2.now = h1.now
	assert.Equal(t, before, h2.d.Rollups())
	assert.Equal(t, 2, h2.d.Pending())
	assert.InDelta(t, 0.18, h2.d.Rollups().AllTimeProfit, 1e-9)

	prices.mffr[at(12, 0, 0).Unix()] = 0.25
	require.NoError(t, h2.tick(at(12, 20, 0), "Normal", 0, nil))
	assert.Equal(t, 1, h2.d.Pending())
	assert.InDelta(t, 0.18+0.144, h2.d.Rollups().AllTimeProfit, 1e-9)

	prices.mffr[at(12, 15, 0).Unix()] = 0.25
	require.NoError(t, h2.tick(at(12, 20, 10), "Normal", 0, nil))
	require.NoError(t, h2.tick(at(12, 20, 20), "Normal", 0, nil))
	assert.Zero(t, h2.d.Pending())
	// 5 s stub: (0.25 - 0.05) * 0.005 * 0.8
	assert.InDelta(t, 0.18+0.144+0.0008, h2.d.Rollups().AllTimeProfit, 1e-9)
	assert.Equal(t, 3, h2.d.Rollups().UpCountToday)
}

func TestLowPowerActivationClosesCancelled(t *testing.T) {
	h := newHarness(t, baseOptions(), nil, nil)
	h.prices.mffr[at(12, 0, 0).Unix()] = 0.25

	h.run(at(12, 0, 0), at(12, 2, 0), "Fusebox Sell", 3600, model.Float(0.05))
	h.run(at(12, 2, 10), at(12, 3, 0), "Fusebox Sell", 0, model.Float(0.05))

	recent := h.d.Recent(1)
	require.Len(t, recent, 1)
	c := recent[0]
	assert.True(t, c.Cancelled)
	assert.Equal(t, model.SignalUp, c.Signal)
	// 130 s held at 3.6 kW, then nothing.
	assert.InDelta(t, 0.13, c.EnergyKWh, 1e-9)
	require.NotNil(t, c.Profit)
	assert.InDelta(t, (0.25-0.05)*0.13*0.8, *c.Profit, 1e-9)
	assert.Equal(t, 1, h.d.Rollups().UpCountToday)
}

func TestShutdownCancelsOpenSlot(t *testing.T) {
	h := newHarness(t, baseOptions(), nil, nil)
	h.run(at(12, 0, 0), at(12, 5, 0), "Fusebox Buy", -1800, model.Float(0.05))

	h.now = at(12, 5, 5)
	require.NoError(t, h.d.Shutdown(context.Background()))
	require.NoError(t, h.d.Shutdown(context.Background()))

	recent := h.d.Recent(0)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Cancelled)
	assert.Equal(t, model.SignalDown, recent[0].Signal)
	assert.InDelta(t, 1.8*305/3600, recent[0].EnergyKWh, 1e-9)
	assert.Equal(t, 1, h.d.Pending())
}

func TestReadErrorIsContained(t *testing.T) {
	h := newHarness(t, baseOptions(), nil, nil)
	h.run(at(12, 0, 0), at(12, 15, 0), "Fusebox Sell", 3600, model.Float(0.05))
	require.Equal(t, 1, h.d.Pending())

	h.prices.mffr[at(12, 0, 0).Unix()] = 0.25
	err := h.failTick(at(12, 15, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sensor offline")

	// Pending slots are still retried on a failed read.
	assert.Zero(t, h.d.Pending())
	assert.InDelta(t, 0.144, h.d.Rollups().AllTimeProfit, 1e-9)

	last, lastErr := h.d.Status()
	assert.WithinDuration(t, at(12, 15, 10), last, 0)
	assert.Error(t, lastErr)

	require.NoError(t, h.tick(at(12, 15, 20), "Fusebox Sell", 3600, nil))
	_, lastErr = h.d.Status()
	assert.NoError(t, lastErr)
}

func TestExpiredPendingIsArchivedNotDropped(t *testing.T) {
	opts := baseOptions()
	opts.PendingMaxAge = time.Hour
	h := newHarness(t, opts, nil, nil)
	h.run(at(12, 0, 0), at(12, 15, 0), "Fusebox Sell", 3600, model.Float(0.05))
	require.Equal(t, 1, h.d.Pending())

	require.Error(t, h.failTick(at(13, 0, 0)))
	assert.Equal(t, 1, h.d.Pending())

	require.Error(t, h.failTick(at(13, 15, 1)))
	assert.Zero(t, h.d.Pending())
	assert.Zero(t, h.d.Rollups().AllTimeProfit)

	recent := h.d.Recent(0)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Expired)
	assert.Nil(t, recent[0].Profit)

	// A price arriving after expiry changes nothing.
	h.prices.mffr[at(12, 0, 0).Unix()] = 0.25
	require.Error(t, h.failTick(at(13, 15, 11)))
	assert.Zero(t, h.d.Rollups().AllTimeProfit)
}

func TestPendingCapacityExpiresOldest(t *testing.T) {
	opts := baseOptions()
	opts.PendingCapacity = 1
	h := newHarness(t, opts, nil, nil)

	h.run(at(12, 0, 0), at(12, 4, 50), "Fusebox Sell", 3000, model.Float(0.05))
	h.run(at(12, 5, 0), at(12, 9, 50), "Fusebox Buy", -3000, model.Float(0.05))
	require.NoError(t, h.tick(at(12, 10, 0), "Normal", 0, model.Float(0.05)))

	assert.Equal(t, 1, h.d.Pending())
	recent := h.d.Recent(0)
	require.Len(t, recent, 2)
	assert.Equal(t, model.SignalDown, recent[1].Signal)
	assert.False(t, recent[1].Expired)
	assert.Equal(t, model.SignalUp, recent[0].Signal)
	assert.True(t, recent[0].Expired)
	assert.True(t, recent[0].Cancelled)
}

func TestIdleSlotNeverPending(t *testing.T) {
	h := newHarness(t, baseOptions(), nil, nil)
	h.run(at(12, 0, 0), at(12, 15, 0), "Normal", 150, nil)

	assert.Zero(t, h.d.Pending())
	r := h.d.Rollups()
	assert.Zero(t, r.AllTimeProfit)
	assert.Zero(t, r.UpCountToday+r.DownCountToday)
	require.Len(t, h.d.Recent(0), 1)
	require.NotNil(t, h.d.Recent(0)[0].Profit)
	assert.Zero(t, *h.d.Recent(0)[0].Profit)
}

func TestPriceSourceModes(t *testing.T) {
	cases := []struct {
		name   string
		mode   PriceSourceMode
		sensor *float64
		profit *float64
		source string
	}{
		{"primary uses sensor", PriceSourcePrimary, model.Float(0.05), model.Float(0.144), SourceSensor},
		{"primary without sensor stays pending", PriceSourcePrimary, nil, nil, ""},
		{"secondary uses api", PriceSourceSecondary, model.Float(0.05), model.Float(0.108), SourceAPI},
		{"auto prefers sensor", PriceSourceAuto, model.Float(0.05), model.Float(0.144), SourceSensor},
		{"auto falls back to api", PriceSourceAuto, nil, model.Float(0.108), SourceAPI},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := baseOptions()
			opts.PriceSource = tc.mode
			h := newHarness(t, opts, nil, nil)
			h.prices.mffr[at(12, 0, 0).Unix()] = 0.25
			h.prices.nordpool[at(12, 0, 0).Unix()] = 0.10

			h.run(at(12, 0, 0), at(12, 15, 0), "Fusebox Sell", 3600, tc.sensor)

			s := h.d.Recent(0)[0]
			assert.Equal(t, tc.source, s.PriceSource)
			if tc.profit == nil {
				assert.Nil(t, s.Profit)
				assert.Equal(t, 1, h.d.Pending())
				return
			}
			require.NotNil(t, s.Profit)
			assert.InDelta(t, *tc.profit, *s.Profit, 1e-9)
		})
	}
}

func TestLoadFailureStartsCold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	h := newHarness(t, baseOptions(), store.NewFileStore(path), nil)
	assert.Equal(t, model.Rollups{}, h.d.rollups)
	assert.Zero(t, h.d.Pending())

	// The next close overwrites the corrupt file.
	h.run(at(12, 0, 0), at(12, 15, 0), "Normal", 0, nil)
	_, err := store.NewFileStore(path).Load()
	assert.NoError(t, err)
}

func TestNewValidatesOptions(t *testing.T) {
	prices := newFakePrices()
	_, err := New(&fakeReader{}, prices, nil, nil, Options{FeeFraction: 1})
	assert.Error(t, err)
	_, err = New(&fakeReader{}, prices, nil, nil, Options{FeeFraction: -0.1})
	assert.Error(t, err)
	_, err = New(&fakeReader{}, prices, nil, nil, Options{PriceSource: "nordpool"})
	assert.Error(t, err)
	_, err = New(nil, prices, nil, nil, Options{})
	assert.Error(t, err)

	d, err := New(&fakeReader{}, prices, nil, nil, Options{PriceSource: "Auto-Fallback"})
	require.NoError(t, err)
	assert.Equal(t, PriceSourceAuto, d.opts.PriceSource)
}

func TestPriceWanted(t *testing.T) {
	h := newHarness(t, baseOptions(), nil, nil)
	h.run(at(12, 0, 0), at(12, 15, 0), "Fusebox Sell", 3600, model.Float(0.05))

	wanted := h.d.PriceWanted()
	require.Len(t, wanted, 2)
	assert.WithinDuration(t, at(12, 15, 0), wanted[0], 0)
	assert.WithinDuration(t, at(12, 0, 0), wanted[1], 0)
}
