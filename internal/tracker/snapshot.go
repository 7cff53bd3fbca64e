package tracker

import (
	"context"

	"github.com/andressade/MFFR-Profit-Tracker/internal/calculator"
	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
	"github.com/andressade/MFFR-Profit-Tracker/internal/rollup"
)

// Snapshot returns the exposed view of the tracker. Period totals are
// rolled over to now first, so yesterday's day total never shows today.
// Prices of the open slot come from the resolver's cache only.
func (d *Driver) Snapshot() model.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	rollup.Rollover(&d.rollups, now, d.opts.Location)
	r := d.rollups

	snap := model.Snapshot{
		Timestamp:     now,
		Signal:        model.SignalIdle,
		MFFRPowerW:    model.Round(d.acc.MFFRPowerW(), model.PowerPlaces),
		BaselineW:     model.RoundPtr(d.acc.BaselineW(), model.PowerPlaces),
		TodayProfit:   model.Round(r.DayProfit, model.ProfitPlaces),
		WeekProfit:    model.Round(r.WeekProfit, model.ProfitPlaces),
		MonthProfit:   model.Round(r.MonthProfit, model.ProfitPlaces),
		YearProfit:    model.Round(r.YearProfit, model.ProfitPlaces),
		AllTimeProfit: model.Round(r.AllTimeProfit, model.ProfitPlaces),
		UpCount:       r.UpCountToday,
		DownCount:     r.DownCountToday,
		PendingSlots:  len(d.pending),
		RecentSlots:   make([]model.SlotView, 0, len(d.recent)),
	}

	ps, cached := d.prices.(priceStatus)
	if cached {
		snap.LastPriceFetch = ps.LastFetch()
	}

	if cur := d.acc.Current(); cur != nil {
		snap.Signal = cur.Signal
		snap.SlotStart = cur.Start
		snap.SlotEnd = cur.End
		snap.SlotEnergyKWh = model.Round(cur.EnergyKWh, model.EnergyPlaces)
		snap.SlotWasBackup = cur.WasBackup
		snap.DurationMin = model.Round(cur.DurationS/60, 2)

		ctx := context.Background()
		if v, ok := d.prices.MFFRPrice(ctx, cur.Start, cur.End); ok {
			snap.MFFRPrice = model.Float(v)
		}
		snap.NordpoolPrice, snap.PriceSource = d.nordpoolFor(ctx, cur)
		if cached {
			snap.PriceCacheHit = ps.Has(cur.Start)
		}
		if p, ok := calculator.Profit(cur.Signal, cur.EnergyKWh, snap.NordpoolPrice, snap.MFFRPrice, d.opts.FeeFraction); ok {
			snap.SlotProfit = model.RoundPtr(&p, model.ProfitPlaces)
		}
	}

	for _, s := range d.recent {
		snap.RecentSlots = append(snap.RecentSlots, model.NewSlotView(s))
	}
	return snap
}
