package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

func signalIcon(s model.Signal) string {
	switch s {
	case model.SignalUp:
		return "🔼"
	case model.SignalDown:
		return "🔽"
	}
	return "⏸"
}

func euro(v *float64) string {
	if v == nil {
		return "pending"
	}
	return fmt.Sprintf("€%.4f", *v)
}

// FormatDailySummary formats the end-of-day report.
func FormatDailySummary(day string, r model.Rollups, slots []model.Slot, pending int) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>MFFR daily summary</b> | %s\n\n", day))
	b.WriteString(fmt.Sprintf("Today: €%.4f\n", r.DayProfit))
	b.WriteString(fmt.Sprintf("Activations: %d up / %d down\n", r.UpCountToday, r.DownCountToday))

	var energy float64
	for _, s := range slots {
		if s.Signal.Active() {
			energy += s.EnergyKWh
		}
	}
	b.WriteString(fmt.Sprintf("Activated energy: %.3f kWh\n\n", energy))

	b.WriteString(fmt.Sprintf("Week: €%.4f\n", r.WeekProfit))
	b.WriteString(fmt.Sprintf("Month: €%.4f\n", r.MonthProfit))
	b.WriteString(fmt.Sprintf("Year: €%.4f\n", r.YearProfit))
	b.WriteString(fmt.Sprintf("All time: €%.4f\n", r.AllTimeProfit))
	if pending > 0 {
		b.WriteString(fmt.Sprintf("\n⏳ %d slot(s) still waiting for prices\n", pending))
	}
	return b.String()
}

// FormatToday formats the /today reply.
func FormatToday(snap model.Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("💶 <b>Today</b> | %s\n\n", snap.Timestamp.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Profit: €%.4f\n", snap.TodayProfit))
	b.WriteString(fmt.Sprintf("Activations: %d up / %d down\n", snap.UpCount, snap.DownCount))
	b.WriteString(fmt.Sprintf("Week €%.4f | Month €%.4f | Year €%.4f\n", snap.WeekProfit, snap.MonthProfit, snap.YearProfit))
	b.WriteString(fmt.Sprintf("All time: €%.4f\n", snap.AllTimeProfit))
	return b.String()
}

// FormatSlots formats the most recent closed slots, newest first.
func FormatSlots(slots []model.Slot, loc *time.Location) string {
	if len(slots) == 0 {
		return "No closed slots yet."
	}
	var b strings.Builder
	b.WriteString("🕒 <b>Recent slots</b>\n\n")
	for _, s := range slots {
		start := s.Start
		if loc != nil {
			start = start.In(loc)
		}
		var flags []string
		if s.WasBackup {
			flags = append(flags, "backup")
		}
		if s.Cancelled {
			flags = append(flags, "cancelled")
		}
		if s.Expired {
			flags = append(flags, "expired")
		}
		line := fmt.Sprintf("%s %s %s %.3f kWh %s",
			start.Format("01-02 15:04"), signalIcon(s.Signal), s.Signal, s.EnergyKWh, euro(model.RoundPtr(s.Profit, model.ProfitPlaces)))
		if len(flags) > 0 {
			line += " (" + strings.Join(flags, ", ") + ")"
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// FormatStatus formats the /status reply.
func FormatStatus(snap model.Snapshot, lastTick time.Time, lastErr error) string {
	var b strings.Builder
	b.WriteString("⚙️ <b>Tracker status</b>\n\n")
	b.WriteString(fmt.Sprintf("Signal: %s %s\n", signalIcon(snap.Signal), snap.Signal))
	b.WriteString(fmt.Sprintf("MFFR power: %.0f W\n", snap.MFFRPowerW))
	if snap.BaselineW != nil {
		b.WriteString(fmt.Sprintf("Baseline: %.0f W\n", *snap.BaselineW))
	}
	if !snap.SlotStart.IsZero() {
		b.WriteString(fmt.Sprintf("Slot: %s–%s, %.3f kWh, %s\n",
			snap.SlotStart.Format("15:04"), snap.SlotEnd.Format("15:04"), snap.SlotEnergyKWh, euro(snap.SlotProfit)))
	}
	b.WriteString(fmt.Sprintf("Pending slots: %d\n", snap.PendingSlots))
	if !snap.LastPriceFetch.IsZero() {
		b.WriteString(fmt.Sprintf("Last price fetch: %s\n", snap.LastPriceFetch.Format("15:04:05")))
	}
	if lastTick.IsZero() {
		b.WriteString("Last tick: never\n")
	} else {
		b.WriteString(fmt.Sprintf("Last tick: %s\n", lastTick.Format("15:04:05")))
	}
	if lastErr != nil {
		b.WriteString(fmt.Sprintf("⚠️ Last error: %v\n", lastErr))
	}
	return b.String()
}

// FormatHelp lists the supported commands.
func FormatHelp() string {
	return "Commands:\n/today - profit totals\n/slots - recent slots\n/status - tracker state\n/help - this message"
}
