package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Display precision. Totals are kept unrounded internally.
const (
	ProfitPlaces = 4
	EnergyPlaces = 6
	PowerPlaces  = 2
)

// Snapshot is the per-tick view exposed to collaborators.
type Snapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	Signal         Signal    `json:"signal"`
	MFFRPowerW     float64   `json:"mffr_power_w"`
	BaselineW      *float64  `json:"baseline_w"`
	SlotStart      time.Time `json:"slot_start"`
	SlotEnd        time.Time `json:"slot_end"`
	SlotEnergyKWh  float64   `json:"slot_energy_kwh"`
	SlotProfit     *float64  `json:"slot_profit"`
	SlotWasBackup  bool      `json:"was_backup"`
	SlotCancelled  bool      `json:"cancelled"`
	DurationMin    float64   `json:"duration_minutes"`
	MFFRPrice      *float64  `json:"mffr_price"`
	NordpoolPrice  *float64  `json:"nordpool_price"`
	PriceSource    string    `json:"nps_source_active"`
	PriceCacheHit  bool      `json:"price_cache_hit"`
	LastPriceFetch time.Time `json:"last_price_fetch"`

	TodayProfit   float64 `json:"today_profit"`
	WeekProfit    float64 `json:"week_profit"`
	MonthProfit   float64 `json:"month_profit"`
	YearProfit    float64 `json:"year_profit"`
	AllTimeProfit float64 `json:"all_time_profit"`
	UpCount       int     `json:"up_count"`
	DownCount     int     `json:"down_count"`
	PendingSlots  int     `json:"pending_slots"`

	RecentSlots []SlotView `json:"recent_slots"`
}

// SlotView is a closed slot rounded for display.
type SlotView struct {
	Start         time.Time `json:"timeslot"`
	End           time.Time `json:"end"`
	Signal        Signal    `json:"signal"`
	EnergyKWh     float64   `json:"energy_kwh"`
	Profit        *float64  `json:"profit"`
	WasBackup     bool      `json:"was_backup"`
	Cancelled     bool      `json:"cancelled"`
	Anomalous     bool      `json:"anomalous,omitempty"`
	Expired       bool      `json:"expired,omitempty"`
	BaselineW     *float64  `json:"baseline_w"`
	MFFRPrice     *float64  `json:"mffr_price"`
	NordpoolPrice *float64  `json:"nordpool_price"`
}

// NewSlotView rounds a slot for presentation.
func NewSlotView(s Slot) SlotView {
	return SlotView{
		Start:         s.Start,
		End:           s.End,
		Signal:        s.Signal,
		EnergyKWh:     Round(s.EnergyKWh, EnergyPlaces),
		Profit:        RoundPtr(s.Profit, ProfitPlaces),
		WasBackup:     s.WasBackup,
		Cancelled:     s.Cancelled,
		Anomalous:     s.Anomalous,
		Expired:       s.Expired,
		BaselineW:     RoundPtr(s.BaselineW, PowerPlaces),
		MFFRPrice:     s.MFFRPrice,
		NordpoolPrice: s.NordpoolPrice,
	}
}

// Round rounds half away from zero at the given decimal places.
func Round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// RoundPtr rounds v, keeping nil as nil.
func RoundPtr(v *float64, places int32) *float64 {
	if v == nil {
		return nil
	}
	r := Round(*v, places)
	return &r
}
