package model

import "time"

// Rollups holds the calendar-period profit totals and their boundary markers.
type Rollups struct {
	DayProfit      float64 `json:"day_profit"`
	WeekProfit     float64 `json:"week_profit"`
	MonthProfit    float64 `json:"month_profit"`
	YearProfit     float64 `json:"year_profit"`
	AllTimeProfit  float64 `json:"all_time_profit"`
	UpCountToday   int     `json:"up_count_today"`
	DownCountToday int     `json:"down_count_today"`

	CurrentDay   string  `json:"current_day"`      // 2006-01-02
	CurrentWeek  ISOWeek `json:"current_iso_week"` // [iso_year, iso_week]
	CurrentMonth string  `json:"current_month"`    // 2006-01
	CurrentYear  int     `json:"current_year"`
}

// ISOWeek is an (ISO year, ISO week) pair.
type ISOWeek [2]int

// Before reports whether w is an earlier week than o.
func (w ISOWeek) Before(o ISOWeek) bool {
	if w[0] != o[0] {
		return w[0] < o[0]
	}
	return w[1] < o[1]
}

// IsZero reports whether the marker was never set.
func (w ISOWeek) IsZero() bool {
	return w[0] == 0 && w[1] == 0
}

// State is the persisted aggregate owned by the tracker.
type State struct {
	Version int       `json:"version"`
	Rollups Rollups   `json:"rollups"`
	Pending []Slot    `json:"pending"`
	Recent  []Slot    `json:"recent"`
	SavedAt time.Time `json:"saved_at"`
}

// StateVersion is the current persisted layout.
const StateVersion = 1
