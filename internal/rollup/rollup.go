package rollup

import (
	"errors"
	"fmt"
	"time"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

// ErrPending is returned when a slot without a resolved profit is applied.
var ErrPending = errors.New("slot profit is pending")

type periods struct {
	day   string
	week  model.ISOWeek
	month string
	year  int
}

func periodsOf(t time.Time, loc *time.Location) periods {
	if loc != nil {
		t = t.In(loc)
	}
	y, w := t.ISOWeek()
	return periods{
		day:   t.Format("2006-01-02"),
		week:  model.ISOWeek{y, w},
		month: t.Format("2006-01"),
		year:  t.Year(),
	}
}

// relation of a slot's period to the stored marker.
type relation int

const (
	older relation = iota - 1
	same
	newer
)

func compareString(slot, marker string) relation {
	switch {
	case marker == "" || slot > marker:
		return newer
	case slot < marker:
		return older
	}
	return same
}

func compareWeek(slot, marker model.ISOWeek) relation {
	switch {
	case marker.IsZero() || marker.Before(slot):
		return newer
	case slot.Before(marker):
		return older
	}
	return same
}

func compareInt(slot, marker int) relation {
	switch {
	case marker == 0 || slot > marker:
		return newer
	case slot < marker:
		return older
	}
	return same
}

// advance moves the markers forward to p, zeroing every counter whose
// period changed. Markers never move backwards.
func advance(r *model.Rollups, p periods) (day, week, month, year relation) {
	day = compareString(p.day, r.CurrentDay)
	if day == newer {
		r.CurrentDay = p.day
		r.DayProfit = 0
		r.UpCountToday = 0
		r.DownCountToday = 0
	}
	week = compareWeek(p.week, r.CurrentWeek)
	if week == newer {
		r.CurrentWeek = p.week
		r.WeekProfit = 0
	}
	month = compareString(p.month, r.CurrentMonth)
	if month == newer {
		r.CurrentMonth = p.month
		r.MonthProfit = 0
	}
	year = compareInt(p.year, r.CurrentYear)
	if year == newer {
		r.CurrentYear = p.year
		r.YearProfit = 0
	}
	return day, week, month, year
}

// Apply adds a resolved slot to the rollups. It must be called exactly once
// per slot. A slot from a newer period rolls that period over first; a slot
// from an older period (resolved late) only counts toward the periods it
// still belongs to and toward the all-time total.
func Apply(r *model.Rollups, s model.Slot, loc *time.Location) error {
	if s.Profit == nil {
		return fmt.Errorf("apply slot %s: %w", s.ID(), ErrPending)
	}
	profit := *s.Profit
	day, week, month, year := advance(r, periodsOf(s.Start, loc))

	if day != older {
		r.DayProfit += profit
		switch s.Signal {
		case model.SignalUp:
			r.UpCountToday++
		case model.SignalDown:
			r.DownCountToday++
		}
	}
	if week != older {
		r.WeekProfit += profit
	}
	if month != older {
		r.MonthProfit += profit
	}
	if year != older {
		r.YearProfit += profit
	}
	r.AllTimeProfit += profit
	return nil
}

// Rollover advances the markers to the periods containing now, zeroing
// counters of periods that have ended.
func Rollover(r *model.Rollups, now time.Time, loc *time.Location) {
	advance(r, periodsOf(now, loc))
}
