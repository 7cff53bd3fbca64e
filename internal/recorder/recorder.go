package recorder

import (
	"time"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

// SlotQuery filters the slot history. Zero fields are not applied.
type SlotQuery struct {
	From   time.Time
	To     time.Time
	Signal model.Signal
	Limit  int
}

// DailySummary records the closing totals of one local day.
type DailySummary struct {
	Day       string // 2006-01-02
	Rollups   model.Rollups
	Slots     int
	Pending   int
	CreatedAt time.Time
}

// Recorder persists the slot history for analysis.
type Recorder interface {
	// RecordSlot inserts a closed slot or updates it when its profit
	// resolves later.
	RecordSlot(s *model.Slot) error
	RecordDailySummary(sum *DailySummary) error
	// ListSlots returns matching slots, newest first.
	ListSlots(q SlotQuery) ([]model.Slot, error)
	Close() error
}
