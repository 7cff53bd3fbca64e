package recorder

import "github.com/andressade/MFFR-Profit-Tracker/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordSlot(_ *model.Slot) error              { return nil }
func (n *NoopRecorder) RecordDailySummary(_ *DailySummary) error    { return nil }
func (n *NoopRecorder) ListSlots(_ SlotQuery) ([]model.Slot, error) { return nil, nil }
func (n *NoopRecorder) Close() error                                { return nil }
