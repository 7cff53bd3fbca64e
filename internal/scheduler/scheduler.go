package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
	"github.com/andressade/MFFR-Profit-Tracker/internal/notifier"
	"github.com/andressade/MFFR-Profit-Tracker/internal/recorder"
	"github.com/andressade/MFFR-Profit-Tracker/internal/tracker"
)

// Notifier delivers chat messages. A nil Notifier disables delivery.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// PriceRefresher fetches activation prices the tracker is waiting for.
type PriceRefresher interface {
	RefreshMissing(ctx context.Context, wanted []time.Time) (bool, error)
}

// Schedules holds the cron specs of the recurring jobs.
type Schedules struct {
	ScanInterval time.Duration
	PriceRefresh string
	DailySummary string
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron     *cron.Cron
	Driver   *tracker.Driver
	Prices   PriceRefresher
	Notifier Notifier
	Recorder recorder.Recorder
	Ctx      context.Context
}

// NewScheduler creates a scheduler running in the driver's zone.
func NewScheduler(ctx context.Context, d *tracker.Driver, prices PriceRefresher, n Notifier, rec recorder.Recorder) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	if rec == nil {
		rec = recorder.NewNoopRecorder()
	}
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(d.Location()),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
			cron.WithLogger(logger),
		),
		Driver:   d,
		Prices:   prices,
		Notifier: n,
		Recorder: rec,
		Ctx:      ctx,
	}
}

// RegisterAll registers the tick, price refresh and daily summary jobs.
func (s *Scheduler) RegisterAll(sch Schedules) error {
	if sch.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}
	if _, err := s.Cron.AddFunc(fmt.Sprintf("@every %s", sch.ScanInterval), s.tick); err != nil {
		return fmt.Errorf("register tick task: %w", err)
	}
	if s.Prices != nil && sch.PriceRefresh != "" {
		if _, err := s.Cron.AddFunc(sch.PriceRefresh, s.refreshPrices); err != nil {
			return fmt.Errorf("register price refresh task: %w", err)
		}
	}
	if sch.DailySummary != "" {
		if _, err := s.Cron.AddFunc(sch.DailySummary, s.dailySummary); err != nil {
			return fmt.Errorf("register daily summary task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info("scheduler stopped")
}

// RunOnce runs a price refresh followed by one tick.
func (s *Scheduler) RunOnce() error {
	s.refreshPrices()
	return s.Driver.Tick(s.Ctx)
}

func (s *Scheduler) tick() {
	if err := s.Driver.Tick(s.Ctx); err != nil {
		log.Errorf("tick: %v", err)
	}
}

func (s *Scheduler) refreshPrices() {
	if s.Prices == nil {
		return
	}
	wanted := s.Driver.PriceWanted()
	fetched, err := s.Prices.RefreshMissing(s.Ctx, wanted)
	if err != nil {
		log.Warnf("price refresh: %v", err)
		return
	}
	if fetched {
		log.Debugf("prices refreshed for %d wanted slot(s)", len(wanted))
	}
}

func (s *Scheduler) dailySummary() {
	r := s.Driver.Rollups()
	day := r.CurrentDay
	slots := s.daySlots(day)
	pending := s.Driver.Pending()
	log.Infof("daily summary %s: profit %.4f, %d slot(s)", day, r.DayProfit, len(slots))

	if err := s.Recorder.RecordDailySummary(&recorder.DailySummary{
		Day:       day,
		Rollups:   r,
		Slots:     len(slots),
		Pending:   pending,
		CreatedAt: time.Now(),
	}); err != nil {
		log.Errorf("record daily summary: %v", err)
	}
	s.trySend(notifier.FormatDailySummary(day, r, slots, pending))
}

// daySlots returns the closed slots starting on day, preferring the
// recorder history over the in-memory recent log.
func (s *Scheduler) daySlots(day string) []model.Slot {
	loc := s.Driver.Location()
	from, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return nil
	}
	to := from.AddDate(0, 0, 1)
	slots, err := s.Recorder.ListSlots(recorder.SlotQuery{From: from, To: to})
	if err != nil {
		log.Warnf("list slots for %s: %v", day, err)
	}
	if len(slots) > 0 {
		return slots
	}
	var out []model.Slot
	for _, sl := range s.Driver.Recent(0) {
		if !sl.Start.Before(from) && sl.Start.Before(to) {
			out = append(out, sl)
		}
	}
	return out
}

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	cmd := strings.Fields(command)
	if len(cmd) == 0 {
		return notifier.FormatHelp()
	}
	// Group chats address commands as /today@botname.
	name, _, _ := strings.Cut(cmd[0], "@")
	switch name {
	case "/today":
		return notifier.FormatToday(s.Driver.Snapshot())
	case "/slots":
		return notifier.FormatSlots(s.Driver.Recent(10), s.Driver.Location())
	case "/status":
		lastTick, lastErr := s.Driver.Status()
		return notifier.FormatStatus(s.Driver.Snapshot(), lastTick, lastErr)
	default:
		return notifier.FormatHelp()
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		log.Errorf("send notification: %v", err)
	}
}
