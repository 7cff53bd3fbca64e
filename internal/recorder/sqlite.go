package recorder

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

// SQLiteRecorder persists the slot history to a SQLite database.
type SQLiteRecorder struct {
	db  *sql.DB
	loc *time.Location
	mu  sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
// Times read back are expressed in loc.
func NewSQLiteRecorder(dbPath string, loc *time.Location) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	// WAL mode so readers (HTTP API, dashboards) don't block the tracker.
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if loc == nil {
		loc = time.Local
	}
	r := &SQLiteRecorder{db: db, loc: loc}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Infof("sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS slots (
			id              TEXT PRIMARY KEY,
			slot_start      INTEGER NOT NULL,
			slot_end        INTEGER NOT NULL,
			opened_at       INTEGER NOT NULL,
			closed_at       INTEGER NOT NULL,
			signal          TEXT NOT NULL,
			energy_kwh      REAL,
			duration_s      REAL,
			samples         INTEGER,
			baseline_w      REAL,
			mffr_power_w    REAL,
			was_backup      INTEGER,
			cancelled       INTEGER,
			anomalous       INTEGER,
			expired         INTEGER,
			sensor_nordpool REAL,
			mffr_price      REAL,
			nordpool_price  REAL,
			price_source    TEXT,
			profit          REAL,
			updated_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_start ON slots(slot_start)`,

		`CREATE TABLE IF NOT EXISTS daily_summaries (
			day              TEXT PRIMARY KEY,
			day_profit       REAL,
			week_profit      REAL,
			month_profit     REAL,
			year_profit      REAL,
			all_time_profit  REAL,
			up_count         INTEGER,
			down_count       INTEGER,
			slots            INTEGER,
			pending          INTEGER,
			created_at       INTEGER NOT NULL
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func ptrFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func (r *SQLiteRecorder) RecordSlot(s *model.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO slots
		(id, slot_start, slot_end, opened_at, closed_at, signal,
		 energy_kwh, duration_s, samples, baseline_w, mffr_power_w,
		 was_backup, cancelled, anomalous, expired,
		 sensor_nordpool, mffr_price, nordpool_price, price_source, profit, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			expired        = excluded.expired,
			mffr_price     = excluded.mffr_price,
			nordpool_price = excluded.nordpool_price,
			price_source   = excluded.price_source,
			profit         = COALESCE(slots.profit, excluded.profit),
			updated_at     = excluded.updated_at`,
		s.ID(), s.Start.Unix(), s.End.Unix(), s.OpenedAt.UnixMilli(), s.ClosedAt.UnixMilli(), string(s.Signal),
		s.EnergyKWh, s.DurationS, s.Samples, nullFloat(s.BaselineW), s.MFFRPowerW,
		s.WasBackup, s.Cancelled, s.Anomalous, s.Expired,
		nullFloat(s.SensorNordpool), nullFloat(s.MFFRPrice), nullFloat(s.NordpoolPrice), s.PriceSource, nullFloat(s.Profit),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record slot %s: %w", s.ID(), err)
	}
	return nil
}

func (r *SQLiteRecorder) RecordDailySummary(sum *DailySummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := sum.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	ru := sum.Rollups
	_, err := r.db.Exec(`INSERT OR REPLACE INTO daily_summaries
		(day, day_profit, week_profit, month_profit, year_profit, all_time_profit,
		 up_count, down_count, slots, pending, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		sum.Day, ru.DayProfit, ru.WeekProfit, ru.MonthProfit, ru.YearProfit, ru.AllTimeProfit,
		ru.UpCountToday, ru.DownCountToday, sum.Slots, sum.Pending, created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record daily summary %s: %w", sum.Day, err)
	}
	return nil
}

func (r *SQLiteRecorder) ListSlots(q SlotQuery) ([]model.Slot, error) {
	var where []string
	var args []interface{}
	if !q.From.IsZero() {
		where = append(where, "slot_start >= ?")
		args = append(args, q.From.Unix())
	}
	if !q.To.IsZero() {
		where = append(where, "slot_start < ?")
		args = append(args, q.To.Unix())
	}
	if q.Signal != "" {
		where = append(where, "signal = ?")
		args = append(args, string(q.Signal))
	}

	query := `SELECT slot_start, slot_end, opened_at, closed_at, signal,
		energy_kwh, duration_s, samples, baseline_w, mffr_power_w,
		was_backup, cancelled, anomalous, expired,
		sensor_nordpool, mffr_price, nordpool_price, price_source, profit
		FROM slots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY slot_start DESC, opened_at DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var out []model.Slot
	for rows.Next() {
		var (
			s                               model.Slot
			start, end, opened, closed      int64
			signal, source                  string
			baseline, sensor, mffr, np, pft sql.NullFloat64
		)
		if err := rows.Scan(&start, &end, &opened, &closed, &signal,
			&s.EnergyKWh, &s.DurationS, &s.Samples, &baseline, &s.MFFRPowerW,
			&s.WasBackup, &s.Cancelled, &s.Anomalous, &s.Expired,
			&sensor, &mffr, &np, &source, &pft); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		s.Start = time.Unix(start, 0).In(r.loc)
		s.End = time.Unix(end, 0).In(r.loc)
		s.OpenedAt = time.UnixMilli(opened).In(r.loc)
		s.ClosedAt = time.UnixMilli(closed).In(r.loc)
		s.Signal = model.ParseSignal(signal)
		s.PriceSource = source
		s.BaselineW = ptrFloat(baseline)
		s.SensorNordpool = ptrFloat(sensor)
		s.MFFRPrice = ptrFloat(mffr)
		s.NordpoolPrice = ptrFloat(np)
		s.Profit = ptrFloat(pft)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Info("closing sqlite recorder")
	return r.db.Close()
}
