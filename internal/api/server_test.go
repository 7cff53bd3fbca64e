package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
	"github.com/andressade/MFFR-Profit-Tracker/internal/recorder"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

var eet = time.FixedZone("EET", 2*3600)

type fakeSource struct {
	snap     model.Snapshot
	recent   []model.Slot
	lastTick time.Time
	lastErr  error
}

func (f *fakeSource) Snapshot() model.Snapshot   { return f.snap }
func (f *fakeSource) Recent(int) []model.Slot    { return f.recent }
func (f *fakeSource) Status() (time.Time, error) { return f.lastTick, f.lastErr }
func (f *fakeSource) Location() *time.Location   { return eet }

type fakeHistory struct {
	recorder.NoopRecorder
	got   recorder.SlotQuery
	slots []model.Slot
	err   error
}

func (f *fakeHistory) ListSlots(q recorder.SlotQuery) ([]model.Slot, error) {
	f.got = q
	return f.slots, f.err
}

func slotAt(h, m int, sig model.Signal, profit *float64) model.Slot {
	start := time.Date(2025, 6, 11, h, m, 0, 0, eet)
	return model.Slot{Start: start, End: start.Add(model.SlotLength), Signal: sig, EnergyKWh: 0.25, Profit: profit}
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w, body
}

func TestHealth(t *testing.T) {
	src := &fakeSource{}
	s := NewServer(src, nil, nil)

	w, body := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Nil(t, body["last_tick"])

	src.lastTick = time.Date(2025, 6, 11, 10, 0, 0, 0, eet)
	src.lastErr = errors.New("read sample: timeout")
	_, body = get(t, s.Handler(), "/health")
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "read sample: timeout", body["last_error"])
}

func TestSnapshot(t *testing.T) {
	src := &fakeSource{snap: model.Snapshot{Signal: model.SignalUp, TodayProfit: 0.1234, PendingSlots: 2}}
	w, body := get(t, NewServer(src, nil, nil).Handler(), "/api/snapshot")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "UP", body["signal"])
	assert.Equal(t, 0.1234, body["today_profit"])
	assert.Equal(t, float64(2), body["pending_slots"])
	assert.Contains(t, body, "slot_profit")
}

func TestSlotsFromRecentLog(t *testing.T) {
	src := &fakeSource{recent: []model.Slot{
		slotAt(11, 0, model.SignalUp, model.Float(0.123456)),
		slotAt(10, 45, model.SignalDown, nil),
		slotAt(10, 30, model.SignalUp, model.Float(0.05)),
	}}
	h := NewServer(src, nil, nil).Handler()

	_, body := get(t, h, "/api/slots")
	assert.Equal(t, float64(3), body["count"])
	slots := body["slots"].([]interface{})
	first := slots[0].(map[string]interface{})
	assert.Equal(t, 0.1235, first["profit"])
	assert.Nil(t, slots[1].(map[string]interface{})["profit"])

	_, body = get(t, h, "/api/slots?signal=up&limit=1")
	assert.Equal(t, float64(1), body["count"])

	_, body = get(t, h, "/api/slots?from=2025-06-11T10:40:00%2B02:00&to=2025-06-11T11:00:00%2B02:00")
	assert.Equal(t, float64(1), body["count"])
}

func TestSlotsFromHistory(t *testing.T) {
	hist := &fakeHistory{slots: []model.Slot{slotAt(9, 0, model.SignalDown, model.Float(0.01))}}
	h := NewServer(&fakeSource{}, hist, nil).Handler()

	w, body := get(t, h, "/api/slots?from=2025-06-11&limit=5000&signal=DOWN")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])
	assert.True(t, hist.got.From.Equal(time.Date(2025, 6, 11, 0, 0, 0, 0, eet)))
	assert.Equal(t, maxSlotLimit, hist.got.Limit)
	assert.Equal(t, model.SignalDown, hist.got.Signal)

	hist.err = errors.New("disk I/O error")
	w, body = get(t, h, "/api/slots")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "HISTORY_ERROR", body["error"].(map[string]interface{})["code"])
}

func TestSlotsRejectsBadParams(t *testing.T) {
	h := NewServer(&fakeSource{}, nil, nil).Handler()
	for _, target := range []string{"/api/slots?from=yesterday", "/api/slots?to=2025-13-01", "/api/slots?limit=-1", "/api/slots?limit=x"} {
		w, body := get(t, h, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, "INVALID_PARAM", body["error"].(map[string]interface{})["code"], target)
	}
}

func TestNotFoundAndCORS(t *testing.T) {
	h := NewServer(&fakeSource{}, nil, []string{"https://ha.example"}).Handler()

	w, body := get(t, h, "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]interface{})["code"])

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://ha.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://ha.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

type panicSource struct{ fakeSource }

func (panicSource) Snapshot() model.Snapshot { panic("snapshot exploded") }

func TestRecoveryEnvelope(t *testing.T) {
	w, body := get(t, NewServer(&panicSource{}, nil, nil).Handler(), "/api/snapshot")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	detail := body["error"].(map[string]interface{})
	assert.Equal(t, "INTERNAL_ERROR", detail["code"])
	assert.Equal(t, "snapshot exploded", detail["message"])
}
