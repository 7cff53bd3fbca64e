// Package api serves the tracker snapshot and slot history as JSON.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
	"github.com/andressade/MFFR-Profit-Tracker/internal/recorder"
)

const (
	defaultSlotLimit = 96
	maxSlotLimit     = 1000
)

// Source is the tracker state the API reads.
type Source interface {
	Snapshot() model.Snapshot
	Recent(n int) []model.Slot
	Status() (time.Time, error)
	Location() *time.Location
}

// Server is the HTTP front of the tracker.
type Server struct {
	src     Source
	history recorder.Recorder
	handler http.Handler
	srv     *http.Server
}

// NewServer builds the router. history may be nil, in which case slot
// queries are answered from the in-memory recent log.
func NewServer(src Source, history recorder.Recorder, corsOrigins []string) *Server {
	router := gin.New()
	router.Use(requestLogger())
	router.Use(errorHandler())

	s := &Server{src: src, history: history}

	router.GET("/health", s.health)
	api := router.Group("/api")
	{
		api.GET("/snapshot", s.snapshot)
		api.GET("/slots", s.slots)
	}
	router.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, "NOT_FOUND", "Not found")
	})

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}).Handler(router)
	return s
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("HTTP API listening on %s", addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP API: %v", err)
		}
	}()
}

// Shutdown stops the listener, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	lastTick, lastErr := s.src.Status()
	body := gin.H{"status": "ok", "last_tick": nil, "last_error": nil}
	if !lastTick.IsZero() {
		body["last_tick"] = lastTick
	}
	if lastErr != nil {
		body["status"] = "degraded"
		body["last_error"] = lastErr.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Snapshot())
}

// slots handles GET /api/slots?from=&to=&limit=&signal=. from and to accept
// RFC 3339 or a local date.
func (s *Server) slots(c *gin.Context) {
	loc := s.src.Location()
	q := recorder.SlotQuery{Limit: defaultSlotLimit}

	var err error
	if q.From, err = parseBound(c.Query("from"), loc); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_PARAM", fmt.Sprintf("from: %v", err))
		return
	}
	if q.To, err = parseBound(c.Query("to"), loc); err != nil {
		abortWithError(c, http.StatusBadRequest, "INVALID_PARAM", fmt.Sprintf("to: %v", err))
		return
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			abortWithError(c, http.StatusBadRequest, "INVALID_PARAM", "limit must be a positive integer")
			return
		}
		q.Limit = min(n, maxSlotLimit)
	}
	if v := c.Query("signal"); v != "" {
		q.Signal = model.ParseSignal(v)
	}

	var slots []model.Slot
	if s.history != nil {
		slots, err = s.history.ListSlots(q)
		if err != nil {
			log.Errorf("list slots: %v", err)
			abortWithError(c, http.StatusInternalServerError, "HISTORY_ERROR", "Failed to read slot history")
			return
		}
	} else {
		slots = filterRecent(s.src.Recent(0), q)
	}

	views := make([]model.SlotView, len(slots))
	for i, sl := range slots {
		views[i] = model.NewSlotView(sl)
	}
	c.JSON(http.StatusOK, gin.H{"slots": views, "count": len(views)})
}

func parseBound(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", v, loc)
}

// filterRecent applies q to a newest-first slot list.
func filterRecent(recent []model.Slot, q recorder.SlotQuery) []model.Slot {
	var out []model.Slot
	for _, sl := range recent {
		if !q.From.IsZero() && sl.Start.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !sl.Start.Before(q.To) {
			continue
		}
		if q.Signal != "" && sl.Signal != q.Signal {
			continue
		}
		out = append(out, sl)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out
}
