package collector

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/andressade/MFFR-Profit-Tracker/internal/calculator"
	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

// Entities names the Home Assistant entities a sample is built from.
// Nordpool is optional.
type Entities struct {
	Mode     string
	Power    string
	Nordpool string
}

// HomeAssistantReader implements SampleReader over the Home Assistant REST API.
type HomeAssistantReader struct {
	entities Entities
	client   *resty.Client
}

// NewHomeAssistantReader creates a reader authenticated with a long-lived
// access token.
func NewHomeAssistantReader(baseURL, token string, entities Entities, proxyURL string, verifySSL bool) *HomeAssistantReader {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetAuthToken(token).
		SetTimeout(5*time.Second).
		SetHeader("Accept", "application/json")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	if !verifySSL {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return &HomeAssistantReader{entities: entities, client: client}
}

func (r *HomeAssistantReader) Name() string { return "homeassistant" }

type haState struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
}

func (s haState) available() bool {
	switch strings.ToLower(s.State) {
	case "", "unknown", "unavailable":
		return false
	}
	return true
}

// ReadSample reads the configured entities concurrently. A failed mode or
// power read fails the sample; a failed Nordpool read only leaves the price
// empty.
func (r *HomeAssistantReader) ReadSample(ctx context.Context) (model.Sample, error) {
	var mode, power, nordpool haState
	var nordpoolErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		mode, err = r.state(gctx, r.entities.Mode)
		return err
	})
	g.Go(func() (err error) {
		power, err = r.state(gctx, r.entities.Power)
		return err
	})
	if r.entities.Nordpool != "" {
		g.Go(func() error {
			nordpool, nordpoolErr = r.state(gctx, r.entities.Nordpool)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Sample{}, err
	}

	sample := model.Sample{ModeRaw: mode.State}
	if power.available() {
		w, err := strconv.ParseFloat(power.State, 64)
		if err != nil {
			log.Warnf("power entity %s: unparsable state %q, using 0", r.entities.Power, power.State)
		} else {
			sample.BatteryPowerW = w * powerScale(power)
		}
	}
	if nordpoolErr != nil {
		log.Warnf("nordpool entity read failed: %v", nordpoolErr)
	} else if nordpool.available() {
		if v, err := strconv.ParseFloat(nordpool.State, 64); err == nil {
			sample.NordpoolPrice = model.Float(calculator.NormalizePrice(v))
		}
	}
	return sample, nil
}

// powerScale converts kW sensors to W.
func powerScale(s haState) float64 {
	unit, _ := s.Attributes["unit_of_measurement"].(string)
	if strings.EqualFold(unit, "kW") {
		return 1000
	}
	return 1
}

func (r *HomeAssistantReader) state(ctx context.Context, entity string) (haState, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		Get("/api/states/" + url.PathEscape(entity))
	if err != nil {
		return haState{}, fmt.Errorf("read %s: %w", entity, err)
	}
	if resp.IsError() {
		return haState{}, fmt.Errorf("read %s: status %d", entity, resp.StatusCode())
	}
	var st haState
	if err := json.Unmarshal(resp.Body(), &st); err != nil {
		return haState{}, fmt.Errorf("decode %s: %w", entity, err)
	}
	return st, nil
}
