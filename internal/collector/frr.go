package collector

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"

	"github.com/andressade/MFFR-Profit-Tracker/internal/calculator"
	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

// DefaultFRRURL is the public FRR activation price feed.
const DefaultFRRURL = "https://tihend.energy/api/v1/frr"

// FRRFetcher implements PriceFetcher using the tihend.energy FRR API.
type FRRFetcher struct {
	URL        string
	MaxRetries uint64
	client     *resty.Client
	loc        *time.Location
}

// NewFRRFetcher creates a fetcher with optional proxy support. Timestamps
// without an offset are read in loc.
func NewFRRFetcher(url, proxyURL string, verifySSL bool, loc *time.Location) *FRRFetcher {
	if url == "" {
		url = DefaultFRRURL
	}
	if loc == nil {
		loc = time.Local
	}
	client := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json")
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	if !verifySSL {
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return &FRRFetcher{URL: url, MaxRetries: 2, client: client, loc: loc}
}

func (f *FRRFetcher) Name() string { return "frr" }

type frrResponse struct {
	Data []frrItem `json:"data"`
}

type frrItem struct {
	Start     string      `json:"start"`
	MFRRPrice interface{} `json:"mfrr_price"`
	NPSPrice  interface{} `json:"nps_price"`
}

// FetchPrices downloads the current price window. Server errors and
// transport failures are retried with exponential backoff; client errors
// are not.
func (f *FRRFetcher) FetchPrices(ctx context.Context) ([]PricePoint, error) {
	op := func() ([]byte, error) {
		resp, err := f.client.R().SetContext(ctx).Get(f.URL)
		if err != nil {
			return nil, fmt.Errorf("frr fetch: %w", err)
		}
		if resp.StatusCode() >= 500 {
			return nil, fmt.Errorf("frr: status %d", resp.StatusCode())
		}
		if resp.IsError() {
			return nil, backoff.Permanent(fmt.Errorf("frr: status %d, body: %s", resp.StatusCode(), resp.String()))
		}
		return resp.Body(), nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	body, err := backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(bo, f.MaxRetries), ctx))
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return nil, perm.Err
		}
		return nil, err
	}

	var out frrResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("frr decode: %w", err)
	}

	points := make([]PricePoint, 0, len(out.Data))
	for _, item := range out.Data {
		mffr, ok := toFloat(item.MFRRPrice)
		if item.Start == "" || !ok {
			continue
		}
		start, err := parseAnyTime(item.Start, f.loc)
		if err != nil {
			log.Debugf("frr: skipping item with bad start %q: %v", item.Start, err)
			continue
		}
		p := PricePoint{
			Start:     model.FloorToSlot(start),
			MFFRPrice: model.Float(calculator.NormalizePrice(mffr)),
		}
		if nps, ok := toFloat(item.NPSPrice); ok {
			p.NordpoolPrice = model.Float(calculator.NormalizePrice(nps))
		}
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Start.Before(points[j].Start) })
	return points, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// parseAnyTime accepts a space or 'T' separator and offsets written as
// +03:00, +0300 or Z. Values without an offset are read in loc.
func parseAnyTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.Replace(strings.TrimSpace(s), " ", "T", 1)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
