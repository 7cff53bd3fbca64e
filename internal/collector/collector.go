package collector

import (
	"context"
	"errors"
	"sync"

	"github.com/andressade/MFFR-Profit-Tracker/internal/model"
)

// SampleReader reads one observation of the battery.
type SampleReader interface {
	ReadSample(ctx context.Context) (model.Sample, error)
}

// ErrNoSamples is returned by MockReader once its script is exhausted.
var ErrNoSamples = errors.New("no more samples")

// MockReader replays a fixed script of samples for development and testing.
// When Repeat is set the last sample is returned forever.
type MockReader struct {
	Samples []model.Sample
	Err     error
	Repeat  bool

	mu   sync.Mutex
	next int
}

func (m *MockReader) Name() string { return "mock" }

func (m *MockReader) ReadSample(_ context.Context) (model.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return model.Sample{}, m.Err
	}
	if m.next >= len(m.Samples) {
		if m.Repeat && len(m.Samples) > 0 {
			return m.Samples[len(m.Samples)-1], nil
		}
		return model.Sample{}, ErrNoSamples
	}
	s := m.Samples[m.next]
	m.next++
	return s, nil
}

// MockFetcher returns a fixed price window and counts calls.
type MockFetcher struct {
	Points []PricePoint
	Err    error

	mu    sync.Mutex
	calls int
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchPrices(_ context.Context) ([]PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]PricePoint, len(m.Points))
	copy(out, m.Points)
	return out, nil
}

// Calls returns how many times FetchPrices ran.
func (m *MockFetcher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Set replaces the price window returned by later calls.
func (m *MockFetcher) Set(points []PricePoint, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Points = points
	m.Err = err
}
