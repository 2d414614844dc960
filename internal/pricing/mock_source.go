package pricing

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
)

// DefaultMockBasePrice is used for symbols missing from the base table
const DefaultMockBasePrice = 50000

// DefaultMockFluctuation is the maximum relative deviation from the base price
const DefaultMockFluctuation = 0.03

// DefaultMockBasePrices is the reference table for common HOSE tickers, in VND
var DefaultMockBasePrices = map[string]float64{
	"VNM": 85200,
	"FPT": 92100,
	"HPG": 25800,
	"VIC": 42500,
	"MWG": 51200,
	"TCB": 35600,
	"VHM": 45000,
	"MSN": 75000,
	"VCB": 92000,
	"BID": 48000,
}

// MockSourceConfig holds configuration for MockSource
type MockSourceConfig struct {
	BasePrices   map[string]float64
	DefaultPrice float64
	Fluctuation  float64 // e.g. 0.03 for ±3%
	Seed         int64   // 0 seeds from the clock
}

// DefaultMockSourceConfig returns default configuration
func DefaultMockSourceConfig() MockSourceConfig {
	return MockSourceConfig{
		BasePrices:   DefaultMockBasePrices,
		DefaultPrice: DefaultMockBasePrice,
		Fluctuation:  DefaultMockFluctuation,
	}
}

// MockSource quotes each symbol at its base price with a uniform random
// deviation, rounded to whole dong. Every symbol always has a quote.
type MockSource struct {
	config MockSourceConfig
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewMockSource creates a new mock price source
func NewMockSource(config MockSourceConfig) *MockSource {
	if config.BasePrices == nil {
		config.BasePrices = DefaultMockBasePrices
	}
	if config.DefaultPrice <= 0 {
		config.DefaultPrice = DefaultMockBasePrice
	}
	if config.Fluctuation < 0 {
		config.Fluctuation = 0
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &MockSource{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// GetPrices returns a fresh quote for every requested symbol
func (m *MockSource) GetPrices(ctx context.Context, symbols []string) (models.PriceBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	asOf := time.Now()
	batch := make(models.PriceBatch, len(symbols))
	for _, symbol := range symbols {
		base, ok := m.config.BasePrices[symbol]
		if !ok {
			base = m.config.DefaultPrice
		}
		factor := 1 + (m.rng.Float64()*2-1)*m.config.Fluctuation
		batch[symbol] = models.PriceSample{
			Symbol: symbol,
			Price:  math.Round(base * factor),
			AsOf:   asOf,
		}
	}
	return batch, nil
}

// Name returns the source type
func (m *MockSource) Name() string {
	return "mock"
}
