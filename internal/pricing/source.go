package pricing

import (
	"context"
	"sync"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
)

// Source supplies current prices for a batch of symbols.
// A symbol missing from the returned batch has no data this cycle.
// An error means the whole batch failed and the caller must not act on it.
type Source interface {
	GetPrices(ctx context.Context, symbols []string) (models.PriceBatch, error)

	// Name returns the source type (e.g., "mock", "redis")
	Name() string
}

// StaticSource serves fixed prices. Safe for concurrent use.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]float64
	err    error
	calls  int
	now    func() time.Time
}

// NewStaticSource creates a source serving the given prices
func NewStaticSource(prices map[string]float64) *StaticSource {
	s := &StaticSource{
		prices: make(map[string]float64, len(prices)),
		now:    time.Now,
	}
	for symbol, price := range prices {
		s.prices[models.NormalizeSymbol(symbol)] = price
	}
	return s
}

// GetPrices returns the configured price of every requested symbol that has one
func (s *StaticSource) GetPrices(ctx context.Context, symbols []string) (models.PriceBatch, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	asOf := s.now()
	batch := make(models.PriceBatch, len(symbols))
	for _, symbol := range symbols {
		if price, ok := s.prices[symbol]; ok {
			batch[symbol] = models.PriceSample{Symbol: symbol, Price: price, AsOf: asOf}
		}
	}
	return batch, nil
}

// Name returns the source type
func (s *StaticSource) Name() string {
	return "static"
}

// SetPrice sets or replaces the price of a symbol
func (s *StaticSource) SetPrice(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[models.NormalizeSymbol(symbol)] = price
}

// RemovePrice drops a symbol so it is absent from later batches
func (s *StaticSource) RemovePrice(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, models.NormalizeSymbol(symbol))
}

// SetError makes every fetch fail with err until cleared with nil
func (s *StaticSource) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns how many fetches were made
func (s *StaticSource) Calls() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls
}
