package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/internal/notify"
	"github.com/mohamedkhairy/price-alerts/internal/pricing"
	"github.com/mohamedkhairy/price-alerts/internal/rules"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// RuleStore is the subset of the rule store used by the scheduler
type RuleStore interface {
	ListActive() []*models.AlertRule
	RecordPrices(ctx context.Context, batch models.PriceBatch)
	ApplyTransition(ctx context.Context, id string, status models.RuleStatus, fired *rules.FiredMeta) bool
}

// Dispatcher delivers the firing events of a cycle
type Dispatcher interface {
	Dispatch(ctx context.Context, events []models.FiringEvent) notify.DispatchResult
}

// Cycle outcomes, also used as metric labels
const (
	OutcomeCompleted         = "completed"
	OutcomeSkippedDisabled   = "skipped_disabled"
	OutcomeSkippedEmpty      = "skipped_empty"
	OutcomeSkippedPriceError = "skipped_price_error"
	OutcomeDroppedBusy       = "dropped_busy"
)

// Config holds configuration for the scheduler
type Config struct {
	Interval     time.Duration // How often to run a cycle (default: 30s)
	InitialDelay time.Duration // Delay before the first cycle (default: 2s)
	FetchTimeout time.Duration // Timeout for one price batch fetch (default: 10s)
	MaxCycleTime time.Duration // Cycles slower than this are logged (default: 5s)
	Enabled      bool          // Master switch (default: true)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		InitialDelay: 2 * time.Second,
		FetchTimeout: 10 * time.Second,
		MaxCycleTime: 5 * time.Second,
		Enabled:      true,
	}
}

// CycleResult describes one evaluation cycle
type CycleResult struct {
	CycleID        string
	Outcome        string
	ActiveRules    int
	Symbols        int
	RulesEvaluated int
	MissingPrice   int // rules skipped because their symbol had no quote
	Vanished       int // rules deleted or disabled while the cycle ran
	Events         []models.FiringEvent
	Dispatch       notify.DispatchResult
	Duration       time.Duration
	Err            error
}

// Stats holds cumulative scheduler statistics
type Stats struct {
	Cycles            int64
	CyclesCompleted   int64
	CyclesSkipped     int64
	TicksDropped      int64
	PriceErrors       int64
	RulesEvaluated    int64
	RulesFired        int64
	Notifications     int64
	LastCycleAt       time.Time
	LastOutcome       string
	LastCycleDuration time.Duration
	MaxCycleDuration  time.Duration
	AvgCycleDuration  time.Duration
	cycleDurationSum  time.Duration
}

// Scheduler periodically evaluates active rules against current prices.
// Cycles never overlap: a tick that arrives while a cycle runs is dropped.
type Scheduler struct {
	config     Config
	store      RuleStore
	source     pricing.Source
	dispatcher Dispatcher

	enabled atomic.Bool
	busy    atomic.Bool
	now     func() time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool

	stats   Stats
	statsMu sync.RWMutex
}

// New creates a new scheduler
func New(config Config, store RuleStore, source pricing.Source, dispatcher Dispatcher) *Scheduler {
	if store == nil {
		panic("store cannot be nil")
	}
	if source == nil {
		panic("source cannot be nil")
	}
	if dispatcher == nil {
		panic("dispatcher cannot be nil")
	}

	defaults := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.InitialDelay < 0 {
		config.InitialDelay = 0
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if config.MaxCycleTime <= 0 {
		config.MaxCycleTime = defaults.MaxCycleTime
	}

	s := &Scheduler{
		config:     config,
		store:      store,
		source:     source,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	s.enabled.Store(config.Enabled)
	return s
}

// Start starts the periodic loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	logger.Info("Starting alert scheduler",
		logger.Duration("interval", s.config.Interval),
		logger.Duration("initial_delay", s.config.InitialDelay),
		logger.Bool("enabled", s.enabled.Load()),
		logger.String("price_source", s.source.Name()),
	)

	s.wg.Add(1)
	go s.run(s.ctx)

	return nil
}

// Stop cancels the timer and waits for an in-flight cycle to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	logger.Info("Stopping alert scheduler")
	cancel()
	s.wg.Wait()
	logger.Info("Alert scheduler stopped")
}

// IsRunning returns whether the periodic loop is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SetEnabled flips the master switch. A disabled scheduler keeps ticking
// but skips every periodic cycle.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
	logger.Info("Alert scheduler master switch changed", logger.Bool("enabled", enabled))
}

// IsEnabled reports the master switch
func (s *Scheduler) IsEnabled() bool {
	return s.enabled.Load()
}

// Interval returns the cycle period
func (s *Scheduler) Interval() time.Duration {
	return s.config.Interval
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	delay := time.NewTimer(s.config.InitialDelay)
	defer delay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	}

	s.tick()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs a periodic cycle. The cycle context is detached from Stop so
// that a cycle in flight commits and dispatches before shutdown completes.
func (s *Scheduler) tick() {
	s.runCycle(context.Background(), false)
}

// RunCycle performs one periodic cycle, honouring the master switch
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	return s.runCycle(ctx, false)
}

// CheckNow runs a cycle immediately regardless of the master switch.
// It is dropped like a tick if a cycle is already running.
func (s *Scheduler) CheckNow(ctx context.Context) CycleResult {
	return s.runCycle(ctx, true)
}

func (s *Scheduler) runCycle(ctx context.Context, force bool) CycleResult {
	if !s.busy.CompareAndSwap(false, true) {
		logger.Warn("Evaluation cycle still running, dropping tick")
		result := CycleResult{Outcome: OutcomeDroppedBusy}
		s.record(result)
		return result
	}
	defer s.busy.Store(false)

	cycleID := logger.NewCycleID()
	ctx = logger.WithCycleID(ctx, cycleID)
	start := s.now()

	result := s.evaluate(ctx, force)
	result.CycleID = cycleID
	result.Duration = time.Since(start)

	if result.Outcome == OutcomeCompleted {
		logger.CycleDuration.Observe(result.Duration.Seconds())
		if result.Duration > s.config.MaxCycleTime {
			logger.WithContext(ctx).Warn("Evaluation cycle exceeded max time",
				logger.Duration("cycle_time", result.Duration),
				logger.Duration("max_time", s.config.MaxCycleTime),
			)
		}
	}

	s.record(result)
	return result
}

func (s *Scheduler) evaluate(ctx context.Context, force bool) CycleResult {
	log := logger.WithContext(ctx)

	if !force && !s.enabled.Load() {
		return CycleResult{Outcome: OutcomeSkippedDisabled}
	}

	snapshot := s.store.ListActive()
	logger.ActiveRules.Set(float64(len(snapshot)))
	if len(snapshot) == 0 {
		return CycleResult{Outcome: OutcomeSkippedEmpty}
	}

	symbols := distinctSymbols(snapshot)
	result := CycleResult{
		ActiveRules: len(snapshot),
		Symbols:     len(symbols),
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	batch, err := s.source.GetPrices(fetchCtx, symbols)
	cancel()
	if err != nil {
		logger.ErrorsTotal.WithLabelValues("scheduler", "price_fetch").Inc()
		log.Error("Price fetch failed, skipping cycle",
			logger.String("source", s.source.Name()),
			logger.Int("symbols", len(symbols)),
			logger.ErrorField(err),
		)
		result.Outcome = OutcomeSkippedPriceError
		result.Err = fmt.Errorf("%w: %v", models.ErrPriceSource, err)
		return result
	}

	s.store.RecordPrices(ctx, batch)

	now := s.now()
	for _, rule := range snapshot {
		sample, ok := batch[rule.Symbol]
		if !ok {
			result.MissingPrice++
			continue
		}

		satisfied := rules.Evaluate(rule.Condition, sample.Price, rule.BasePrice)
		result.RulesEvaluated++

		transition := rules.Transition(rule, satisfied, now)
		if !transition.Fired {
			continue
		}

		if !s.store.ApplyTransition(ctx, rule.ID, transition.Status, transition.FiredMeta(sample.Price)) {
			result.Vanished++
			continue
		}

		logger.RulesFired.WithLabelValues(string(rule.Condition.Type())).Inc()
		log.Info("Alert rule fired",
			logger.String("rule_id", rule.ID),
			logger.String("symbol", rule.Symbol),
			logger.String("condition", string(rule.Condition.Type())),
			logger.Float64("price", sample.Price),
			logger.Int64("trigger_count", transition.TriggerCount),
			logger.String("status", string(transition.Status)),
		)

		result.Events = append(result.Events, models.FiringEvent{
			RuleID:        rule.ID,
			Symbol:        rule.Symbol,
			StockName:     rule.StockName,
			Condition:     rule.Condition,
			PriceAtFiring: sample.Price,
			OccurredAt:    now,
			TriggerCount:  transition.TriggerCount,
			IsRecurring:   rule.IsRecurring,
		})
	}
	logger.RulesEvaluated.Add(float64(result.RulesEvaluated))

	if len(result.Events) > 0 {
		result.Dispatch = s.dispatcher.Dispatch(ctx, result.Events)
	}

	result.Outcome = OutcomeCompleted
	log.Debug("Evaluation cycle completed",
		logger.Int("active_rules", result.ActiveRules),
		logger.Int("symbols", result.Symbols),
		logger.Int("evaluated", result.RulesEvaluated),
		logger.Int("fired", len(result.Events)),
		logger.Int("missing_price", result.MissingPrice),
	)
	return result
}

func (s *Scheduler) record(r CycleResult) {
	logger.CyclesTotal.WithLabelValues(r.Outcome).Inc()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	if r.Outcome == OutcomeDroppedBusy {
		s.stats.TicksDropped++
		return
	}

	s.stats.Cycles++
	s.stats.LastCycleAt = s.now()
	s.stats.LastOutcome = r.Outcome

	switch r.Outcome {
	case OutcomeCompleted:
		s.stats.CyclesCompleted++
		s.stats.RulesEvaluated += int64(r.RulesEvaluated)
		s.stats.RulesFired += int64(len(r.Events))
		s.stats.Notifications += int64(r.Dispatch.Delivered)
		s.stats.LastCycleDuration = r.Duration
		s.stats.cycleDurationSum += r.Duration
		if r.Duration > s.stats.MaxCycleDuration {
			s.stats.MaxCycleDuration = r.Duration
		}
	case OutcomeSkippedPriceError:
		s.stats.PriceErrors++
		s.stats.CyclesSkipped++
	default:
		s.stats.CyclesSkipped++
	}
}

// GetStats returns a copy of the scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()

	stats := s.stats
	if stats.CyclesCompleted > 0 {
		stats.AvgCycleDuration = stats.cycleDurationSum / time.Duration(stats.CyclesCompleted)
	}
	stats.cycleDurationSum = 0
	return stats
}

func distinctSymbols(snapshot []*models.AlertRule) []string {
	seen := make(map[string]struct{}, len(snapshot))
	symbols := make([]string, 0, len(snapshot))
	for _, rule := range snapshot {
		if _, ok := seen[rule.Symbol]; ok {
			continue
		}
		seen[rule.Symbol] = struct{}{}
		symbols = append(symbols, rule.Symbol)
	}
	sort.Strings(symbols)
	return symbols
}
