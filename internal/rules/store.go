package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// DefaultPersistTimeout bounds each write-through call to the repository
const DefaultPersistTimeout = 2 * time.Second

// Store is the authoritative in-memory collection of alert rules.
// All rule writes go through its methods; reads return copies so callers
// never observe a rule mid-transition.
type Store struct {
	mu       sync.RWMutex
	rules    map[string]*models.AlertRule
	bySymbol map[string]map[string]struct{} // symbol -> rule ids
	active   map[string]struct{}            // ids of active rules

	repo           Repository
	persistTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

// NewStore creates a rule store. repo may be nil for a purely in-memory store.
func NewStore(repo Repository) *Store {
	return &Store{
		rules:          make(map[string]*models.AlertRule),
		bySymbol:       make(map[string]map[string]struct{}),
		active:         make(map[string]struct{}),
		repo:           repo,
		persistTimeout: DefaultPersistTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Load hydrates the store from the repository, replacing its contents.
// Invalid persisted rules are skipped.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	loaded, err := s.repo.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = make(map[string]*models.AlertRule, len(loaded))
	s.bySymbol = make(map[string]map[string]struct{})
	s.active = make(map[string]struct{})

	skipped := 0
	for _, rule := range loaded {
		if rule == nil {
			continue
		}
		if err := rule.Validate(); err != nil {
			skipped++
			logger.Warn("Skipping invalid persisted rule",
				logger.String("rule_id", rule.ID),
				logger.ErrorField(err),
			)
			continue
		}
		s.insertLocked(rule.Clone())
	}

	logger.Info("Loaded alert rules",
		logger.Int("count", len(s.rules)),
		logger.Int("active", len(s.active)),
		logger.Int("skipped", skipped),
	)

	return nil
}

// Create adds a new active rule
func (s *Store) Create(ctx context.Context, params CreateParams) (*models.AlertRule, error) {
	if err := ValidateCreateParams(&params); err != nil {
		return nil, err
	}

	now := s.now()
	rule := &models.AlertRule{
		ID:          s.newID(),
		Symbol:      params.Symbol,
		StockName:   params.StockName,
		Condition:   params.Condition,
		BasePrice:   params.BasePrice,
		IsRecurring: params.IsRecurring,
		Status:      models.StatusActive,
		Note:        params.Note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return nil, fmt.Errorf("rule already exists: %s", rule.ID)
	}

	s.insertLocked(rule)
	s.persistLocked(ctx, rule)

	logger.Info("Alert rule created",
		logger.String("rule_id", rule.ID),
		logger.String("symbol", rule.Symbol),
		logger.String("condition", string(rule.Condition.Type())),
		logger.Float64("threshold", rule.Condition.Threshold()),
		logger.Bool("recurring", rule.IsRecurring),
	)

	return rule.Clone(), nil
}

// Update applies a user edit to an existing rule
func (s *Store) Update(ctx context.Context, id string, update RuleUpdate) (*models.AlertRule, error) {
	if err := ValidateUpdate(update); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: rule %s", models.ErrNotFound, id)
	}

	if update.Condition != nil {
		rule.Condition = update.Condition
	}
	if update.BasePrice != nil {
		rule.BasePrice = *update.BasePrice
	}
	if update.Note != nil {
		rule.Note = *update.Note
	}
	if update.StockName != nil {
		rule.StockName = *update.StockName
	}
	if update.IsRecurring != nil {
		rule.IsRecurring = *update.IsRecurring
	}
	rule.UpdatedAt = s.now()

	s.persistLocked(ctx, rule)

	return rule.Clone(), nil
}

// Toggle flips a rule between active and disabled.
// An unknown id returns ErrNotFound; callers may treat it as a no-op.
func (s *Store) Toggle(ctx context.Context, id string) (*models.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		logger.Warn("Toggle on unknown rule ignored", logger.String("rule_id", id))
		return nil, fmt.Errorf("%w: rule %s", models.ErrNotFound, id)
	}

	next := models.StatusActive
	if rule.Status == models.StatusActive {
		next = models.StatusDisabled
	}
	s.setStatusLocked(rule, next)
	rule.UpdatedAt = s.now()

	s.persistLocked(ctx, rule)

	logger.Info("Alert rule toggled",
		logger.String("rule_id", id),
		logger.String("status", string(next)),
	)

	return rule.Clone(), nil
}

// SetEnabled pauses or resumes a rule
func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) (*models.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		logger.Warn("Enable/disable on unknown rule ignored", logger.String("rule_id", id))
		return nil, fmt.Errorf("%w: rule %s", models.ErrNotFound, id)
	}

	next := models.StatusDisabled
	if enabled {
		next = models.StatusActive
	}
	if rule.Status != next {
		s.setStatusLocked(rule, next)
		rule.UpdatedAt = s.now()
		s.persistLocked(ctx, rule)
	}

	return rule.Clone(), nil
}

// Delete removes a rule permanently. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		logger.Debug("Delete on unknown rule ignored", logger.String("rule_id", id))
		return nil
	}

	s.removeLocked(id)
	s.unpersistLocked(ctx, id)

	logger.Info("Alert rule deleted", logger.String("rule_id", id))
	return nil
}

// DeleteFired removes one-shot rules still resting disabled from their own
// firing and returns how many were removed. A rule re-armed and then paused
// by hand is kept.
func (s *Store) DeleteFired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rule := range s.rules {
		if rule.IsSpent() {
			s.removeLocked(id)
			s.unpersistLocked(ctx, id)
			removed++
		}
	}

	if removed > 0 {
		logger.Info("Deleted fired alert rules", logger.Int("count", removed))
	}
	return removed
}

// ApplyTransition commits a rule's post-evaluation state. It returns false,
// changing nothing, when the rule was deleted or disabled since the cycle
// took its snapshot.
func (s *Store) ApplyTransition(ctx context.Context, id string, status models.RuleStatus, fired *FiredMeta) bool {
	if !status.Valid() {
		logger.Error("Rejected transition to invalid status",
			logger.String("rule_id", id),
			logger.String("status", string(status)),
		)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule, exists := s.rules[id]
	if !exists {
		logger.Debug("Rule vanished before transition, skipping", logger.String("rule_id", id))
		return false
	}
	if rule.Status != models.StatusActive {
		logger.Debug("Rule disabled before transition, skipping", logger.String("rule_id", id))
		return false
	}

	// The snapshot the status was computed from may predate an edit of
	// IsRecurring, so a firing rests according to the live rule.
	if fired != nil {
		status = models.StatusDisabled
		if rule.IsRecurring {
			status = models.StatusActive
		}
	}

	changed := rule.Status != status
	s.setStatusLocked(rule, status)

	if fired != nil {
		rule.DisabledByFiring = status == models.StatusDisabled
		at := fired.At
		rule.LastTriggeredAt = &at
		rule.TriggerCount = fired.TriggerCount
		rule.LastPrice = fired.Price
		rule.LastPriceAt = &at
		changed = true
	}

	if changed {
		rule.UpdatedAt = s.now()
		s.persistLocked(ctx, rule)
	}

	return true
}

// RecordPrices stores the latest observed quote on every rule of each symbol.
// It never touches status, base price or trigger bookkeeping.
func (s *Store) RecordPrices(ctx context.Context, batch models.PriceBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for symbol, sample := range batch {
		for id := range s.bySymbol[symbol] {
			rule := s.rules[id]
			asOf := sample.AsOf
			rule.LastPrice = sample.Price
			rule.LastPriceAt = &asOf
		}
	}
}

// Get returns a copy of a rule
func (s *Store) Get(id string) (*models.AlertRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("%w: rule %s", models.ErrNotFound, id)
	}
	return rule.Clone(), nil
}

// List returns copies of all rules, newest first
func (s *Store) List() []*models.AlertRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AlertRule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule.Clone())
	}
	sortRules(out)
	return out
}

// ListActive returns a consistent snapshot of the active rules, newest first
func (s *Store) ListActive() []*models.AlertRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AlertRule, 0, len(s.active))
	for id := range s.active {
		out = append(out, s.rules[id].Clone())
	}
	sortRules(out)
	return out
}

// ListBySymbol returns copies of all rules watching a symbol
func (s *Store) ListBySymbol(symbol string) []*models.AlertRule {
	symbol = models.NormalizeSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySymbol[symbol]
	out := make([]*models.AlertRule, 0, len(ids))
	for id := range ids {
		out = append(out, s.rules[id].Clone())
	}
	sortRules(out)
	return out
}

// ActiveSymbols returns the sorted distinct symbols of active rules
func (s *Store) ActiveSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for id := range s.active {
		seen[s.rules[id].Symbol] = struct{}{}
	}
	return sortedKeys(seen)
}

// Count returns the number of rules in the store
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// CountActive returns the number of active rules
func (s *Store) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

func (s *Store) insertLocked(rule *models.AlertRule) {
	s.rules[rule.ID] = rule
	if s.bySymbol[rule.Symbol] == nil {
		s.bySymbol[rule.Symbol] = make(map[string]struct{})
	}
	s.bySymbol[rule.Symbol][rule.ID] = struct{}{}
	if rule.Status == models.StatusActive {
		s.active[rule.ID] = struct{}{}
	}
}

func (s *Store) removeLocked(id string) {
	rule, exists := s.rules[id]
	if !exists {
		return
	}
	delete(s.rules, id)
	delete(s.active, id)
	if ids, ok := s.bySymbol[rule.Symbol]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.bySymbol, rule.Symbol)
		}
	}
}

func (s *Store) setStatusLocked(rule *models.AlertRule, status models.RuleStatus) {
	if rule.Status != status {
		rule.DisabledByFiring = false
	}
	rule.Status = status
	if status == models.StatusActive {
		s.active[rule.ID] = struct{}{}
	} else {
		delete(s.active, rule.ID)
	}
}

func (s *Store) persistLocked(ctx context.Context, rule *models.AlertRule) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	if err := s.repo.SaveRule(ctx, rule.Clone()); err != nil {
		logger.ErrorsTotal.WithLabelValues("rule_store", "persist").Inc()
		logger.Error("Failed to persist alert rule",
			logger.ErrorField(err),
			logger.String("rule_id", rule.ID),
		)
	}
}

func (s *Store) unpersistLocked(ctx context.Context, id string) {
	if s.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()

	if err := s.repo.DeleteRule(ctx, id); err != nil {
		logger.ErrorsTotal.WithLabelValues("rule_store", "delete").Inc()
		logger.Error("Failed to delete persisted alert rule",
			logger.ErrorField(err),
			logger.String("rule_id", id),
		)
	}
}

func sortRules(rules []*models.AlertRule) {
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].CreatedAt.Equal(rules[j].CreatedAt) {
			return rules[i].CreatedAt.After(rules[j].CreatedAt)
		}
		return rules[i].ID < rules[j].ID
	})
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
