package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/internal/notify"
	"github.com/mohamedkhairy/price-alerts/internal/rules"
	"github.com/mohamedkhairy/price-alerts/internal/scheduler"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// RuleStore is the rule store surface used by the API
type RuleStore interface {
	Create(ctx context.Context, params rules.CreateParams) (*models.AlertRule, error)
	Update(ctx context.Context, id string, update rules.RuleUpdate) (*models.AlertRule, error)
	Toggle(ctx context.Context, id string) (*models.AlertRule, error)
	Delete(ctx context.Context, id string) error
	DeleteFired(ctx context.Context) int
	Get(id string) (*models.AlertRule, error)
	List() []*models.AlertRule
	ListBySymbol(symbol string) []*models.AlertRule
	Count() int
	CountActive() int
}

// Engine is the scheduler surface used by the API
type Engine interface {
	CheckNow(ctx context.Context) scheduler.CycleResult
	SetEnabled(enabled bool)
	IsEnabled() bool
	IsRunning() bool
	Interval() time.Duration
	GetStats() scheduler.Stats
}

// Notifier is the dispatcher surface used by the API
type Notifier interface {
	SetSoundEnabled(enabled bool)
	SoundEnabled() bool
	GetStats() notify.DispatcherStats
}

// AlertHandler handles alert rule endpoints
type AlertHandler struct {
	store RuleStore
}

// NewAlertHandler creates a new alert handler
func NewAlertHandler(store RuleStore) *AlertHandler {
	return &AlertHandler{store: store}
}

// createAlertRequest is the body of POST /api/v1/alerts
type createAlertRequest struct {
	Symbol      string                `json:"symbol"`
	StockName   string                `json:"stock_name"`
	Condition   *models.ConditionSpec `json:"condition"`
	BasePrice   float64               `json:"base_price"`
	Note        string                `json:"note"`
	IsRecurring bool                  `json:"is_recurring"`
}

// updateAlertRequest is the body of PUT /api/v1/alerts/{id}. Absent fields are kept.
type updateAlertRequest struct {
	Symbol      *string               `json:"symbol"`
	StockName   *string               `json:"stock_name"`
	Condition   *models.ConditionSpec `json:"condition"`
	BasePrice   *float64              `json:"base_price"`
	Note        *string               `json:"note"`
	IsRecurring *bool                 `json:"is_recurring"`
}

// ListAlerts handles GET /api/v1/alerts
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var list []*models.AlertRule
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		list = h.store.ListBySymbol(symbol)
	} else {
		list = h.store.List()
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filtered := list[:0]
		for _, rule := range list {
			if string(rule.Status) == status {
				filtered = append(filtered, rule)
			}
		}
		list = filtered
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": list,
		"count":  len(list),
		"total":  h.store.Count(),
		"active": h.store.CountActive(),
	})
}

// GetAlert handles GET /api/v1/alerts/{id}
func (h *AlertHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.Get(mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rule)
}

// CreateAlert handles POST /api/v1/alerts
func (h *AlertHandler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var req createAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Condition == nil {
		respondWithError(w, http.StatusBadRequest, models.ErrInvalidCondition.Error())
		return
	}

	cond, err := req.Condition.Condition()
	if err != nil {
		respondWithStoreError(w, err)
		return
	}

	rule, err := h.store.Create(r.Context(), rules.CreateParams{
		Symbol:      req.Symbol,
		StockName:   req.StockName,
		Condition:   cond,
		BasePrice:   req.BasePrice,
		Note:        req.Note,
		IsRecurring: req.IsRecurring,
	})
	if err != nil {
		respondWithStoreError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, rule)
}

// UpdateAlert handles PUT /api/v1/alerts/{id}
func (h *AlertHandler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := h.store.Get(id)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}

	var req updateAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Symbol != nil && models.NormalizeSymbol(*req.Symbol) != existing.Symbol {
		respondWithStoreError(w, models.ErrImmutableSymbol)
		return
	}

	update := rules.RuleUpdate{
		StockName:   req.StockName,
		BasePrice:   req.BasePrice,
		Note:        req.Note,
		IsRecurring: req.IsRecurring,
	}
	if req.Condition != nil {
		cond, err := req.Condition.Condition()
		if err != nil {
			respondWithStoreError(w, err)
			return
		}
		update.Condition = cond
	}

	if update.IsEmpty() {
		respondWithJSON(w, http.StatusOK, existing)
		return
	}

	rule, err := h.store.Update(r.Context(), id, update)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}

	logger.Info("Alert rule updated", logger.String("rule_id", id))
	respondWithJSON(w, http.StatusOK, rule)
}

// DeleteAlert handles DELETE /api/v1/alerts/{id}. Unknown ids succeed.
func (h *AlertHandler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.store.Delete(r.Context(), id); err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Alert deleted"})
}

// ToggleAlert handles POST /api/v1/alerts/{id}/toggle
func (h *AlertHandler) ToggleAlert(w http.ResponseWriter, r *http.Request) {
	rule, err := h.store.Toggle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rule)
}

// DeleteFiredAlerts handles DELETE /api/v1/alerts/fired
func (h *AlertHandler) DeleteFiredAlerts(w http.ResponseWriter, r *http.Request) {
	removed := h.store.DeleteFired(r.Context())
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": removed,
	})
}

// NotificationHandler handles notification center endpoints
type NotificationHandler struct {
	history *notify.History
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(history *notify.History) *NotificationHandler {
	return &NotificationHandler{history: history}
}

// ListNotifications handles GET /api/v1/notifications
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	items := h.history.List()
	if r.URL.Query().Get("unread") == "true" {
		unread := make([]models.Notification, 0, len(items))
		for _, n := range items {
			if !n.IsRead {
				unread = append(unread, n)
			}
		}
		items = unread
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": items,
		"count":         len(items),
		"unread":        h.history.UnreadCount(),
	})
}

// MarkAsRead handles POST /api/v1/notifications/{id}/read
func (h *NotificationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	if err := h.history.MarkAsRead(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"unread": h.history.UnreadCount()})
}

// MarkAllAsRead handles POST /api/v1/notifications/read-all
func (h *NotificationHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	h.history.MarkAllAsRead(r.Context())
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"unread": 0})
}

// DeleteNotification handles DELETE /api/v1/notifications/{id}
func (h *NotificationHandler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"unread": h.history.UnreadCount()})
}

// ClearNotifications handles DELETE /api/v1/notifications
func (h *NotificationHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	h.history.Clear(r.Context())
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Notifications cleared"})
}

// EngineHandler handles engine control endpoints
type EngineHandler struct {
	engine   Engine
	notifier Notifier
	store    RuleStore
}

// NewEngineHandler creates a new engine handler
func NewEngineHandler(engine Engine, notifier Notifier, store RuleStore) *EngineHandler {
	return &EngineHandler{
		engine:   engine,
		notifier: notifier,
		store:    store,
	}
}

// engineSettings is the body of PUT /api/v1/engine. Absent fields are kept.
type engineSettings struct {
	Enabled      *bool `json:"enabled"`
	SoundEnabled *bool `json:"sound_enabled"`
}

// GetEngine handles GET /api/v1/engine
func (h *EngineHandler) GetEngine(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.settings())
}

// UpdateEngine handles PUT /api/v1/engine
func (h *EngineHandler) UpdateEngine(w http.ResponseWriter, r *http.Request) {
	var req engineSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Enabled != nil {
		h.engine.SetEnabled(*req.Enabled)
	}
	if req.SoundEnabled != nil {
		h.notifier.SetSoundEnabled(*req.SoundEnabled)
	}

	respondWithJSON(w, http.StatusOK, h.settings())
}

// CheckNow handles POST /api/v1/engine/check
func (h *EngineHandler) CheckNow(w http.ResponseWriter, r *http.Request) {
	result := h.engine.CheckNow(r.Context())

	switch result.Outcome {
	case scheduler.OutcomeDroppedBusy:
		respondWithError(w, http.StatusConflict, "Evaluation cycle already running")
		return
	case scheduler.OutcomeSkippedPriceError:
		respondWithError(w, http.StatusBadGateway, "Price source unavailable")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"cycle_id":      result.CycleID,
		"outcome":       result.Outcome,
		"active_rules":  result.ActiveRules,
		"evaluated":     result.RulesEvaluated,
		"fired":         len(result.Events),
		"delivered":     result.Dispatch.Delivered,
		"missing_price": result.MissingPrice,
		"duration_ms":   result.Duration.Milliseconds(),
	})
}

// GetStats handles GET /api/v1/engine/stats
func (h *EngineHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	s := h.engine.GetStats()
	d := h.notifier.GetStats()

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler": map[string]interface{}{
			"cycles":                 s.Cycles,
			"cycles_completed":       s.CyclesCompleted,
			"cycles_skipped":         s.CyclesSkipped,
			"ticks_dropped":          s.TicksDropped,
			"price_errors":           s.PriceErrors,
			"rules_evaluated":        s.RulesEvaluated,
			"rules_fired":            s.RulesFired,
			"notifications":          s.Notifications,
			"last_cycle_at":          s.LastCycleAt,
			"last_outcome":           s.LastOutcome,
			"last_cycle_duration_ms": s.LastCycleDuration.Milliseconds(),
			"avg_cycle_duration_ms":  s.AvgCycleDuration.Milliseconds(),
			"max_cycle_duration_ms":  s.MaxCycleDuration.Milliseconds(),
		},
		"dispatcher": map[string]interface{}{
			"batches":          d.BatchesDispatched,
			"delivered":        d.Delivered,
			"format_errors":    d.FormatErrors,
			"sink_errors":      d.SinkErrors,
			"duplicates":       d.Duplicates,
			"last_dispatch_at": d.LastDispatchAt,
		},
		"rules": map[string]interface{}{
			"total":  h.store.Count(),
			"active": h.store.CountActive(),
		},
	})
}

func (h *EngineHandler) settings() map[string]interface{} {
	return map[string]interface{}{
		"enabled":       h.engine.IsEnabled(),
		"running":       h.engine.IsRunning(),
		"sound_enabled": h.notifier.SoundEnabled(),
		"interval":      h.engine.Interval().String(),
	}
}

// respondWithStoreError maps domain errors to HTTP status codes
func respondWithStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		respondWithError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("Request failed", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
