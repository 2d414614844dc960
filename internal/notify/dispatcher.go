package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/pkg/logger"
)

// DispatchResult summarises one batch
type DispatchResult struct {
	Delivered     int
	FormatErrors  int
	SinkErrors    int
	Duplicates    int
	Notifications []*models.Notification
}

// DispatcherStats holds cumulative dispatcher statistics
type DispatcherStats struct {
	BatchesDispatched int64
	Delivered         int64
	FormatErrors      int64
	SinkErrors        int64
	Duplicates        int64
	LastDispatchAt    time.Time
}

// Options holds user-facing notification preferences
type Options struct {
	SoundEnabled bool
}

// Dispatcher turns firing events into notifications, records them in the
// history and hands them to the sink. A bad event or a failed delivery
// never stops the rest of the batch.
type Dispatcher struct {
	formatter *Formatter
	history   *History
	sink      Sink

	sound atomic.Bool
	now   func() time.Time
	newID func() string

	stats   DispatcherStats
	statsMu sync.RWMutex
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(formatter *Formatter, history *History, sink Sink, opts Options) *Dispatcher {
	if formatter == nil {
		panic("formatter cannot be nil")
	}
	if history == nil {
		panic("history cannot be nil")
	}
	if sink == nil {
		panic("sink cannot be nil")
	}

	d := &Dispatcher{
		formatter: formatter,
		history:   history,
		sink:      sink,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	d.sound.Store(opts.SoundEnabled)
	return d
}

// Dispatch emits one notification per distinct event, in order
func (d *Dispatcher) Dispatch(ctx context.Context, events []models.FiringEvent) DispatchResult {
	result := DispatchResult{}
	if len(events) == 0 {
		return result
	}

	sound := d.sound.Load()
	seen := make(map[string]struct{}, len(events))

	for _, ev := range events {
		key := IdempotencyKey(ev)
		if _, dup := seen[key]; dup {
			result.Duplicates++
			logger.NotificationsTotal.WithLabelValues("duplicate").Inc()
			logger.Debug("Dropping duplicate firing event",
				logger.String("rule_id", ev.RuleID),
				logger.String("idempotency_key", key),
			)
			continue
		}
		seen[key] = struct{}{}

		n, err := d.render(ev, sound)
		if err != nil {
			result.FormatErrors++
			logger.NotificationsTotal.WithLabelValues("format_error").Inc()
			logger.Error("Failed to format notification",
				logger.String("rule_id", ev.RuleID),
				logger.ErrorField(err),
			)
			continue
		}

		d.history.Add(ctx, n)
		result.Notifications = append(result.Notifications, n)

		if err := d.sink.Send(ctx, n); err != nil {
			result.SinkErrors++
			logger.NotificationsTotal.WithLabelValues("sink_error").Inc()
			logger.Error("Failed to deliver notification",
				logger.String("notification_id", n.ID),
				logger.String("rule_id", n.RuleID),
				logger.String("sink", d.sink.Name()),
				logger.ErrorField(err),
			)
			continue
		}

		result.Delivered++
		logger.NotificationsTotal.WithLabelValues("delivered").Inc()
	}

	d.recordStats(result)
	return result
}

func (d *Dispatcher) render(ev models.FiringEvent, sound bool) (*models.Notification, error) {
	if err := ValidateEvent(ev); err != nil {
		return nil, err
	}

	return &models.Notification{
		ID:        d.newID(),
		RuleID:    ev.RuleID,
		Type:      models.NotificationAlertTriggered,
		Title:     d.formatter.Title(ev.Symbol),
		Message:   d.formatter.Body(ev.Symbol, ev.Condition, ev.PriceAtFiring),
		Symbol:    ev.Symbol,
		Price:     ev.PriceAtFiring,
		Route:     Route(ev.Symbol),
		Sound:     sound,
		CreatedAt: d.now(),
	}, nil
}

// IdempotencyKey identifies a firing: {rule_id}:{occurred_at_unix_nano}
func IdempotencyKey(ev models.FiringEvent) string {
	return fmt.Sprintf("%s:%d", ev.RuleID, ev.OccurredAt.UnixNano())
}

// SetSoundEnabled toggles the sound flag on future notifications
func (d *Dispatcher) SetSoundEnabled(enabled bool) {
	d.sound.Store(enabled)
}

// SoundEnabled reports the sound flag
func (d *Dispatcher) SoundEnabled() bool {
	return d.sound.Load()
}

// History returns the notification history
func (d *Dispatcher) History() *History {
	return d.history
}

func (d *Dispatcher) recordStats(r DispatchResult) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.stats.BatchesDispatched++
	d.stats.Delivered += int64(r.Delivered)
	d.stats.FormatErrors += int64(r.FormatErrors)
	d.stats.SinkErrors += int64(r.SinkErrors)
	d.stats.Duplicates += int64(r.Duplicates)
	d.stats.LastDispatchAt = d.now()
}

// GetStats returns dispatcher statistics
func (d *Dispatcher) GetStats() DispatcherStats {
	d.statsMu.RLock()
	defer d.statsMu.RUnlock()
	return d.stats
}
