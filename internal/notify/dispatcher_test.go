package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/mohamedkhairy/price-alerts/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures notifications and can fail selected rules
type recordingSink struct {
	mu      sync.Mutex
	sent    []*models.Notification
	failFor map[string]bool
}

func (s *recordingSink) Send(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[n.RuleID] {
		return errors.New("device unreachable")
	}
	s.sent = append(s.sent, n)
	return nil
}

func (s *recordingSink) Name() string { return "recording" }

func newTestDispatcher(sink Sink) *Dispatcher {
	d := NewDispatcher(NewVietnameseFormatter(), NewHistory(DefaultHistoryLimit, nil), sink, Options{SoundEnabled: true})
	seq := 0
	d.newID = func() string {
		seq++
		return fmt.Sprintf("n-%d", seq)
	}
	return d
}

func firing(ruleID, symbol string, at time.Time) models.FiringEvent {
	return models.FiringEvent{
		RuleID:        ruleID,
		Symbol:        symbol,
		Condition:     models.Above{Target: 80000},
		PriceAtFiring: 80500,
		OccurredAt:    at,
		TriggerCount:  1,
	}
}

func TestDispatcher_Dispatch(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink)
	now := time.Now()

	res := d.Dispatch(context.Background(), []models.FiringEvent{firing("r1", "VNM", now)})

	assert.Equal(t, 1, res.Delivered)
	require.Len(t, sink.sent, 1)
	n := sink.sent[0]
	assert.Equal(t, "VNM đạt điều kiện!", n.Title)
	assert.Equal(t, "Giá VNM vượt 80.000đ. Giá hiện tại: 80.500đ", n.Message)
	assert.Equal(t, "/stock/VNM", n.Route)
	assert.Equal(t, models.NotificationAlertTriggered, n.Type)
	assert.True(t, n.Sound)
	assert.Equal(t, 1, d.History().UnreadCount())
}

func TestDispatcher_EmptyBatch(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink)

	res := d.Dispatch(context.Background(), nil)
	assert.Equal(t, DispatchResult{}, res)
	assert.Empty(t, sink.sent)
	assert.Equal(t, int64(0), d.GetStats().BatchesDispatched)
}

func TestDispatcher_FormatErrorIsolated(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink)
	now := time.Now()

	bad := firing("bad", "", now)
	res := d.Dispatch(context.Background(), []models.FiringEvent{firing("r1", "VNM", now), bad, firing("r2", "FPT", now)})

	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.FormatErrors)
	require.Len(t, sink.sent, 2)
	assert.Equal(t, "r1", sink.sent[0].RuleID)
	assert.Equal(t, "r2", sink.sent[1].RuleID)
}

func TestDispatcher_SinkErrorIsolated(t *testing.T) {
	sink := &recordingSink{failFor: map[string]bool{"r1": true}}
	d := newTestDispatcher(sink)
	now := time.Now()

	res := d.Dispatch(context.Background(), []models.FiringEvent{firing("r1", "VNM", now), firing("r2", "FPT", now)})

	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, res.SinkErrors)
	assert.Len(t, res.Notifications, 2)
	assert.Equal(t, 2, d.History().Len())

	stats := d.GetStats()
	assert.Equal(t, int64(1), stats.SinkErrors)
	assert.Equal(t, int64(1), stats.BatchesDispatched)
}

func TestDispatcher_DropsDuplicates(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink)
	now := time.Now()

	ev := firing("r1", "VNM", now)
	res := d.Dispatch(context.Background(), []models.FiringEvent{ev, ev, firing("r1", "VNM", now.Add(time.Second))})

	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, 1, res.Duplicates)
}

func TestDispatcher_SoundToggle(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(sink)
	d.SetSoundEnabled(false)
	assert.False(t, d.SoundEnabled())

	d.Dispatch(context.Background(), []models.FiringEvent{firing("r1", "VNM", time.Now())})
	require.Len(t, sink.sent, 1)
	assert.False(t, sink.sent[0].Sound)
}

func TestNewDispatcher_PanicsOnNil(t *testing.T) {
	assert.Panics(t, func() { NewDispatcher(nil, NewHistory(1, nil), NewLogSink(), Options{}) })
	assert.Panics(t, func() { NewDispatcher(NewVietnameseFormatter(), nil, NewLogSink(), Options{}) })
	assert.Panics(t, func() { NewDispatcher(NewVietnameseFormatter(), NewHistory(1, nil), nil, Options{}) })
}

func TestRedisSink(t *testing.T) {
	client := storage.NewMockRedisClient()
	sink := NewRedisSink(client, RedisSinkConfig{Channel: "alerts.notifications", Stream: "alerts.log"})

	require.NoError(t, sink.Send(context.Background(), newNotification("n1")))
	require.Len(t, client.Published, 1)
	assert.Equal(t, "alerts.notifications", client.Published[0].Channel)
	assert.Contains(t, client.Published[0].Message, `"id":"n1"`)
	require.Len(t, client.Streams, 1)
	assert.Equal(t, "alerts.log", client.Streams[0].Stream)

	client.PublishErr = errors.New("down")
	assert.Error(t, sink.Send(context.Background(), newNotification("n2")))
}

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{failFor: map[string]bool{"r1": true}}
	multi := NewMultiSink(failing, ok, NewLogSink())

	n := newNotification("n1")
	n.RuleID = "r1"
	err := multi.Send(context.Background(), n)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "recording")
	assert.Len(t, ok.sent, 1)
	assert.Equal(t, 3, multi.Len())
}
