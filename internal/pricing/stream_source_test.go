package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mohamedkhairy/price-alerts/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedServer upgrades every request and hands the connection to serve
func feedServer(t *testing.T, serve func(n int, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var connections int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(int(atomic.AddInt32(&connections, 1)), conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// holdOpen keeps the server side open until the client goes away
func holdOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newTestStream(t *testing.T, url string) *StreamSource {
	t.Helper()
	src := NewStreamSource(StreamSourceConfig{
		URL:               url,
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 50 * time.Millisecond,
	})
	require.NoError(t, src.Start())
	t.Cleanup(src.Stop)
	return src
}

func TestStreamSource_CachesPushedQuotes(t *testing.T) {
	srv := feedServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"vnm","price":80500}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[{"symbol":"FPT","price":92100},{"symbol":"HPG","price":-1}]`))
		holdOpen(conn)
	})
	src := newTestStream(t, wsURL(srv))

	require.Eventually(t, func() bool {
		return src.GetStats().QuotesReceived == 2
	}, 2*time.Second, 10*time.Millisecond)

	batch, err := src.GetPrices(context.Background(), []string{"VNM", "FPT", "HPG"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, 80500.0, batch["VNM"].Price)
	assert.Equal(t, 92100.0, batch["FPT"].Price)
	assert.False(t, batch["VNM"].AsOf.IsZero())

	stats := src.GetStats()
	assert.True(t, stats.Connected)
	assert.Equal(t, int64(1), stats.QuotesRejected)
	assert.Equal(t, "stream", src.Name())
}

func TestStreamSource_DisconnectedFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	src := newTestStream(t, url)

	_, err := src.GetPrices(context.Background(), []string{"VNM"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPriceSource))
	assert.False(t, src.IsConnected())

	require.Eventually(t, func() bool {
		return src.GetStats().LastError != ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamSource_Reconnects(t *testing.T) {
	srv := feedServer(t, func(n int, conn *websocket.Conn) {
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"VNM","price":80000}`))
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"symbol":"VNM","price":81000}`))
		holdOpen(conn)
	})
	src := newTestStream(t, wsURL(srv))

	require.Eventually(t, func() bool {
		batch, err := src.GetPrices(context.Background(), []string{"VNM"})
		return err == nil && batch["VNM"].Price == 81000
	}, 2*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, src.GetStats().Reconnects, int64(1))
}

func TestStreamSource_HandleMessage(t *testing.T) {
	src := NewStreamSource(StreamSourceConfig{URL: "ws://unused", MaxAge: time.Minute})
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	src.now = func() time.Time { return now }
	src.stats.Connected = true

	src.handleMessage([]byte(`{"symbol":"VNM","price":80000,"as_of":"2026-03-02T09:29:00Z"}`))
	src.handleMessage([]byte(`{"symbol":"VNM","price":79000,"as_of":"2026-03-02T09:28:00Z"}`))
	src.handleMessage([]byte(`{"symbol":"FPT","price":92100,"as_of":"2026-03-02T09:00:00Z"}`))
	src.handleMessage([]byte(`not json`))

	batch, err := src.GetPrices(context.Background(), []string{"VNM", "FPT"})
	require.NoError(t, err)
	assert.Equal(t, 80000.0, batch["VNM"].Price, "older quote must not replace newer")
	assert.NotContains(t, batch, "FPT", "stale quote is absent")
	assert.Equal(t, int64(1), src.GetStats().QuotesRejected)
}

func TestStreamSource_Backoff(t *testing.T) {
	src := NewStreamSource(StreamSourceConfig{
		URL:               "ws://unused",
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 350 * time.Millisecond,
	})
	failure := errors.New("refused")

	assert.Equal(t, 100*time.Millisecond, src.nextBackoff(failure))
	assert.Equal(t, 200*time.Millisecond, src.nextBackoff(failure))
	assert.Equal(t, 350*time.Millisecond, src.nextBackoff(failure))
	assert.Equal(t, 350*time.Millisecond, src.nextBackoff(failure))
}

func TestNewStreamSource_RequiresURL(t *testing.T) {
	assert.Panics(t, func() { NewStreamSource(StreamSourceConfig{}) })
}
