package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TrendConfirm/internal/domain/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const closedKline = `{"stream":"btcusdt@kline_5m","data":{"e":"kline","E":1712052300001,"s":"BTCUSDT","k":{"t":1712052000000,"T":1712052299999,"s":"BTCUSDT","i":"5m","o":"100.0","c":"101.5","h":"102.0","l":"99.5","v":"12.5","x":true}}}`

const openKline = `{"stream":"btcusdt@kline_1m","data":{"e":"kline","E":1712052290000,"s":"BTCUSDT","k":{"t":1712052240000,"T":1712052299999,"s":"BTCUSDT","i":"1m","o":"100.0","c":"100.2","h":"100.3","l":"99.9","v":"1.0","x":false}}}`

func TestParseKline(t *testing.T) {
	c, ok, err := ParseKline([]byte(closedKline))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", c.Symbol)
	assert.Equal(t, models.TF5m, c.Timeframe)
	assert.Equal(t, time.Date(2024, 4, 2, 10, 5, 0, 0, time.UTC), c.Timestamp)
	assert.Equal(t, 101.5, c.Close)
	assert.Equal(t, 99.5, c.Low)

	_, ok, err = ParseKline([]byte(openKline))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ParseKline([]byte(`{"result":null,"id":1}`))
	require.NoError(t, err)
	assert.False(t, ok)

	bad := strings.Replace(closedKline, `"c":"101.5"`, `"c":"x"`, 1)
	_, _, err = ParseKline([]byte(bad))
	assert.Error(t, err)
}

func TestKlineClientStreamsClosedBars(t *testing.T) {
	subs := make(chan subscribeMsg, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var m subscribeMsg
		if err := conn.ReadJSON(&m); err != nil {
			return
		}
		subs <- m
		_ = conn.WriteMessage(websocket.TextMessage, []byte(openKline))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(closedKline))
		// hold the connection until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewKlineClient(url, []string{"BTCUSDT"}, 10*time.Millisecond, 0, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx))
	assert.True(t, c.IsConnected())

	m := <-subs
	assert.Equal(t, "SUBSCRIBE", m.Method)
	assert.Equal(t, []string{"btcusdt@kline_1m", "btcusdt@kline_5m"}, m.Params)

	bars, _ := c.Read(ctx)
	select {
	case b := <-bars:
		assert.Equal(t, models.TF5m, b.Timeframe)
		assert.Equal(t, 101.5, b.Close)
	case <-time.After(2 * time.Second):
		t.Fatal("no bar received")
	}

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}
