package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TrendConfirm/internal/domain/models"
	"TrendConfirm/internal/services/classifier"
	"TrendConfirm/internal/services/risk"
	"TrendConfirm/internal/usecase"
	"TrendConfirm/pkg/cache"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	states map[string]models.SymbolState
}

func (f *fakeEngine) State(symbol string) (models.SymbolState, bool) {
	st, ok := f.states[symbol]
	return st, ok
}

func (f *fakeEngine) Stats() map[string]usecase.SymbolStats {
	return map[string]usecase.SymbolStats{"BTCUSDT": {Bars: 7, Confirmed: 1}}
}

func (f *fakeEngine) Symbols() []string { return []string{"ETHUSDT", "BTCUSDT"} }

type fakeModel struct {
	available bool
	breaker   string
}

func (m fakeModel) Version() string      { return "trend-v1" }
func (m fakeModel) Available() bool      { return m.available }
func (m fakeModel) BreakerState() string { return m.breaker }
func (m fakeModel) Handle() classifier.ModelHandle {
	return classifier.ModelHandle{Version: "trend-v1", SchemaVersion: "v1", FeatureLength: 17, ActThreshold: 0.6, Scorer: classifier.ScorerSpec{Kind: classifier.ScorerLinear}}
}

type fakeIntents struct {
	calls int
	rows  []models.OrderIntent
}

func (f *fakeIntents) SaveIntent(context.Context, models.OrderIntent) error { return nil }
func (f *fakeIntents) ListIntents(_ context.Context, symbol string, limit int) ([]models.OrderIntent, error) {
	f.calls++
	return f.rows, nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (int, envelope) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func newTestEcho(h *StateEchoHandler) *echo.Echo {
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func TestStateEndpoint(t *testing.T) {
	st := models.NewSymbolState("BTCUSDT")
	st.Confirmation.Status = models.StatusPending
	h := NewStateEchoHandler(nil, &fakeEngine{states: map[string]models.SymbolState{"BTCUSDT": *st}}, fakeModel{available: true, breaker: "closed"})
	e := newTestEcho(h)

	code, env := do(t, e, http.MethodGet, "/api/state?symbol=BTCUSDT", "")
	assert.Equal(t, http.StatusOK, code)
	var got models.SymbolState
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, models.StatusPending, got.Confirmation.Status)

	code, _ = do(t, e, http.MethodGet, "/api/state?symbol=SOLUSDT", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, e, http.MethodGet, "/api/state", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, e, http.MethodGet, "/api/state?symbol=btcusdt", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHealthReportsDegradedModel(t *testing.T) {
	e := newTestEcho(NewStateEchoHandler(nil, &fakeEngine{}, fakeModel{available: false, breaker: "closed"}))
	code, env := do(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	var res healthResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "degraded", res.Status)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, res.Symbols)
}

func TestModelEndpoint(t *testing.T) {
	e := newTestEcho(NewStateEchoHandler(nil, &fakeEngine{}, fakeModel{available: true, breaker: "closed"}))
	_, env := do(t, e, http.MethodGet, "/api/model", "")
	var res modelResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "trend-v1", res.Version)
	assert.Equal(t, 17, res.FeatureLength)
	assert.Equal(t, "linear", res.Scorer)
}

func TestSignalsEndpointUsesCache(t *testing.T) {
	store := &fakeIntents{rows: []models.OrderIntent{{Signal: models.ConfirmedSignal{ID: "a", Symbol: "BTCUSDT"}, Size: 0.1}}}
	h := NewStateEchoHandler(nil, &fakeEngine{}, fakeModel{},
		WithIntentStore(store),
		WithResponseCache(cache.NewMemoryCache(), time.Minute),
	)
	e := newTestEcho(h)

	for i := 0; i < 3; i++ {
		code, env := do(t, e, http.MethodGet, "/api/signals?symbol=BTCUSDT&limit=5", "")
		require.Equal(t, http.StatusOK, code)
		var page struct {
			Rows  []models.OrderIntent `json:"rows"`
			Total int64                `json:"total"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &page))
		assert.Equal(t, int64(1), page.Total)
		assert.Equal(t, "a", page.Rows[0].Signal.ID)
	}
	assert.Equal(t, 1, store.calls)

	code, _ := do(t, e, http.MethodGet, "/api/signals?symbol=BTCUSDT&limit=5000", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSignalsEndpointDisabled(t *testing.T) {
	e := newTestEcho(NewStateEchoHandler(nil, &fakeEngine{}, fakeModel{}))
	code, _ := do(t, e, http.MethodGet, "/api/signals?symbol=BTCUSDT", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestPnLEndpointTripsGuard(t *testing.T) {
	guard := risk.NewDailyLossGuard(0.05, 1000)
	h := NewStateEchoHandler(nil, &fakeEngine{}, fakeModel{}, WithLossGuard(guard))
	ts := time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return ts }
	e := newTestEcho(h)

	code, env := do(t, e, http.MethodPost, "/api/pnl", `{"pnl": -30}`)
	require.Equal(t, http.StatusOK, code)
	var res pnlResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.Breached)
	assert.InDelta(t, 50.0, res.Limit, 1e-9)

	_, env = do(t, e, http.MethodPost, "/api/pnl", `{"pnl": -25}`)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Breached)
	assert.True(t, guard.Breached(ts))

	// a late report for yesterday must not reopen today
	code, _ = do(t, e, http.MethodPost, "/api/pnl", `{"pnl": 5, "ts": "2024-06-02T12:00:00Z", "balance": 5000}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.True(t, guard.Breached(ts))
	_, pnl, limit := guard.Status()
	assert.InDelta(t, -55.0, pnl, 1e-9)
	assert.InDelta(t, 50.0, limit, 1e-9)

	code, _ = do(t, e, http.MethodPost, "/api/pnl", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}
