package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"TrendConfirm/internal/domain/models"
	domrepo "TrendConfirm/internal/domain/repository"
	"TrendConfirm/internal/services/classifier"
	"TrendConfirm/internal/services/risk"
	"TrendConfirm/internal/usecase"
	"TrendConfirm/pkg/cache"
	xhttp "TrendConfirm/pkg/http"
	xlogger "TrendConfirm/pkg/logger"

	"github.com/labstack/echo/v4"
)

// EngineView is the read side of the engine the API exposes.
type EngineView interface {
	State(symbol string) (models.SymbolState, bool)
	Stats() map[string]usecase.SymbolStats
	Symbols() []string
}

// ModelView describes the loaded classifier.
type ModelView interface {
	Version() string
	Available() bool
	BreakerState() string
	Handle() classifier.ModelHandle
}

// LossGuard is the daily loss limit fed by execution PnL reports.
type LossGuard interface {
	Record(pnl float64, ts time.Time) error
	SetBalance(balance float64)
	Breached(ts time.Time) bool
	Status() (day time.Time, pnl, limit float64)
}

// StateEchoHandler serves the operational read API.
type StateEchoHandler struct {
	logger   *xlogger.Logger
	engine   EngineView
	model    ModelView
	intents  domrepo.SignalStore
	guard    LossGuard
	cache    cache.Service
	cacheTTL time.Duration
	now      func() time.Time
}

type HandlerOption func(*StateEchoHandler)

// WithIntentStore enables GET /api/signals.
func WithIntentStore(s domrepo.SignalStore) HandlerOption {
	return func(h *StateEchoHandler) { h.intents = s }
}

// WithLossGuard enables POST /api/pnl.
func WithLossGuard(g LossGuard) HandlerOption {
	return func(h *StateEchoHandler) { h.guard = g }
}

// WithResponseCache caches signal listings for ttl.
func WithResponseCache(c cache.Service, ttl time.Duration) HandlerOption {
	return func(h *StateEchoHandler) {
		h.cache = c
		h.cacheTTL = ttl
	}
}

func NewStateEchoHandler(logger *xlogger.Logger, engine EngineView, model ModelView, opts ...HandlerOption) *StateEchoHandler {
	h := &StateEchoHandler{logger: logger, engine: engine, model: model, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = xlogger.Nop()
	}
	return h
}

func (h *StateEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/state", h.State)
	g.GET("/stats", h.Stats)
	g.GET("/model", h.Model)
	g.GET("/signals", h.Signals)
	g.POST("/pnl", h.PnL)
}

type healthResponse struct {
	Status  string   `json:"status"`
	Model   string   `json:"model"`
	Symbols []string `json:"symbols"`
}

func (h *StateEchoHandler) Health(c echo.Context) error {
	syms := h.engine.Symbols()
	sort.Strings(syms)
	res := healthResponse{Status: "ok", Model: h.model.Version(), Symbols: syms}
	if !h.model.Available() || h.model.BreakerState() != "closed" {
		res.Status = "degraded"
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *StateEchoHandler) State(c echo.Context) error {
	req := &models.StateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, ok := h.engine.State(req.Symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("symbol %s not tracked", req.Symbol))
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *StateEchoHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.Stats())
}

type modelResponse struct {
	Version        string  `json:"version"`
	SchemaVersion  string  `json:"schema_version"`
	FeatureLength  int     `json:"feature_length"`
	ActThreshold   float64 `json:"act_threshold"`
	TrustThreshold float64 `json:"trust_threshold"`
	MinMargin      float64 `json:"min_margin"`
	Scorer         string  `json:"scorer"`
	Available      bool    `json:"available"`
	Breaker        string  `json:"breaker"`
}

func (h *StateEchoHandler) Model(c echo.Context) error {
	hd := h.model.Handle()
	return xhttp.SuccessResponse(c, modelResponse{
		Version:        hd.Version,
		SchemaVersion:  hd.SchemaVersion,
		FeatureLength:  hd.FeatureLength,
		ActThreshold:   hd.ActThreshold,
		TrustThreshold: hd.TrustThreshold,
		MinMargin:      hd.MinMargin,
		Scorer:         hd.Scorer.Kind,
		Available:      h.model.Available(),
		Breaker:        h.model.BreakerState(),
	})
}

func (h *StateEchoHandler) Signals(c echo.Context) error {
	if h.intents == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("intent audit store is disabled"))
	}
	req := &models.SignalsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	key := fmt.Sprintf("api:signals:%s:%d", req.Symbol, req.Limit)
	var rows []models.OrderIntent
	if h.cache != nil {
		if err := h.cache.Get(ctx, key, &rows); err == nil {
			return xhttp.ListResponse(c, rows, int64(len(rows)))
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			h.logger.Warn("signals cache read failed", xlogger.Error(err))
		}
	}

	rows, err := h.intents.ListIntents(ctx, req.Symbol, req.Limit)
	if err != nil {
		h.logger.Error("list intents failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("list intents").WithError(err))
	}
	if h.cache != nil {
		h.storeCached(ctx, key, rows)
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *StateEchoHandler) storeCached(ctx context.Context, key string, rows []models.OrderIntent) {
	if err := h.cache.Set(ctx, key, rows, h.cacheTTL); err != nil {
		h.logger.Warn("signals cache write failed", xlogger.Error(err))
	}
}

type pnlResponse struct {
	Day      time.Time `json:"day"`
	PnL      float64   `json:"pnl"`
	Limit    float64   `json:"limit"`
	Breached bool      `json:"breached"`
}

// PnL records realised PnL from the execution side into the daily guard.
func (h *StateEchoHandler) PnL(c echo.Context) error {
	if h.guard == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("daily loss guard is disabled"))
	}
	req := &models.PnLRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ts := h.now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	if err := h.guard.Record(req.PnL, ts); err != nil {
		if errors.Is(err, risk.ErrClosedDay) {
			h.logger.Warn("late pnl report refused", xlogger.Float64("pnl", req.PnL), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.ConflictErrorf("%v", err).WithError(err))
		}
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("record pnl").WithError(err))
	}
	if req.Balance > 0 {
		h.guard.SetBalance(req.Balance)
	}

	day, pnl, limit := h.guard.Status()
	breached := h.guard.Breached(ts)
	if breached {
		h.logger.Warn("daily loss limit reached",
			xlogger.Float64("pnl", pnl),
			xlogger.Float64("limit", limit),
		)
	}
	return xhttp.SuccessResponse(c, pnlResponse{Day: day, PnL: pnl, Limit: limit, Breached: breached})
}
