package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"TrendConfirm/internal/domain/models"
	drepo "TrendConfirm/internal/domain/repository"
	"TrendConfirm/pkg/logger"

	"github.com/gorilla/websocket"
)

// KlineClient reads closed 1m and 5m klines from a Binance-style combined
// websocket stream. Bars still forming (x=false) are skipped.
type KlineClient struct {
	url            string
	symbols        []string
	timeframes     []models.Timeframe
	reconnectDelay time.Duration
	pingInterval   time.Duration
	bufSize        int
	log            *logger.Logger

	mu        sync.Mutex
	wmu       sync.Mutex
	conn      *websocket.Conn
	connected bool
	nextID    int
}

// NewKlineClient subscribes to both timeframes for every symbol.
func NewKlineClient(url string, symbols []string, reconnectDelay, pingInterval time.Duration, bufSize int, log *logger.Logger) *KlineClient {
	if log == nil {
		log = logger.Nop()
	}
	if bufSize <= 0 {
		bufSize = 1024
	}
	return &KlineClient{
		url:            url,
		symbols:        symbols,
		timeframes:     []models.Timeframe{models.TF1m, models.TF5m},
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		bufSize:        bufSize,
		log:            log,
	}
}

var _ drepo.BarStream = (*KlineClient)(nil)

func (c *KlineClient) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("kline stream connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("kline stream connected", logger.String("url", c.url))
	return nil
}

type subscribeMsg struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// Subscribe requests <symbol>@kline_<tf> for every configured pair.
func (c *KlineClient) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.nextID++
	id := c.nextID
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("kline stream not connected")
	}

	params := make([]string, 0, len(c.symbols)*len(c.timeframes))
	for _, s := range c.symbols {
		for _, tf := range c.timeframes {
			params = append(params, strings.ToLower(s)+"@kline_"+string(tf))
		}
	}
	if err := c.write(func(conn *websocket.Conn) error {
		return conn.WriteJSON(subscribeMsg{Method: "SUBSCRIBE", Params: params, ID: id})
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.log.Info("kline stream subscribed", logger.Strings("streams", params))
	return nil
}

type klineEnvelope struct {
	Stream string `json:"stream"`
	Data   struct {
		Event string     `json:"e"`
		K     klineFrame `json:"k"`
	} `json:"data"`
}

type klineFrame struct {
	OpenTime int64  `json:"t"`
	Symbol   string `json:"s"`
	Interval string `json:"i"`
	Open     string `json:"o"`
	Close    string `json:"c"`
	High     string `json:"h"`
	Low      string `json:"l"`
	Volume   string `json:"v"`
	Closed   bool   `json:"x"`
}

// ParseKline turns one stream frame into a closed candle. ok is false for
// non-kline frames and bars that have not closed yet.
func ParseKline(b []byte) (models.Candle, bool, error) {
	var env klineEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return models.Candle{}, false, nil
	}
	k := env.Data.K
	if env.Data.Event != "kline" || !k.Closed {
		return models.Candle{}, false, nil
	}
	tf := models.Timeframe(k.Interval)
	if tf.Duration() == 0 {
		return models.Candle{}, false, nil
	}

	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return models.Candle{}, false, fmt.Errorf("kline %s: %w", k.Symbol, err)
		}
		vals[i] = v
	}
	return models.Candle{
		Symbol:    strings.ToUpper(k.Symbol),
		Timeframe: tf,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		Timestamp: time.UnixMilli(k.OpenTime).UTC().Add(tf.Duration()),
	}, true, nil
}

// Read streams closed bars until the connection fails or ctx ends. The
// error channel carries at most one error.
func (c *KlineClient) Read(ctx context.Context) (<-chan models.Candle, <-chan error) {
	bars := make(chan models.Candle, c.bufSize)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	rctx, cancel := context.WithCancel(ctx)
	if c.pingInterval > 0 {
		go func() {
			ticker := time.NewTicker(c.pingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-rctx.Done():
					return
				case <-ticker.C:
					_ = c.write(func(conn *websocket.Conn) error {
						return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
					})
				}
			}
		}()
	}

	go func() {
		defer cancel()
		defer close(bars)
		if conn == nil {
			errs <- fmt.Errorf("kline stream not connected")
			return
		}
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if rctx.Err() == nil {
					errs <- fmt.Errorf("kline stream read: %w", err)
				}
				return
			}
			bar, ok, err := ParseKline(b)
			if err != nil {
				c.log.Warn("kline frame dropped", logger.Error(err))
				continue
			}
			if !ok {
				continue
			}
			select {
			case bars <- bar:
			case <-rctx.Done():
				return
			}
		}
	}()

	go func() {
		<-rctx.Done()
		if ctx.Err() != nil {
			_ = c.Close()
		}
	}()

	return bars, errs
}

// Reconnect closes, waits reconnectDelay and resubscribes.
func (c *KlineClient) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *KlineClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *KlineClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *KlineClient) write(fn func(*websocket.Conn) error) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("kline stream not connected")
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return fn(conn)
}
