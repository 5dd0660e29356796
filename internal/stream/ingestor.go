package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"selfLearningBot/internal/breaker"
	"selfLearningBot/internal/domain"
	"selfLearningBot/internal/observ"
	"selfLearningBot/internal/ports"
)

// Combined-stream endpoints. Each symbol subscribes to its 1m kline and raw
// trade streams over a single connection.
const (
	MainnetURL = "wss://stream.binance.com:9443/stream"
	TestnetURL = "wss://stream.testnet.binance.vision/stream"
)

const highLatencyThreshold = 5 * time.Second

// Event is a decoded market data message. Exactly one of Candle or Trade is
// set; Candle carries only closed klines.
type Event struct {
	Symbol     string
	Candle     *domain.Candle
	Trade      *domain.TradeTick
	ReceivedAt time.Time
	Latency    time.Duration
}

// Handler consumes decoded events for a symbol. Handlers for a symbol run
// sequentially in registration order on that symbol's read loop.
type Handler func(ctx context.Context, event Event)

// conn is the subset of *websocket.Conn the read loop needs.
type conn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

// Config holds stream connection parameters.
type Config struct {
	BaseURL         string
	Symbols         []string
	BufferSize      int
	ReconnectDelay  time.Duration // base backoff delay
	BackoffCap      time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
	Breaker         *breaker.Breaker // guards dials; may be nil
	Logger          ports.Logger
}

// Ingestor maintains one websocket connection per symbol, decodes kline and
// trade messages into domain events, buffers them and fans them out to
// registered handlers. Dropped connections reconnect with exponential
// backoff; the attempt counter resets after a successful connect.
type Ingestor struct {
	cfg Config

	mu       sync.RWMutex
	handlers map[string][]Handler
	buffers  map[string][]Event
	latency  map[string]time.Duration
	conns    map[string]conn
	running  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// injectable dialer for tests
	dial func(ctx context.Context, url string) (conn, error)
	now  func() time.Time
}

// NewIngestor creates a stream ingestor.
func NewIngestor(cfg Config) (*Ingestor, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for stream ingestor")
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	if cfg.BufferSize <= 0 || cfg.ReconnectDelay <= 0 || cfg.BackoffCap < cfg.ReconnectDelay {
		return nil, fmt.Errorf("stream buffer and backoff parameters are invalid")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = MainnetURL
	}

	return &Ingestor{
		cfg:      cfg,
		handlers: make(map[string][]Handler),
		buffers:  make(map[string][]Event),
		latency:  make(map[string]time.Duration),
		conns:    make(map[string]conn),
		dial: func(ctx context.Context, url string) (conn, error) {
			c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return c, err
		},
		now: time.Now,
	}, nil
}

// RegisterHandler subscribes a handler to a symbol's decoded events.
// Handlers must be registered before Connect.
func (in *Ingestor) RegisterHandler(symbol string, h Handler) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.handlers[symbol] = append(in.handlers[symbol], h)
}

// Connect starts one read loop per configured symbol plus the retention
// sweeper. Calling Connect on a running ingestor is a no-op.
func (in *Ingestor) Connect(ctx context.Context) {
	in.mu.Lock()
	if in.running {
		in.mu.Unlock()
		return
	}
	in.running = true
	ctx, in.cancel = context.WithCancel(ctx)
	in.mu.Unlock()

	for _, symbol := range in.cfg.Symbols {
		url := in.streamURL(symbol)
		in.cfg.Logger.Info(ctx, "stream connecting", map[string]interface{}{
			"symbol": symbol,
			"url":    url,
		})
		in.wg.Add(1)
		go in.runStream(ctx, symbol, url)
	}

	if in.cfg.CleanupInterval > 0 {
		in.wg.Add(1)
		go in.cleanupLoop(ctx)
	}

	in.cfg.Logger.Info(ctx, "stream ingestor started", map[string]interface{}{
		"symbols": strings.Join(in.cfg.Symbols, ","),
	})
}

// Close stops all read loops and closes their connections.
func (in *Ingestor) Close() {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return
	}
	in.running = false
	in.cancel()
	for symbol, c := range in.conns {
		c.Close()
		delete(in.conns, symbol)
	}
	in.mu.Unlock()

	in.wg.Wait()
	in.cfg.Logger.Info(context.Background(), "stream ingestor stopped")
}

// GetLatest returns up to count most recent events for a symbol, oldest
// first.
func (in *Ingestor) GetLatest(symbol string, count int) []Event {
	in.mu.RLock()
	defer in.mu.RUnlock()

	buf := in.buffers[symbol]
	if count > len(buf) {
		count = len(buf)
	}
	out := make([]Event, count)
	copy(out, buf[len(buf)-count:])
	return out
}

// Latency returns the last observed event-time-to-receipt delay for a symbol.
func (in *Ingestor) Latency(symbol string) time.Duration {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.latency[symbol]
}

func (in *Ingestor) streamURL(symbol string) string {
	s := strings.ToLower(symbol)
	return fmt.Sprintf("%s?streams=%s@kline_1m/%s@trade", in.cfg.BaseURL, s, s)
}

func (in *Ingestor) runStream(ctx context.Context, symbol, url string) {
	defer in.wg.Done()

	attempt := 0
	for ctx.Err() == nil {
		c, err := in.dialStream(ctx, url)
		if err != nil {
			in.cfg.Logger.Error(ctx, err, "stream dial failed", map[string]interface{}{
				"symbol":  symbol,
				"attempt": attempt,
			})
			if !in.backoffWait(ctx, symbol, attempt) {
				return
			}
			attempt++
			continue
		}

		in.mu.Lock()
		in.conns[symbol] = c
		in.mu.Unlock()
		attempt = 0
		in.cfg.Logger.Info(ctx, "stream connected", map[string]interface{}{"symbol": symbol})

		err = in.readLoop(ctx, symbol, c)
		c.Close()
		in.mu.Lock()
		delete(in.conns, symbol)
		in.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		in.cfg.Logger.Warn(ctx, "stream connection lost", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		if !in.backoffWait(ctx, symbol, attempt) {
			return
		}
		attempt++
	}
}

func (in *Ingestor) dialStream(ctx context.Context, url string) (conn, error) {
	if in.cfg.Breaker == nil {
		return in.dial(ctx, url)
	}

	var c conn
	err := in.cfg.Breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		c, err = in.dial(ctx, url)
		return err
	})
	return c, err
}

// backoffWait sleeps min(base*2^attempt, cap). Returns false when the context
// ended during the wait.
func (in *Ingestor) backoffWait(ctx context.Context, symbol string, attempt int) bool {
	delay := in.cfg.ReconnectDelay << uint(attempt)
	if delay > in.cfg.BackoffCap || delay <= 0 {
		delay = in.cfg.BackoffCap
	}
	observ.IncStreamReconnect(symbol)
	in.cfg.Logger.Info(ctx, "stream reconnecting", map[string]interface{}{
		"symbol":  symbol,
		"attempt": attempt,
		"delay":   delay.String(),
	})

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (in *Ingestor) readLoop(ctx context.Context, symbol string, c conn) error {
	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ports.ErrStreamClosed, err)
		}

		event, err := in.processMessage(symbol, raw, in.now())
		if err != nil {
			in.cfg.Logger.Error(ctx, err, "stream message dropped", map[string]interface{}{
				"symbol": symbol,
			})
			continue
		}
		if event == nil {
			continue
		}

		in.dispatch(ctx, symbol, *event)
	}
}

// envelope is the combined-stream wrapper.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineMessage struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		IsClosed  bool   `json:"x"`
	} `json:"k"`
}

type tradeMessage struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// processMessage decodes a raw combined-stream message into an event. A nil
// event with nil error means the message was valid but carries nothing to
// act on, such as a still-open kline update.
func (in *Ingestor) processMessage(symbol string, raw []byte, receivedAt time.Time) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrDecodeFailed, err)
	}
	if env.Stream == "" || len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: missing stream envelope", ports.ErrDecodeFailed)
	}

	event := Event{Symbol: symbol, ReceivedAt: receivedAt}

	switch {
	case strings.Contains(env.Stream, "@kline"):
		var msg klineMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrDecodeFailed, err)
		}
		event.Latency = in.recordLatency(symbol, msg.EventTime, receivedAt)
		if !msg.Kline.IsClosed {
			return nil, nil
		}
		candle, err := parseCandle(msg)
		if err != nil {
			return nil, err
		}
		event.Candle = candle

	case strings.Contains(env.Stream, "@trade"):
		var msg tradeMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrDecodeFailed, err)
		}
		event.Latency = in.recordLatency(symbol, msg.EventTime, receivedAt)
		tick, err := parseTrade(msg)
		if err != nil {
			return nil, err
		}
		event.Trade = tick

	default:
		return nil, fmt.Errorf("%w: unexpected stream %q", ports.ErrDecodeFailed, env.Stream)
	}

	in.buffer(symbol, event)
	return &event, nil
}

func (in *Ingestor) recordLatency(symbol string, eventTimeMs int64, receivedAt time.Time) time.Duration {
	if eventTimeMs <= 0 {
		return 0
	}
	latency := receivedAt.Sub(time.UnixMilli(eventTimeMs))

	in.mu.Lock()
	in.latency[symbol] = latency
	in.mu.Unlock()
	observ.SetStreamLatency(symbol, latency.Seconds())

	if latency > highLatencyThreshold {
		in.cfg.Logger.Warn(context.Background(), "high stream latency", map[string]interface{}{
			"symbol":  symbol,
			"latency": latency.String(),
		})
	}
	return latency
}

func (in *Ingestor) buffer(symbol string, event Event) {
	in.mu.Lock()
	defer in.mu.Unlock()

	buf := append(in.buffers[symbol], event)
	if len(buf) > in.cfg.BufferSize {
		buf = buf[len(buf)-in.cfg.BufferSize:]
	}
	in.buffers[symbol] = buf
}

// dispatch runs every registered handler for the symbol in order. A handler
// panic is contained so one subscriber cannot take down the read loop.
func (in *Ingestor) dispatch(ctx context.Context, symbol string, event Event) {
	in.mu.RLock()
	handlers := in.handlers[symbol]
	in.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					in.cfg.Logger.Error(ctx, fmt.Errorf("handler panic: %v", r),
						"stream handler failed", map[string]interface{}{"symbol": symbol})
				}
			}()
			h(ctx, event)
		}()
	}
}

func (in *Ingestor) cleanupLoop(ctx context.Context) {
	defer in.wg.Done()

	ticker := time.NewTicker(in.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.purgeExpired()
		}
	}
}

// purgeExpired drops buffered events older than the retention period.
func (in *Ingestor) purgeExpired() {
	cutoff := in.now().Add(-in.cfg.Retention)

	in.mu.Lock()
	defer in.mu.Unlock()

	for symbol, buf := range in.buffers {
		idx := 0
		for idx < len(buf) && !buf[idx].ReceivedAt.After(cutoff) {
			idx++
		}
		if idx > 0 {
			in.buffers[symbol] = append([]Event(nil), buf[idx:]...)
			in.cfg.Logger.Debug(context.Background(), "stream buffer cleaned", map[string]interface{}{
				"symbol":  symbol,
				"removed": idx,
			})
		}
	}
}

func parseCandle(msg klineMessage) (*domain.Candle, error) {
	open, err1 := strconv.ParseFloat(msg.Kline.Open, 64)
	high, err2 := strconv.ParseFloat(msg.Kline.High, 64)
	low, err3 := strconv.ParseFloat(msg.Kline.Low, 64)
	closePrice, err4 := strconv.ParseFloat(msg.Kline.Close, 64)
	volume, err5 := strconv.ParseFloat(msg.Kline.Volume, 64)
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			return nil, fmt.Errorf("%w: bad kline field: %v", ports.ErrDecodeFailed, err)
		}
	}
	return &domain.Candle{
		Timestamp: time.UnixMilli(msg.Kline.StartTime),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

func parseTrade(msg tradeMessage) (*domain.TradeTick, error) {
	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad trade price: %v", ports.ErrDecodeFailed, err)
	}
	quantity, err := strconv.ParseFloat(msg.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad trade quantity: %v", ports.ErrDecodeFailed, err)
	}
	return &domain.TradeTick{
		Timestamp:    time.UnixMilli(msg.TradeTime),
		Price:        price,
		Quantity:     quantity,
		IsBuyerMaker: msg.IsBuyerMaker,
	}, nil
}
