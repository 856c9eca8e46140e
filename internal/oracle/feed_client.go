package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"fractional-ledger/internal/fixedpoint"
	"fractional-ledger/internal/observability"
)

// FeedConfig configures the price feed client.
type FeedConfig struct {
	// Pairs to subscribe to, as "BASE/QUOTE".
	Pairs []string
	// MaxStaleness is the maximum age of a usable quote.
	MaxStaleness time.Duration
	// CacheSize bounds the number of cached pairs.
	CacheSize int
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultFeedConfig returns default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		MaxStaleness:      5 * time.Minute,
		CacheSize:         1024,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Quote is the last rate seen for a pair.
type Quote struct {
	Rate      uint256.Int
	Timestamp int64 // unix ms, as reported by the feed
}

// FeedClient keeps the latest quotes of a websocket price feed in an LRU
// cache and resolves prices from it.
type FeedClient struct {
	endpoint string
	config   FeedConfig
	logger   *zap.Logger
	now      func() time.Time

	quotes *lru.Cache[string, Quote]

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64
	subID     atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// NewFeedClient connects to the feed and subscribes to the configured
// pairs.
func NewFeedClient(ctx context.Context, endpoint string, config *FeedConfig, logger *zap.Logger) (*FeedClient, error) {
	cfg := DefaultFeedConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultFeedConfig().CacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := lru.New[string, Quote](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("quote cache: %w", err)
	}

	c := &FeedClient{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger.Named("oracle"),
		now:      time.Now,
		quotes:   cache,
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.subscribe(); err != nil {
		c.closeConn()
		return nil, err
	}

	// Start reader goroutine
	c.wg.Add(1)
	go c.readLoop()

	// Start ping goroutine
	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// ResolvePrice returns the cached rate of the pair. Missing, stale and
// zero quotes are invalid.
func (c *FeedClient) ResolvePrice(_ context.Context, base, quote string) (*uint256.Int, bool) {
	if strings.EqualFold(base, quote) {
		return new(uint256.Int).Set(fixedpoint.One), true
	}

	q, ok := c.quotes.Get(PairKey(base, quote))
	if !ok {
		observability.RecordOracleQuote("miss")
		return nil, false
	}
	age := c.now().Sub(time.UnixMilli(q.Timestamp))
	if c.config.MaxStaleness > 0 && age > c.config.MaxStaleness {
		observability.RecordOracleQuote("stale")
		return nil, false
	}
	if q.Rate.IsZero() {
		observability.RecordOracleQuote("invalid")
		return nil, false
	}
	observability.RecordOracleQuote("hit")
	return &q.Rate, true
}

// Subscribed reports whether the feed confirmed the pair subscription.
func (c *FeedClient) Subscribed() bool {
	return c.subID.Load() > 0
}

// Store puts a quote into the cache.
func (c *FeedClient) Store(base, quote string, q Quote) {
	c.quotes.Add(PairKey(base, quote), q)
}

// Close closes the WebSocket connection.
func (c *FeedClient) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

// connect establishes WebSocket connection.
func (c *FeedClient) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

func (c *FeedClient) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// subscribe sends the pair subscription. The confirmation arrives through
// the read loop.
func (c *FeedClient) subscribe() error {
	if len(c.config.Pairs) == 0 {
		return nil
	}
	params := make([]interface{}, 0, len(c.config.Pairs))
	for _, p := range c.config.Pairs {
		params = append(params, strings.ToUpper(p))
	}
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  "priceSubscribe",
		Params:  params,
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// readLoop reads messages from WebSocket and updates the cache.
func (c *FeedClient) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			// Connection error - attempt reconnect with exponential backoff
			if !c.reconnecting.Swap(true) {
				c.logger.Warn("price feed read failed, reconnecting",
					zap.Duration("delay", reconnectDelay), zap.Error(err))
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		start := time.Now()
		c.handleMessage(message)
		observability.RecordWSMessageLatency(time.Since(start).Seconds())
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *FeedClient) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.closeConn()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}
	if err := c.subscribe(); err != nil {
		c.logger.Warn("price feed resubscribe failed", zap.Error(err))
	}
}

// handleMessage processes incoming WebSocket message.
func (c *FeedClient) handleMessage(message []byte) {
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.Result > 0 {
		c.subID.Store(resp.Result)
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "priceNotification" && notif.Params != nil {
		c.handlePrice(&notif.Params.Result)
		return
	}

	var errResp wsErrorResponse
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		c.logger.Warn("price feed error response",
			zap.Int("code", errResp.Error.Code),
			zap.String("message", errResp.Error.Message))
	}
}

func (c *FeedClient) handlePrice(p *wsPrice) {
	rate, err := fixedpoint.Parse(p.Rate)
	if err != nil {
		c.logger.Warn("unparseable rate", zap.String("pair", PairKey(p.Base, p.Quote)), zap.String("rate", p.Rate), zap.Error(err))
		return
	}
	key := PairKey(p.Base, p.Quote)
	if prev, ok := c.quotes.Peek(key); ok && prev.Timestamp > p.Timestamp {
		return
	}
	c.quotes.Add(key, Quote{Rate: *rate, Timestamp: p.Timestamp})
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *FeedClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// a dead connection surfaces in the read loop
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  int64  `json:"result"` // subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription int64   `json:"subscription"`
	Result       wsPrice `json:"result"`
}

type wsPrice struct {
	Base      string `json:"base"`
	Quote     string `json:"quote"`
	Rate      string `json:"rate"` // decimal, e.g. "1.0825"
	Timestamp int64  `json:"timestamp"`
}

type wsErrorResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
