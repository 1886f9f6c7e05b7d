// Package ibgw implements the realtime quote provider against the IB
// gateway bridge: a websocket stream of per-symbol ticks. Quotes land in an
// in-memory cache; GetQuote answers from the cache and reports ErrNoQuote
// for symbols it has never seen or whose last tick has gone stale.
package ibgw

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/slimwatch/internal/domain"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// A quote older than this no longer counts as live.
	quoteStaleThreshold = 5 * time.Minute
)

// Client streams quotes from the gateway bridge and caches the latest tick
// per symbol. It reconnects with exponential backoff and re-subscribes the
// current symbol set after every reconnect.
type Client struct {
	url        string
	clientID   int
	httpClient *http.Client // forced to HTTP/1.1 for the upgrade handshake
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	log zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	symbols []string

	quotes  map[string]domain.Quote
	quoteMu sync.RWMutex

	// test seam; defaults to time.Now
	now func() time.Time
}

// tick is one incoming frame. The bridge also sends heartbeats, which carry
// no symbol and are dropped.
type tick struct {
	Type         string   `json:"type"`
	Symbol       string   `json:"symbol"`
	Bid          float64  `json:"bid"`
	Ask          float64  `json:"ask"`
	Last         float64  `json:"last"`
	Volume       float64  `json:"volume"`
	AvgVolume50D float64  `json:"avg_volume_50d"`
	MA21         *float64 `json:"ma_21,omitempty"`
	MA50         *float64 `json:"ma_50,omitempty"`
	MA200        *float64 `json:"ma_200,omitempty"`
	Timestamp    string   `json:"ts"`
}

// subscribeFrame asks the bridge to stream the listed symbols, replacing
// any previous subscription for this client id.
type subscribeFrame struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// createHTTP1Client builds an HTTP client that only advertises http/1.1 in
// ALPN. Proxies in front of the gateway negotiate HTTP/2 otherwise, which
// breaks the websocket upgrade.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// NewClient creates a gateway client. Call Start to connect.
func NewClient(url string, clientID int, log zerolog.Logger) *Client {
	return &Client{
		url:        url,
		clientID:   clientID,
		httpClient: createHTTP1Client(),
		log:        log.With().Str("component", "ibgw").Logger(),
		stopChan:   make(chan struct{}),
		quotes:     make(map[string]domain.Quote),
		now:        time.Now,
	}
}

// Start connects and begins the read loop. A failed first connection is not
// fatal: the reconnect loop keeps trying in the background.
func (c *Client) Start() error {
	c.log.Info().Str("url", c.url).Msg("Starting gateway quote stream")

	if err := c.Connect(); err != nil {
		c.log.Warn().Err(err).Msg("Initial gateway connection failed, will retry in background")
		go c.reconnectLoop()
		return err
	}

	c.mu.RLock()
	ctx := c.connCtx
	c.mu.RUnlock()
	go c.readMessages(ctx)
	return nil
}

// Stop shuts the stream down for good.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	c.log.Info().Msg("Stopping gateway quote stream")
	close(c.stopChan)
	return c.Disconnect()
}

// Connect dials the bridge and subscribes the current symbol set.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wsURL := fmt.Sprintf("%s?clientId=%d", c.url, c.clientID)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to dial gateway: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = connCancel
	c.connected = true

	if len(c.symbols) > 0 {
		if err := c.sendSubscribe(connCtx, c.symbols); err != nil {
			connCancel()
			conn.Close(websocket.StatusNormalClosure, "subscribe failed")
			c.conn = nil
			c.connCtx = nil
			c.cancelFunc = nil
			c.connected = false
			return fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	c.log.Info().Int("symbols", len(c.symbols)).Msg("Connected to gateway")
	return nil
}

// Disconnect closes the connection; the client can be reconnected later.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}

	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	c.connCtx = nil
	c.connected = false

	if err != nil {
		return fmt.Errorf("error closing gateway connection: %w", err)
	}
	return nil
}

// SetSymbols replaces the subscription. Safe to call while disconnected;
// the set is replayed on the next connect.
func (c *Client) SetSymbols(symbols []string) error {
	c.mu.Lock()
	c.symbols = append([]string(nil), symbols...)
	conn := c.conn
	ctx := c.connCtx
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.sendSubscribe(ctx, symbols)
}

func (c *Client) sendSubscribe(ctx context.Context, symbols []string) error {
	frame := subscribeFrame{Action: "subscribe", Symbols: symbols}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe frame: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscribe frame: %w", err)
	}
	c.log.Debug().Int("symbols", len(symbols)).Msg("Subscription sent")
	return nil
}

func (c *Client) readMessages(ctx context.Context) {
	defer func() {
		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if !stopped {
			go c.reconnectLoop()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			switch {
			case closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway:
				c.log.Info().Int("status", int(closeStatus)).Msg("Gateway closed the stream")
			case ctx.Err() != nil:
				c.log.Debug().Msg("Read cancelled")
			default:
				c.log.Error().Err(err).Msg("Gateway read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := c.handleMessage(message); err != nil {
			c.log.Error().Err(err).Msg("Failed to handle gateway frame")
		}
	}
}

// handleMessage parses one frame and folds it into the quote cache.
func (c *Client) handleMessage(message []byte) error {
	var t tick
	if err := json.Unmarshal(message, &t); err != nil {
		return fmt.Errorf("failed to parse tick: %w", err)
	}
	if t.Type != "" && t.Type != "tick" {
		return nil // heartbeat or control frame
	}
	if t.Symbol == "" {
		return nil
	}

	q := domain.Quote{
		Symbol:       t.Symbol,
		Bid:          t.Bid,
		Ask:          t.Ask,
		Last:         t.Last,
		Volume:       t.Volume,
		AvgVolume50D: t.AvgVolume50D,
		MA21:         t.MA21,
		MA50:         t.MA50,
		MA200:        t.MA200,
		Time:         c.now(),
	}
	if t.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, t.Timestamp); err == nil {
			q.Time = ts
		}
	}

	c.quoteMu.Lock()
	c.quotes[t.Symbol] = q
	c.quoteMu.Unlock()
	return nil
}

// GetQuote answers from the cache. domain.ErrNoQuote means the symbol has
// never ticked or its last tick is older than the staleness threshold.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.quoteMu.RLock()
	q, ok := c.quotes[symbol]
	c.quoteMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrNoQuote)
	}
	if c.now().Sub(q.Time) > quoteStaleThreshold {
		return nil, fmt.Errorf("%s: stale since %s: %w", symbol, q.Time.Format(time.RFC3339), domain.ErrNoQuote)
	}
	return &q, nil
}

// IsConnected reports the live connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) reconnectLoop() {
	c.mu.Lock()
	if c.reconnecting || c.stopped {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := calculateBackoff(attempt)

		if attempt <= maxReconnectAttempts {
			c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to gateway")
		} else {
			c.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Still reconnecting past max attempts")
		}

		select {
		case <-time.After(delay):
		case <-c.stopChan:
			return
		}

		if err := c.Connect(); err != nil {
			c.log.Error().Err(err).Int("attempt", attempt).Msg("Reconnect failed")
			continue
		}

		c.log.Info().Int("attempt", attempt).Msg("Reconnected to gateway")

		c.mu.RLock()
		ctx := c.connCtx
		c.mu.RUnlock()
		go c.readMessages(ctx)
		return
	}
}

// calculateBackoff doubles the base delay per attempt, capped at the max.
func calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}
