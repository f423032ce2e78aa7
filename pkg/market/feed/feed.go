package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jhudec/sandglass/pkg/common"
	"github.com/jhudec/sandglass/pkg/market"
	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

// quoteMessage is the wire format pushed by the quote server. Prices come as
// decimal strings so the feed never round-trips through binary floats.
type quoteMessage struct {
	Symbol    string `json:"symbol"`
	Last      string `json:"last"`
	LimitUp   string `json:"limit_up"`
	LimitDown string `json:"limit_down"`
	Ts        int64  `json:"ts"`
}

const (
	redialInitial = time.Second
	redialMax     = 30 * time.Second
)

// Client keeps a websocket subscription open and caches the latest quote per
// symbol. Readers only ever see the cache; the read loop is the sole writer.
// A broken connection is redialed with exponential backoff until Close.
type Client struct {
	url    string
	logger *zap.Logger

	ctx       context.Context
	ctxCancel context.CancelFunc

	connMu  sync.Mutex
	conn    *websocket.Conn
	symbols []string

	mu     sync.RWMutex
	quotes map[string]common.Quote
}

func NewClient(url string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:       url,
		logger:    logger,
		ctx:       ctx,
		ctxCancel: cancel,
		quotes:    make(map[string]common.Quote),
	}
}

// Connect dials the feed and subscribes. Dial errors surface here so a bad
// url fails the session up front; later disconnects are redialed in the
// background.
func (c *Client) Connect(ctx context.Context, symbols []string) error {
	c.symbols = symbols
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.run()
	return nil
}

func (c *Client) Close() {
	c.ctxCancel()
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()
}

func (c *Client) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial quote feed %q: %w", c.url, err)
	}

	sub := struct {
		Op      string   `json:"op"`
		Symbols []string `json:"symbols"`
	}{Op: "subscribe", Symbols: c.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return fmt.Errorf("subscribe quote feed: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

func (c *Client) run() {
	backoff := redialInitial
	for {
		err := c.readLoop()
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("quote feed disconnected, redialing",
			zap.Duration("in", backoff), zap.Error(err))

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := c.dial(c.ctx); err != nil {
			c.logger.Warn("quote feed redial failed", zap.Error(err))
			if backoff < redialMax {
				backoff *= 2
			}
			continue
		}
		backoff = redialInitial
	}
}

// readLoop consumes one connection until it breaks and returns the breaking
// error.
func (c *Client) readLoop() error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg quoteMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn("malformed quote message", zap.Error(err))
			continue
		}

		quote, err := msg.toQuote()
		if err != nil {
			c.logger.Warn("unusable quote message",
				zap.String("symbol", msg.Symbol), zap.Error(err))
			continue
		}

		c.mu.Lock()
		c.quotes[quote.Symbol] = quote
		c.mu.Unlock()
	}
}

// Quote serves the cached latest quote. The at argument is ignored; a live
// feed only knows "now".
func (c *Client) Quote(_ context.Context, symbol string, _ time.Time) (common.Quote, error) {
	c.mu.RLock()
	quote, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok {
		return common.Quote{}, market.ErrNoData
	}
	return quote, nil
}

func (m quoteMessage) toQuote() (common.Quote, error) {
	last, err := fixed.FromString(m.Last)
	if err != nil {
		return common.Quote{}, fmt.Errorf("last: %w", err)
	}
	up, err := fixed.FromString(m.LimitUp)
	if err != nil {
		return common.Quote{}, fmt.Errorf("limit_up: %w", err)
	}
	down, err := fixed.FromString(m.LimitDown)
	if err != nil {
		return common.Quote{}, fmt.Errorf("limit_down: %w", err)
	}
	return common.Quote{
		Symbol:    m.Symbol,
		Last:      last,
		LimitUp:   up,
		LimitDown: down,
		TimeStamp: time.Unix(0, m.Ts),
	}, nil
}

// Composite serves live quotes from the feed and everything else from a
// historical source.
type Composite struct {
	Live *Client
	Hist market.Source
}

func (c *Composite) Quote(ctx context.Context, symbol string, at time.Time) (common.Quote, error) {
	quote, err := c.Live.Quote(ctx, symbol, at)
	if err == nil {
		return quote, nil
	}
	return c.Hist.Quote(ctx, symbol, at)
}

func (c *Composite) DailyBar(ctx context.Context, symbol string, day time.Time) (common.Bar, error) {
	return c.Hist.DailyBar(ctx, symbol, day)
}

func (c *Composite) MinuteBars(ctx context.Context, symbol string, from, to time.Time) ([]common.Bar, error) {
	return c.Hist.MinuteBars(ctx, symbol, from, to)
}

func (c *Composite) TradingDays(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	return c.Hist.TradingDays(ctx, from, to)
}
