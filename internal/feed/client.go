// Package feed maintains the single multiplexed WebSocket connection to the
// upstream trade feed and demultiplexes inbound trade events by mint.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"contractcore/internal/domain"
	"contractcore/internal/observability"
)

// ErrClosed is returned by client methods once Close has been called.
var ErrClosed = errors.New("feed: client closed")

// ErrReconnectsExhausted is the fatal error surfaced to every subscriber
// after MaxReconnectAttempts consecutive failures.
var ErrReconnectsExhausted = errors.New("feed: reconnect attempts exhausted")

// Client owns one long-lived connection to the upstream trade feed. It is
// safe for concurrent use.
type Client struct {
	endpoint string
	config   Config
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	subs   map[string]chan domain.TradeEvent
	subsMu sync.RWMutex

	done    chan struct{}
	wg      sync.WaitGroup
	fatalCh chan struct{}
	fatal   atomic.Bool
	fatalMu sync.Mutex
	fatalErr error

	reconnecting atomic.Bool

	metrics *observability.Metrics
}

// SetMetrics attaches a Metrics instance; nil is safe and disables
// recording.
func (c *Client) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

// NewClient dials the endpoint and starts the background read loop.
func NewClient(ctx context.Context, endpoint string, cfg Config, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[feed] ", log.LstdFlags|log.Lshortfile)
	}

	c := &Client{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		subs:     make(map[string]chan domain.TradeEvent),
		done:     make(chan struct{}),
		fatalCh:  make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}
	c.conn = conn
	return nil
}

// Subscribe registers interest in a mint and returns the channel events for
// that mint will be delivered on. Calling it again for an already-subscribed
// mint returns the same channel without sending a duplicate control frame.
func (c *Client) Subscribe(mint string) (<-chan domain.TradeEvent, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	c.subsMu.Lock()
	if ch, ok := c.subs[mint]; ok {
		c.subsMu.Unlock()
		return ch, nil
	}
	ch := make(chan domain.TradeEvent, c.config.ChannelCapacity)
	c.subs[mint] = ch
	c.subsMu.Unlock()

	if err := c.sendControl("subscribeTokenTrade", mint); err != nil {
		c.subsMu.Lock()
		delete(c.subs, mint)
		c.subsMu.Unlock()
		return nil, err
	}

	return ch, nil
}

// Unsubscribe removes interest in a mint. It is idempotent; after it
// returns, no further events for the mint are enqueued (any already
// in-flight frame may still land once, per the client's delivery contract).
func (c *Client) Unsubscribe(mint string) error {
	c.subsMu.Lock()
	_, ok := c.subs[mint]
	delete(c.subs, mint)
	c.subsMu.Unlock()

	if !ok {
		return nil
	}
	if c.closed.Load() {
		return nil
	}
	return c.sendControl("unsubscribeTokenTrade", mint)
}

func (c *Client) sendControl(method, mint string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("feed: not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	return c.conn.WriteJSON(controlFrame{Method: method, Keys: []string{mint}})
}

// Fatal returns a channel closed once the client has exhausted its
// reconnect budget. Callers should treat every active subscription as dead
// once this fires.
func (c *Client) Fatal() <-chan struct{} {
	return c.fatalCh
}

// FatalErr returns the error that caused Fatal to fire, or nil if it has
// not fired.
func (c *Client) FatalErr() error {
	c.fatalMu.Lock()
	defer c.fatalMu.Unlock()
	return c.fatalErr
}

// Close tears down the connection and waits for the read loop to exit.
// Subscription channels are neither closed nor removed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

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

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if !c.reconnecting.Swap(true) {
				go c.reconnectLoop()
			}
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		c.handleMessage(message)
	}
}

// reconnectLoop retries with exponential backoff and re-subscribes every
// active mint on success (P5 subscription reconciliation). Giving up after
// MaxReconnectAttempts closes fatalCh.
func (c *Client) reconnectLoop() {
	defer c.reconnecting.Store(false)

	delay := c.config.ReconnectBaseDelay
	for attempt := 1; attempt <= c.config.MaxReconnectAttempts; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()
		if err == nil {
			c.logger.Printf("reconnected after %d attempt(s)", attempt)
			if c.metrics != nil {
				c.metrics.FeedReconnects.Inc()
			}
			c.resubscribeAll()
			return
		}

		c.logger.Printf("reconnect attempt %d/%d failed: %v", attempt, c.config.MaxReconnectAttempts, err)
		delay *= 2
	}

	c.declareFatal(ErrReconnectsExhausted)
}

func (c *Client) declareFatal(err error) {
	if c.fatal.Swap(true) {
		return
	}
	c.fatalMu.Lock()
	c.fatalErr = err
	c.fatalMu.Unlock()
	close(c.fatalCh)

	c.subsMu.Lock()
	c.subs = make(map[string]chan domain.TradeEvent)
	c.subsMu.Unlock()
}

func (c *Client) resubscribeAll() {
	c.subsMu.RLock()
	mints := make([]string, 0, len(c.subs))
	for mint := range c.subs {
		mints = append(mints, mint)
	}
	c.subsMu.RUnlock()

	if len(mints) == 0 {
		return
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(controlFrame{Method: "subscribeTokenTrade", Keys: mints}); err != nil {
		c.logger.Printf("resubscribe failed: %v", err)
	}
}

func (c *Client) handleMessage(message []byte) {
	var frame eventFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.logger.Printf("dropping undecodable frame: %v", err)
		return
	}
	if frame.Mint == "" {
		// Control-plane acknowledgement, per §6.
		return
	}

	c.subsMu.RLock()
	ch, ok := c.subs[frame.Mint]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	event := domain.TradeEvent{
		Signature:             frame.Signature,
		Mint:                  frame.Mint,
		Trader:                frame.TraderPublicKey,
		TxType:                domain.TxType(frame.TxType),
		TokenAmount:           frame.TokenAmount,
		SolAmount:             frame.SolAmount,
		NewTokenBalance:       frame.NewTokenBalance,
		VTokensInBondingCurve: frame.VTokensInBondingCurve,
		VSolInBondingCurve:    frame.VSolInBondingCurve,
		MarketCapSol:          frame.MarketCapSol,
		Pool:                  frame.Pool,
	}

	// Drop-oldest backpressure: never block the read loop on a slow
	// consumer (§4.A backpressure policy).
	select {
	case ch <- event:
	default:
		select {
		case <-ch:
			if c.metrics != nil {
				c.metrics.FeedEventsDropped.Inc()
			}
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}
}
