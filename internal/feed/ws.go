// Package feed ingests real-time venue prices over WebSocket and routes them
// into the oracle, the shared price cache, and the circuit breaker.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Ticker is one decoded price tick from the venue stream. Pair is either a
// trading pair ("WETH/USDC") or a bare symbol with a USD price ("WETH").
type Ticker struct {
	Pair  string
	Price float64
	At    time.Time
}

// TickerHandler is called for each decoded tick.
type TickerHandler func(t Ticker)

// tickerMessage is the wire shape of a ticker frame. Prices arrive as
// strings; many venues serialize decimals that way to avoid float drift.
type tickerMessage struct {
	Type  string `json:"type"`
	Pair  string `json:"pair"`
	Price string `json:"price"`
	Time  string `json:"time"`
}

// wsCommand is the subscribe/unsubscribe frame sent to the venue.
type wsCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Pairs   []string `json:"pairs"`
}

// WSClient is a WebSocket client for a venue ticker stream. It manages one
// connection, keep-alive pings, and handler dispatch. Reconnection policy
// lives in the Ingester; a closed or failed client is thrown away and a new
// one dialed.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.Mutex
	closed bool

	handlerMu sync.RWMutex
	handlers  []TickerHandler

	// readDone is closed when the read loop exits, which signals the
	// connection is no longer usable.
	readDone chan struct{}
	done     chan struct{}
}

// NewWSClient creates a client for the given WebSocket endpoint.
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL:    wsURL,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnTicker registers a handler called for every decoded tick.
func (w *WSClient) OnTicker(h TickerHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Connect dials the endpoint and starts the read and ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("feed: client closed")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	return nil
}

// Subscribe asks the venue to stream ticker frames for the given pairs.
func (w *WSClient) Subscribe(pairs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("feed: not connected")
	}

	cmd := wsCommand{
		Type:    "subscribe",
		Channel: "ticker",
		Pairs:   pairs,
	}
	return w.sendCommand(cmd)
}

// Done returns a channel closed when the connection's read loop has exited.
func (w *WSClient) Done() <-chan struct{} {
	return w.readDone
}

// Close shuts down the connection. Safe to call more than once.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// sendCommand sends a JSON command frame. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd wsCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames until the connection drops or the client is closed,
// then closes readDone.
func (w *WSClient) readLoop() {
	defer close(w.readDone)

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := w.conn.ReadMessage()
		if err != nil {
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-w.readDone:
			return
		case <-ticker.C:
			w.mu.Lock()
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := w.conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage decodes a ticker frame and fans it out to the registered
// handlers. Unparseable or non-ticker frames are dropped silently.
func (w *WSClient) handleMessage(raw []byte) {
	var msg tickerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "ticker" || msg.Pair == "" {
		return
	}

	price, err := strconv.ParseFloat(msg.Price, 64)
	if err != nil || price <= 0 {
		return
	}

	at := time.Now().UTC()
	if msg.Time != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
			at = t
		}
	}

	t := Ticker{Pair: msg.Pair, Price: price, At: at}

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(t)
	}
}
