// Package bybit implements the client for the Bybit v5 public stream,
// translating wire messages into domain book events.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantrove/mmbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// readWait is the time allowed between reads; the server answers the
	// app-level ping well within this.
	readWait = 60 * time.Second

	// pingPeriod sends the {"op":"ping"} keep-alive at this interval. Bybit
	// drops connections idle for more than 30 seconds.
	pingPeriod = 20 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// SnapshotHandler is called for every full book snapshot.
type SnapshotHandler func(*domain.BookSnapshot)

// DeltaHandler is called for every incremental book update.
type DeltaHandler func(*domain.DeltaEvent)

// WSClient is a client for the Bybit v5 public WebSocket stream. It manages
// the connection lifecycle and subscriptions and dispatches book messages
// to registered handlers. Subscriptions are restored after a reconnect,
// which makes the server re-send a fresh snapshot per topic.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Topics to restore on reconnect, keyed for idempotent resubscription.
	topics map[string]struct{}

	snapshotHandlers []SnapshotHandler
	deltaHandlers    []DeltaHandler
	handlerMu        sync.RWMutex

	done chan struct{}
}

// NewWSClient creates a client for the given stream endpoint, e.g.
// "wss://stream.bybit.com/v5/public/linear".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		topics: make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the read and
// ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("bybit/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws: connect: %w", err)
	}

	w.conn = conn
	w.conn.SetReadDeadline(time.Now().Add(readWait))

	go w.readLoop()
	go w.pingLoop()

	if len(w.topics) > 0 {
		if err := w.sendCommand(WSCommand{Op: "subscribe", Args: w.topicList()}); err != nil {
			return fmt.Errorf("bybit/ws: restore subscriptions: %w", err)
		}
	}

	return nil
}

// Subscribe subscribes to the orderbook topic at the given depth for each
// symbol. The server answers with a full snapshot followed by deltas.
func (w *WSClient) Subscribe(ctx context.Context, depth int, symbols []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("bybit/ws: not connected")
	}

	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		topic := BookTopic(depth, s)
		if _, ok := w.topics[topic]; ok {
			continue
		}
		args = append(args, topic)
	}
	if len(args) == 0 {
		return nil
	}

	if err := w.sendCommand(WSCommand{Op: "subscribe", Args: args}); err != nil {
		return fmt.Errorf("bybit/ws: subscribe: %w", err)
	}
	for _, topic := range args {
		w.topics[topic] = struct{}{}
	}
	return nil
}

// Resubscribe cycles the topic for one symbol, forcing the server to send
// a fresh snapshot. Used to recover from a sequence gap.
func (w *WSClient) Resubscribe(ctx context.Context, depth int, symbol string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("bybit/ws: not connected")
	}

	topic := BookTopic(depth, symbol)
	if err := w.sendCommand(WSCommand{Op: "unsubscribe", Args: []string{topic}}); err != nil {
		return fmt.Errorf("bybit/ws: unsubscribe %s: %w", topic, err)
	}
	if err := w.sendCommand(WSCommand{Op: "subscribe", Args: []string{topic}}); err != nil {
		return fmt.Errorf("bybit/ws: resubscribe %s: %w", topic, err)
	}
	w.topics[topic] = struct{}{}
	return nil
}

// Close shuts down the connection and stops the loops.
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

// OnSnapshot registers a handler for full book snapshots.
func (w *WSClient) OnSnapshot(handler SnapshotHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.snapshotHandlers = append(w.snapshotHandlers, handler)
}

// OnDelta registers a handler for incremental book updates.
func (w *WSClient) OnDelta(handler DeltaHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.deltaHandlers = append(w.deltaHandlers, handler)
}

// sendCommand sends a JSON command. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) topicList() []string {
	out := make([]string, 0, len(w.topics))
	for t := range w.topics {
		out = append(out, t)
	}
	return out
}

// readLoop reads messages and dispatches them until the connection drops,
// then hands off to reconnect.
func (w *WSClient) readLoop() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}

			w.reconnect()
			return
		}

		conn.SetReadDeadline(time.Now().Add(readWait))
		w.handleMessage(message)
	}
}

// pingLoop sends the app-level ping Bybit expects; the transport-level
// ping frame is not honored by the server.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			if w.conn == nil {
				w.mu.Unlock()
				return
			}
			err := w.sendCommand(WSCommand{Op: "ping"})
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw message and routes book payloads to the
// registered handlers. Acks and pongs are dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.Op != "" || !strings.HasPrefix(env.Topic, "orderbook.") {
		return
	}

	var payload struct {
		Data BookMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return
	}
	ts := time.UnixMilli(env.TS).UTC()

	switch env.Type {
	case "snapshot":
		snap, err := payload.Data.ToSnapshot(ts)
		if err != nil {
			return
		}
		w.handlerMu.RLock()
		handlers := w.snapshotHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(snap)
		}

	case "delta":
		delta, err := payload.Data.ToDelta(ts)
		if err != nil {
			return
		}
		w.handlerMu.RLock()
		handlers := w.deltaHandlers
		w.handlerMu.RUnlock()
		for _, h := range handlers {
			h(delta)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
