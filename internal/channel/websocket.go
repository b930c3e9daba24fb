// File: internal/channel/websocket.go

// Package channel implements the persistent bidirectional connection to the
// sandboxed OS agent: a websocket carrying request/response envelopes
// correlated by id, plus typed helpers for every remote operation the
// dispatcher depends on.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/halcyonqa/pilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrChannelTimeout marks a request that got no reply within the per-request
// timeout. Command acknowledgment has its own deadline, independent of any
// redraw settle timeout.
var ErrChannelTimeout = errors.New("sandbox request timed out")

// ErrChannelClosed marks requests issued after the connection shut down.
var ErrChannelClosed = errors.New("sandbox channel closed")

// envelope is the wire frame: the message type and id plus the message
// fields flattened alongside them.
type envelope map[string]any

// wsReply is an inbound frame correlated back to a pending request.
type wsReply struct {
	ID      string              `json:"id"`
	Success bool                `json:"success"`
	Out     jsoniter.RawMessage `json:"out,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// WS is a websocket implementation of schemas.Channel.
type WS struct {
	conn    *websocket.Conn
	log     *zap.Logger
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *wsReply
	closed  bool
	done    chan struct{}
}

var _ schemas.Channel = (*WS)(nil)

// Dial connects to the sandbox agent and starts the read loop. timeout
// bounds each individual request round trip.
func Dial(ctx context.Context, url string, timeout time.Duration, logger *zap.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial sandbox agent at %s: %w", url, err)
	}
	w := &WS{
		conn:    conn,
		log:     logger.Named("channel"),
		timeout: timeout,
		pending: make(map[string]chan *wsReply),
		done:    make(chan struct{}),
	}
	go w.readLoop()
	return w, nil
}

// Send transmits one message and blocks for its correlated reply, the
// per-request timeout, or context cancellation, whichever comes first.
func (w *WS) Send(ctx context.Context, msg schemas.Message) (*schemas.Response, error) {
	id := uuid.NewString()
	frame := envelope{"id": id, "type": msg.Type}
	for k, v := range msg.Fields {
		frame[k] = v
	}

	replyCh := make(chan *wsReply, 1)
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrChannelClosed
	}
	w.pending[id] = replyCh
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
	}()

	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}
	w.writeMu.Lock()
	err = w.conn.WriteMessage(websocket.TextMessage, raw)
	w.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send %s message: %w", msg.Type, err)
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, ErrChannelClosed
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s after %s", ErrChannelTimeout, msg.Type, w.timeout)
	case reply := <-replyCh:
		return &schemas.Response{Success: reply.Success, Out: []byte(reply.Out), Error: reply.Error}, nil
	}
}

// Close tears down the connection and unblocks every pending request.
func (w *WS) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.mu.Unlock()
	return w.conn.Close()
}

func (w *WS) readLoop() {
	defer w.Close()
	for {
		_, raw, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			alreadyClosed := w.closed
			w.mu.Unlock()
			if !alreadyClosed {
				w.log.Warn("Sandbox channel read failed", zap.Error(err))
			}
			return
		}
		var reply wsReply
		if err := json.Unmarshal(raw, &reply); err != nil {
			w.log.Warn("Discarding unparseable frame from sandbox", zap.Error(err))
			continue
		}
		w.mu.Lock()
		ch, ok := w.pending[reply.ID]
		w.mu.Unlock()
		if !ok {
			w.log.Debug("Reply for unknown request id", zap.String("id", reply.ID))
			continue
		}
		select {
		case ch <- &reply:
		default:
		}
	}
}
