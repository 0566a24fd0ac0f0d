package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
)

type WebSocketOptions struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

func DefaultWebSocketOptions() WebSocketOptions {
	return WebSocketOptions{
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     20 * time.Second,
	}
}

// WebSocketPush subscribes to node-changed events over a websocket. Group
// memberships survive reconnects: every Listen call re-joins them.
type WebSocketPush struct {
	url      string
	clientID string
	options  WebSocketOptions
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	mu     sync.Mutex
	groups map[domain.NodeID]bool
	send   chan pushMessage
}

func NewWebSocketPush(url string, options WebSocketOptions, logger zerolog.Logger) *WebSocketPush {
	clientID := uuid.NewString()
	return &WebSocketPush{
		url:      url,
		clientID: clientID,
		options:  options,
		dialer:   &websocket.Dialer{HandshakeTimeout: options.HandshakeTimeout},
		logger:   logger.With().Str("component", "push").Str("client", clientID).Logger(),
		groups:   map[domain.NodeID]bool{},
	}
}

func (push *WebSocketPush) ClientID() string {
	return push.clientID
}

func (push *WebSocketPush) Listen(ctx context.Context, events chan<- PushEvent) error {
	ws, _, err := push.dialer.DialContext(ctx, push.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial push channel: %v", ErrUnavailable, err)
	}
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()

	send := make(chan pushMessage, 16)
	push.mu.Lock()
	push.send = send
	pending := []pushMessage{{Type: messageSubscribe, Client: push.clientID}}
	for id := range push.groups {
		pending = append(pending, pushMessage{Type: messageJoin, NodeID: id})
	}
	push.mu.Unlock()
	defer func() {
		push.mu.Lock()
		if push.send == send {
			push.send = nil
		}
		push.mu.Unlock()
	}()

	for _, message := range pending {
		if err := push.write(ws, message); err != nil {
			return fmt.Errorf("%w: subscribe: %v", ErrUnavailable, err)
		}
	}
	push.logger.Info().Str("url", push.url).Msg("push channel connected")

	ws.SetReadDeadline(time.Now().Add(push.options.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(push.options.ReadTimeout))
	})

	go func() {
		defer func() {
			handleCancel()
			ws.Close()
		}()
		ticker := time.NewTicker(push.options.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-handleCtx.Done():
				deadline := time.Now().Add(push.options.WriteTimeout)
				ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				return
			case message := <-send:
				if err := push.write(ws, message); err != nil {
					push.logger.Warn().Err(err).Msg("push write failed")
					return
				}
			case <-ticker.C:
				deadline := time.Now().Add(push.options.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("%w: push channel closed by server", ErrUnavailable)
			}
			return fmt.Errorf("%w: read push channel: %v", ErrUnavailable, err)
		}
		ws.SetReadDeadline(time.Now().Add(push.options.ReadTimeout))
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		record, ok, err := decodePushFrame(data)
		if err != nil {
			push.logger.Warn().Err(err).Msg("dropping push frame")
			continue
		}
		if !ok {
			continue
		}
		select {
		case events <- PushEvent{Record: record, Received: time.Now(), Origin: "websocket"}:
		case <-handleCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: push connection lost", ErrUnavailable)
		}
	}
}

func (push *WebSocketPush) Join(ctx context.Context, id domain.NodeID) error {
	return push.membership(ctx, id, true)
}

func (push *WebSocketPush) Leave(ctx context.Context, id domain.NodeID) error {
	return push.membership(ctx, id, false)
}

func (push *WebSocketPush) Groups() []domain.NodeID {
	push.mu.Lock()
	defer push.mu.Unlock()
	out := make([]domain.NodeID, 0, len(push.groups))
	for id := range push.groups {
		out = append(out, id)
	}
	return out
}

// membership records the change and forwards it when connected. While
// disconnected the change is applied on the next subscribe.
func (push *WebSocketPush) membership(ctx context.Context, id domain.NodeID, join bool) error {
	if id.IsRoot() {
		return errors.New("cannot join the root group")
	}
	message := pushMessage{Type: messageLeave, NodeID: id}
	push.mu.Lock()
	if join {
		push.groups[id] = true
		message.Type = messageJoin
	} else {
		delete(push.groups, id)
	}
	send := push.send
	push.mu.Unlock()
	if send == nil {
		return nil
	}
	select {
	case send <- message:
	case <-ctx.Done():
		return ctx.Err()
	default:
		push.logger.Warn().Str("id", id.String()).Msg("push queue full, membership deferred to reconnect")
	}
	return nil
}

func (push *WebSocketPush) write(ws *websocket.Conn, message pushMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(push.options.WriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, data)
}
