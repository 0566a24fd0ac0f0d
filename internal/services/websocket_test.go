package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"navsync/internal/domain"
)

type pushServer struct {
	*httptest.Server
	received chan pushMessage
	frames   []string
}

func newPushServer(t *testing.T, frames ...string) *pushServer {
	t.Helper()
	server := &pushServer{received: make(chan pushMessage, 16), frames: frames}
	upgrader := websocket.Upgrader{}
	server.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				_, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				var message pushMessage
				if json.Unmarshal(data, &message) == nil {
					server.received <- message
				}
			}
		}()
		for _, frame := range server.frames {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		<-closed
	}))
	t.Cleanup(server.Close)
	return server
}

func (server *pushServer) wsURL() string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func nextMessage(t *testing.T, messages <-chan pushMessage) pushMessage {
	t.Helper()
	select {
	case message := <-messages:
		return message
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client message")
	}
	return pushMessage{}
}

func nextEvent(t *testing.T, events <-chan PushEvent) PushEvent {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push event")
	}
	return PushEvent{}
}

func TestWebSocketPushDeliversNodeFrames(t *testing.T) {
	server := newPushServer(t,
		`{"id":5,"status":"active"}`,
		`{"type":"ack"}`,
		`not json`,
		`{"type":"node","node":{"id":"6","parentId":5,"label":"Pump","status":"inactive"}}`,
	)
	push := NewWebSocketPush(server.wsURL(), DefaultWebSocketOptions(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan PushEvent, 4)
	done := make(chan error, 1)
	go func() { done <- push.Listen(ctx, events) }()

	subscribe := nextMessage(t, server.received)
	assert.Equal(t, messageSubscribe, subscribe.Type)
	assert.Equal(t, push.ClientID(), subscribe.Client)

	first := nextEvent(t, events)
	assert.Equal(t, domain.StatusUpdate("5", domain.StatusActive), first.Record)
	assert.Equal(t, "websocket", first.Origin)

	second := nextEvent(t, events)
	assert.Equal(t, domain.NewRecord("6", "5", "Pump", domain.StatusInactive), second.Record)

	assert.Equal(t, nil, push.Join(ctx, "6"))
	join := nextMessage(t, server.received)
	assert.Equal(t, messageJoin, join.Type)
	assert.Equal(t, domain.NodeID("6"), join.NodeID)

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, true, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}

func TestWebSocketPushRejoinsGroupsOnConnect(t *testing.T) {
	server := newPushServer(t)
	push := NewWebSocketPush(server.wsURL(), DefaultWebSocketOptions(), zerolog.Nop())
	assert.Equal(t, nil, push.Join(context.Background(), "3"))
	assert.Equal(t, nil, push.Join(context.Background(), "4"))
	assert.Equal(t, nil, push.Leave(context.Background(), "4"))
	assert.Equal(t, []domain.NodeID{"3"}, push.Groups())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go push.Listen(ctx, make(chan PushEvent))

	assert.Equal(t, messageSubscribe, nextMessage(t, server.received).Type)
	rejoin := nextMessage(t, server.received)
	assert.Equal(t, messageJoin, rejoin.Type)
	assert.Equal(t, domain.NodeID("3"), rejoin.NodeID)
}

func TestWebSocketPushDialFailure(t *testing.T) {
	push := NewWebSocketPush("ws://127.0.0.1:1/push", DefaultWebSocketOptions(), zerolog.Nop())
	err := push.Listen(context.Background(), make(chan PushEvent))
	assert.Equal(t, true, errors.Is(err, ErrUnavailable))
}

func TestWebSocketPushRejectsRootGroup(t *testing.T) {
	push := NewWebSocketPush("ws://127.0.0.1:1/push", DefaultWebSocketOptions(), zerolog.Nop())
	assert.NotEqual(t, nil, push.Join(context.Background(), domain.RootID))
}
