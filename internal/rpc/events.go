package rpc

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agor/agor/internal/eventbus"
)

// subscribeMessage is the client->server frame opening an Event Bus (C2)
// subscription over one WebSocket connection (spec.md §4.3: "a duplex
// RPC channel that supports both CRUD writes and event subscription"),
// matching internal/rpcclient.SubscribeCancel's wire shape.
type subscribeMessage struct {
	Op      string `json:"op"`
	Subject string `json:"subject"`
}

// eventFrame is the server->client frame delivered for each matching
// published event.
type eventFrame struct {
	Subject string          `json:"subject"`
	Service string          `json:"service"`
	Verb    eventbus.Verb   `json:"verb"`
	Payload interface{}     `json:"payload"`
}

// handleEventsWS upgrades to a WebSocket and lets the client register any
// number of {"op":"subscribe","subject":"..."} subscriptions, each
// forwarded as eventbus.Subscribe on the daemon's Event Bus. One
// connection may subscribe to many subjects; every matching event is
// multiplexed onto the same socket.
func (s *Server) handleEventsWS(c *gin.Context) {
	if _, ok := mustPrincipal(c); !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("events: websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	var subs []eventbus.Subscription
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()

	writeMu := make(chan struct{}, 1)
	writeMu <- struct{}{}

	for {
		var msg subscribeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Op != "subscribe" || msg.Subject == "" {
			continue
		}

		subject := msg.Subject
		sub, err := s.bus.Subscribe(ctx, subject, func(ctx context.Context, subject string, ev eventbus.Event) error {
			<-writeMu
			defer func() { writeMu <- struct{}{} }()
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			return conn.WriteJSON(eventFrame{
				Subject: subject,
				Service: ev.Service,
				Verb:    ev.Verb,
				Payload: ev.Payload,
			})
		})
		if err != nil {
			s.log.Warn("events: subscribe failed", zap.String("subject", subject), zap.Error(err))
			continue
		}
		subs = append(subs, sub)
	}
}

// publishTaskCancel notifies any Executor blocked in
// rpcclient.SubscribeCancel that taskID has been cancelled. Delivery is
// best-effort: a failure here never fails the cancel RPC call itself,
// since internal/scheduler.Scheduler has already signalled its own child
// process directly.
func (s *Server) publishTaskCancel(ctx context.Context, taskID string) {
	subject := fmt.Sprintf("task:%s:cancel", taskID)
	_ = s.bus.Publish(ctx, subject, eventbus.Event{
		Service:   "tasks",
		Verb:      eventbus.Patched,
		EntityID:  taskID,
		Timestamp: time.Now().UTC(),
	})
}
