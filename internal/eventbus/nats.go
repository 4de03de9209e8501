package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/config"
	"github.com/agor/agor/internal/common/logger"
)

// NATSEventBus is the distributed EventBus backend, used when
// NATSConfig.URL is configured. It uses core NATS publish/subscribe with no
// persistence: an event published while a subscriber is disconnected, or
// dropped by NATS for a slow subscriber, is not redelivered. The design's
// anticipated per-scope topics (board:<id>, session:<id>) map onto real
// subjects instead of client-side filtering alone.
type NATSEventBus struct {
	conn *nats.Conn
	log  *logger.Logger
}

// NewNATSEventBus connects to the configured NATS server. ClientID and
// MaxReconnects come from NATSConfig; an empty URL is a programmer error —
// callers should check config before constructing this backend and fall
// back to NewMemoryEventBus instead.
func NewNATSEventBus(cfg config.NATSConfig, log *logger.Logger) (*NATSEventBus, error) {
	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, apperr.Transientf("connect to nats at %s: %v", cfg.URL, err)
	}

	return &NATSEventBus{conn: conn, log: log}, nil
}

type natsSub struct {
	sub     *nats.Subscription
	subject string
}

func (s *natsSub) Unsubscribe() error { return s.sub.Unsubscribe() }
func (s *natsSub) Subject() string    { return s.subject }

func (b *NATSEventBus) dispatch(subject string, handler Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.log.WithError(err).Error("nats event decode failed", )
			return
		}
		if err := handler(context.Background(), msg.Subject, ev); err != nil {
			b.log.WithError(err).Warn("event handler failed")
		}
	}
}

func (b *NATSEventBus) Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(natsSubject(subject), b.dispatch(subject, handler))
	if err != nil {
		return nil, apperr.Transientf("nats subscribe %q: %v", subject, err)
	}
	return &natsSub{sub: sub, subject: subject}, nil
}

func (b *NATSEventBus) QueueSubscribe(ctx context.Context, subject, queue string, handler Handler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(natsSubject(subject), queue, b.dispatch(subject, handler))
	if err != nil {
		return nil, apperr.Transientf("nats queue-subscribe %q/%q: %v", subject, queue, err)
	}
	return &natsSub{sub: sub, subject: subject}, nil
}

func (b *NATSEventBus) Publish(ctx context.Context, subject string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return apperr.Internalf(err, "marshal event")
	}
	if err := b.conn.Publish(natsSubject(subject), data); err != nil {
		return apperr.Transientf("nats publish %q: %v", subject, err)
	}
	return nil
}

func (b *NATSEventBus) Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error) {
	msg, err := b.conn.Request(natsSubject(subject), payload, timeout)
	if err != nil {
		return nil, apperr.Transientf("nats request %q: %v", subject, err)
	}
	return msg.Data, nil
}

func (b *NATSEventBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

func (b *NATSEventBus) Close() error {
	b.conn.Close()
	return nil
}

// natsSubject rewrites the bus's "*"/">" dot-subject convention and our
// reserved GlobalTopic onto a NATS-safe subject string.
func natsSubject(subject string) string {
	if subject == GlobalTopic {
		return "agor.>"
	}
	return "agor." + subject
}
