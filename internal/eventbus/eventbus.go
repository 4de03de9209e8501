// Package eventbus implements the pub/sub surface (C2) that fans out
// created/patched/removed events from the Entity Store to subscribed
// clients. Publication is decoupled from transport: a Memory backend for
// single-process use and a NATS backend for distributed delivery
// share the same EventBus interface.
package eventbus

import (
	"context"
	"encoding/json"
	"time"
)

// Verb is the mutation kind carried by an Event.
type Verb string

const (
	Created Verb = "created"
	Patched Verb = "patched"
	Removed Verb = "removed"
)

// Event is the envelope published after every committed mutation
// (spec.md §4.1: "{service, verb, payload}").
type Event struct {
	Service string          `json:"service"`
	Verb    Verb            `json:"verb"`
	Payload json.RawMessage `json:"payload"`

	// EntityID is used to enforce per-entity ordering: a subscriber never
	// observes patched before created for the same id.
	EntityID string `json:"entity_id"`

	Timestamp time.Time `json:"timestamp"`
}

// GlobalTopic is delivered to every subscriber regardless of scope.
const GlobalTopic = "*"

// Handler receives delivered events. Returning an error does not requeue
// the event — delivery is at-least-once per subscriber, not per-handler-call;
// a handler that wants redelivery semantics must persist its own cursor.
type Handler func(ctx context.Context, subject string, ev Event) error

// Subscription is a live subscriber registration; Unsubscribe stops delivery.
type Subscription interface {
	Unsubscribe() error
	Subject() string
}

// EventBus is the transport-agnostic pub/sub contract both backends satisfy.
type EventBus interface {
	// Publish sends ev on subject. Callers must only publish strictly after
	// the originating transaction has committed (spec.md §4.2).
	Publish(ctx context.Context, subject string, ev Event) error

	// Subscribe registers handler for subject (supports NATS-style wildcards,
	// e.g. "session.*.patched"); every matching subscriber on this bus
	// receives every matching event.
	Subscribe(ctx context.Context, subject string, handler Handler) (Subscription, error)

	// QueueSubscribe registers handler as part of queue group: only one
	// member of the group receives each matching event, providing load
	// balancing across multiple daemon workers sharing a bus.
	QueueSubscribe(ctx context.Context, subject, queue string, handler Handler) (Subscription, error)

	// Request performs a request/reply round trip, used by components that
	// need a synchronous answer over the same transport (e.g. permission
	// arbiter notifications in a multi-daemon NATS deployment).
	Request(ctx context.Context, subject string, payload []byte, timeout time.Duration) ([]byte, error)

	// IsConnected reports whether the backend can currently publish/receive.
	IsConnected() bool

	Close() error
}
