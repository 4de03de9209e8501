// Package store implements the Entity Store (C1): a transactional
// relational surface over sessions, tasks, messages, worktrees, boards,
// MCP server configs, and users. Every successful mutating call produces a
// structured event delivered to the Event Bus strictly after the owning
// transaction commits (spec.md §4.1, §4.2).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agor/agor/internal/common/apperr"
	"github.com/agor/agor/internal/common/logger"
	"github.com/agor/agor/internal/db"
	"github.com/agor/agor/internal/eventbus"
)

// Store is the Entity Store. One instance is constructed at daemon
// startup and shared by every Service (C3).
type Store struct {
	pool   *db.Pool
	driver string
	bus    eventbus.EventBus
	log    *logger.Logger

	// sessionLocks serializes Message.append per session (invariant: no two
	// messages in a session share an index). The writer pool already
	// serializes at the connection level for SQLite, but Postgres allows
	// concurrent writer connections, so this lock is the portable guarantee.
	sessionLocks   map[string]*sync.Mutex
	sessionLocksMu sync.Mutex
}

// New constructs a Store, applying the schema if it isn't already present.
func New(pool *db.Pool, driver string, bus eventbus.EventBus, log *logger.Logger) (*Store, error) {
	s := &Store{
		pool:         pool,
		driver:       driver,
		bus:          bus,
		log:          log,
		sessionLocks: make(map[string]*sync.Mutex),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) writer() *sqlx.DB { return s.pool.Writer() }
func (s *Store) reader() *sqlx.DB { return s.pool.Reader() }

func (s *Store) lockFor(sessionID string) *sync.Mutex {
	s.sessionLocksMu.Lock()
	defer s.sessionLocksMu.Unlock()
	m, ok := s.sessionLocks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.sessionLocks[sessionID] = m
	}
	return m
}

// emit publishes {service, verb, payload} after a mutation commits. subject
// is "<service>.<entityID>.<verb>"; a subscriber on eventbus.GlobalTopic
// receives every event regardless of subject.
func (s *Store) emit(ctx context.Context, service string, verb eventbus.Verb, entityID string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.WithError(err).Error("store: failed to marshal event payload", )
		return
	}
	ev := eventbus.Event{
		Service:   service,
		Verb:      verb,
		Payload:   raw,
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
	}
	subject := fmt.Sprintf("%s.%s.%s", service, entityID, verb)
	if err := s.bus.Publish(ctx, subject, ev); err != nil {
		s.log.WithError(err).Warn("store: event publish failed")
	}
}

func (s *Store) now() time.Time { return time.Now().UTC() }

// withTx runs fn inside a transaction on the writer pool, committing only
// if fn returns nil. Events must be emitted by the caller after withTx
// returns successfully, never inside fn — "publish strictly after commit".
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.writer().BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Internalf(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Internalf(err, "commit transaction")
	}
	return nil
}

// Close releases the underlying connection pool. It does not close the
// event bus, which components other than the Store also publish/subscribe
// through.
func (s *Store) Close() error {
	return s.pool.Close()
}
