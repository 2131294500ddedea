package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/xray-check/internal/logging"
)

// Store loads and saves sessions keyed by id.
type Store struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewStore builds a store; every Save refreshes the ttl.
func NewStore(cache Cache, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{
		cache:  cache,
		ttl:    ttl,
		logger: logger.Named("session_store"),
		now:    time.Now,
	}
}

func key(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// Load returns the stored session, or a fresh one in the initial state when
// nothing is stored under id.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}

	raw, err := s.cache.Get(ctx, key(id))
	if errors.Is(err, redis.Nil) {
		return New(id), nil
	}
	if err != nil {
		return nil, logging.NewOperationError("session.load", id, err)
	}

	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		logging.WithOperation(s.logger, "session.load", id).Warn("discarding undecodable session", zap.Error(err))
		return New(id), nil
	}
	sess.ID = id
	return &sess, nil
}

// Save persists the session.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = s.now().UTC()
	payload, err := json.Marshal(sess)
	if err != nil {
		return logging.NewOperationError("session.save", sess.ID, err)
	}
	if err := s.cache.Set(ctx, key(sess.ID), string(payload), s.ttl); err != nil {
		return logging.NewOperationError("session.save", sess.ID, err)
	}
	return nil
}

// Delete drops the session; the next Load starts from the initial state.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.cache.Del(ctx, key(id)); err != nil {
		return logging.NewOperationError("session.delete", id, err)
	}
	return nil
}
