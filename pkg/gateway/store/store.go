// Package store persists conversation sessions in Redis.
//
// Sessions are JSON documents under session:{id} with a TTL. Reads and
// writes are whole-document; concurrent writers are last-writer-wins.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound  = errors.New("store: session not found")
	ErrInvalidID = errors.New("store: invalid session id")
)

const keyPrefix = "session:"

// Message is one conversation turn. Messages are append-only.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Memory holds a session's accumulated conversation state.
type Memory struct {
	Messages []Message `json:"messages"`
	Summary  string    `json:"summary,omitempty"`
}

type Session struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	Memory       Memory         `json:"memory"`
	Config       map[string]any `json:"config,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ContextEntry is the reduced message form handed to the language model.
type ContextEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Store struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Store)

// WithTTL overrides the session lifetime. Default is one hour. Every
// persisted write re-arms the TTL, so the lifetime is measured from the
// last activity rather than from creation.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		ttl:    time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(id string) string { return keyPrefix + id }

// Create persists a new empty session and returns it.
func (s *Store) Create(ctx context.Context, userID string, config map[string]any) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		Memory:       Memory{Messages: []Message{}},
		Config:       config,
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session and touches its last-activity time. The touch is
// persisted, which also re-arms the TTL: an idle session expires, an active
// one does not.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.LastActivity = s.now().UTC()
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendMessage adds one turn to the session transcript.
func (s *Store) AppendMessage(ctx context.Context, id, role, content string, metadata map[string]any) error {
	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	sess.Memory.Messages = append(sess.Memory.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: s.now().UTC(),
		Metadata:  metadata,
	})
	sess.LastActivity = s.now().UTC()
	return s.save(ctx, sess)
}

// Context returns the last max messages in conversation order, reduced to
// role and content. An absent session yields an empty slice, not an error,
// so a fresh conversation and a missing one look the same to the model.
func (s *Store) Context(ctx context.Context, id string, max int) ([]ContextEntry, error) {
	if max <= 0 {
		max = 10
	}
	sess, err := s.load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return []ContextEntry{}, nil
		}
		return nil, err
	}
	msgs := sess.Memory.Messages
	if len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	out := make([]ContextEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ContextEntry{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// Clear empties the session's transcript and summary. Config and metadata
// survive.
func (s *Store) Clear(ctx context.Context, id string) error {
	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	sess.Memory = Memory{Messages: []Message{}}
	sess.LastActivity = s.now().UTC()
	return s.save(ctx, sess)
}

// UpdateConfig shallow-merges patch into the session config. Top-level keys
// in patch replace existing values wholesale.
func (s *Store) UpdateConfig(ctx context.Context, id string, patch map[string]any) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Config == nil {
		sess.Config = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		sess.Config[k] = v
	}
	sess.LastActivity = s.now().UTC()
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Delete removes a session. Deleting an id that does not exist returns
// ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}
	n, err := s.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping reports whether the backing Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

func (s *Store) save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}
