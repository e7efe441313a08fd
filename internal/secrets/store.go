// Package secrets bridges an interactive session to an unattended worker
// execution. Credentials live in Redis under the session with a sliding TTL;
// enqueueing a job copies the kinds it needs into an immutable snapshot whose
// lifetime is independent of the session, so a worker can still read them
// after the browser tab is long gone.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Kind names a credential bundle inside a session or snapshot.
type Kind string

const (
	KindLLM     Kind = "llm"
	KindPublish Kind = "publish"
)

// Bundle is one opaque set of credential fields.
type Bundle map[string]string

// MissingCredentialError reports a required kind absent at snapshot time.
// It is raised before any queue entry is made.
type MissingCredentialError struct {
	Kind Kind
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("missing required integration: %s credentials must be configured", e.Kind)
}

// SnapshotNotFoundError reports an expired or never-written snapshot.
type SnapshotNotFoundError struct {
	Ref string
}

func (e *SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("secret snapshot %s not found or expired", e.Ref)
}

type Store struct {
	rdb         *redis.Client
	sessionTTL  time.Duration
	snapshotTTL time.Duration
}

func NewStore(rdb *redis.Client, sessionTTL, snapshotTTL time.Duration) *Store {
	return &Store{
		rdb:         rdb,
		sessionTTL:  sessionTTL,
		snapshotTTL: snapshotTTL,
	}
}

// EnsureSession returns a valid session id, issuing a fresh one when the
// given id is empty or its marker has expired. The returned bool reports
// whether a new session was created.
func (s *Store) EnsureSession(ctx context.Context, sessionID string) (string, bool, error) {
	if sessionID == "" {
		newID := newSessionID()
		if err := s.touchSession(ctx, newID); err != nil {
			return "", false, err
		}
		return newID, true, nil
	}

	exists, err := s.rdb.Exists(ctx, sessionMetaKey(sessionID)).Result()
	if err != nil {
		return "", false, err
	}
	if exists == 0 {
		if err := s.touchSession(ctx, sessionID); err != nil {
			return "", false, err
		}
		return sessionID, true, nil
	}

	if err := s.touchSession(ctx, sessionID); err != nil {
		return "", false, err
	}
	if err := s.refreshSessionKeys(ctx, sessionID); err != nil {
		return "", false, err
	}
	return sessionID, false, nil
}

// ResetSession deletes the old session's keys and issues a fresh id.
func (s *Store) ResetSession(ctx context.Context, oldSessionID string) (string, error) {
	if oldSessionID != "" {
		if err := s.DeleteSession(ctx, oldSessionID); err != nil {
			return "", err
		}
	}
	newID := newSessionID()
	if err := s.touchSession(ctx, newID); err != nil {
		return "", err
	}
	return newID, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	keys := []string{
		sessionMetaKey(sessionID),
		credentialKey(sessionID, KindLLM),
		credentialKey(sessionID, KindPublish),
		oauthStateKey(sessionID),
	}
	return s.rdb.Del(ctx, keys...).Err()
}

// StoreOAuthState keeps the CSRF state of a pending GitHub connect flow under
// the session.
func (s *Store) StoreOAuthState(ctx context.Context, sessionID, state string) error {
	return s.rdb.Set(ctx, oauthStateKey(sessionID), state, s.sessionTTL).Err()
}

// ConsumeOAuthState returns the pending state and deletes it, so a state
// value can authorize exactly one callback. Absent state reads as empty.
func (s *Store) ConsumeOAuthState(ctx context.Context, sessionID string) (string, error) {
	key := oauthStateKey(sessionID)
	state, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return "", err
	}
	return state, nil
}

func (s *Store) StoreCredential(ctx context.Context, sessionID string, kind Kind, bundle Bundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, credentialKey(sessionID, kind), raw, s.sessionTTL).Err(); err != nil {
		return err
	}
	return s.touchSession(ctx, sessionID)
}

// GetCredential returns the session's bundle of the given kind, refreshing
// the session TTLs on read. A missing bundle returns (nil, nil).
func (s *Store) GetCredential(ctx context.Context, sessionID string, kind Kind) (Bundle, error) {
	raw, err := s.rdb.Get(ctx, credentialKey(sessionID, kind)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var bundle Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, err
	}

	if err := s.touchSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if err := s.refreshSessionKeys(ctx, sessionID); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (s *Store) ClearCredential(ctx context.Context, sessionID string, kind Kind) error {
	return s.rdb.Del(ctx, credentialKey(sessionID, kind)).Err()
}

// Snapshot copies the required credential kinds out of the session into an
// immutable bundle under ref with its own TTL. Every required kind must be
// present; a missing one fails the whole snapshot.
func (s *Store) Snapshot(ctx context.Context, ref, sessionID string, kinds ...Kind) error {
	payload := make(map[Kind]Bundle, len(kinds))
	for _, kind := range kinds {
		bundle, err := s.GetCredential(ctx, sessionID, kind)
		if err != nil {
			return err
		}
		if bundle == nil {
			return &MissingCredentialError{Kind: kind}
		}
		payload[kind] = bundle
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, snapshotKey(ref), raw, s.snapshotTTL).Err()
}

// ReadSnapshot returns the snapshot stored under ref.
func (s *Store) ReadSnapshot(ctx context.Context, ref string) (map[Kind]Bundle, error) {
	raw, err := s.rdb.Get(ctx, snapshotKey(ref)).Bytes()
	if err == redis.Nil {
		return nil, &SnapshotNotFoundError{Ref: ref}
	}
	if err != nil {
		return nil, err
	}

	var payload map[Kind]Bundle
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *Store) ClearSnapshot(ctx context.Context, ref string) error {
	return s.rdb.Del(ctx, snapshotKey(ref)).Err()
}

func (s *Store) touchSession(ctx context.Context, sessionID string) error {
	return s.rdb.Set(ctx, sessionMetaKey(sessionID), "1", s.sessionTTL).Err()
}

func (s *Store) refreshSessionKeys(ctx context.Context, sessionID string) error {
	pipe := s.rdb.Pipeline()
	pipe.Expire(ctx, sessionMetaKey(sessionID), s.sessionTTL)
	pipe.Expire(ctx, credentialKey(sessionID, KindLLM), s.sessionTTL)
	pipe.Expire(ctx, credentialKey(sessionID, KindPublish), s.sessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func sessionMetaKey(sessionID string) string {
	return fmt.Sprintf("sess:%s:meta", sessionID)
}

func credentialKey(sessionID string, kind Kind) string {
	return fmt.Sprintf("sess:%s:cred:%s", sessionID, kind)
}

func oauthStateKey(sessionID string) string {
	return fmt.Sprintf("sess:%s:github_state", sessionID)
}

func snapshotKey(ref string) string {
	return fmt.Sprintf("snap:%s:secrets", ref)
}
