package secrets_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statichq/sitesmith/internal/secrets"
)

func newTestStore(t *testing.T) (*secrets.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return secrets.NewStore(rdb, time.Hour, 10*time.Minute), mr
}

func TestEnsureSessionIssuesNewID(t *testing.T) {
	s, _ := newTestStore(t)

	id, isNew, err := s.EnsureSession(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEmpty(t, id)

	same, isNew, err := s.EnsureSession(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, id, same)
}

func TestEnsureSessionRevivesExpiredMarker(t *testing.T) {
	s, mr := newTestStore(t)

	id, _, err := s.EnsureSession(context.Background(), "")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	_, isNew, err := s.EnsureSession(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, isNew, "expired marker should be treated as a new session")
}

func TestCredentialRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.EnsureSession(ctx, "")
	require.NoError(t, err)

	bundle := secrets.Bundle{"provider": "openai", "apiKey": "sk-test", "model": "gpt-test"}
	require.NoError(t, s.StoreCredential(ctx, id, secrets.KindLLM, bundle))

	got, err := s.GetCredential(ctx, id, secrets.KindLLM)
	require.NoError(t, err)
	assert.Equal(t, bundle, got)

	missing, err := s.GetCredential(ctx, id, secrets.KindPublish)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSnapshotRequiresEveryKind(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.EnsureSession(ctx, "")
	require.NoError(t, err)

	require.NoError(t, s.StoreCredential(ctx, id, secrets.KindLLM, secrets.Bundle{"apiKey": "k"}))

	err = s.Snapshot(ctx, "job-1", id, secrets.KindLLM, secrets.KindPublish)
	var missing *secrets.MissingCredentialError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, secrets.KindPublish, missing.Kind)

	// the failed snapshot must not leave a partial value behind
	_, err = s.ReadSnapshot(ctx, "job-1")
	var notFound *secrets.SnapshotNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestSnapshotOutlivesSession(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.EnsureSession(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.StoreCredential(ctx, id, secrets.KindLLM, secrets.Bundle{"apiKey": "k"}))
	require.NoError(t, s.Snapshot(ctx, "job-2", id, secrets.KindLLM))

	require.NoError(t, s.DeleteSession(ctx, id))

	snap, err := s.ReadSnapshot(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, "k", snap[secrets.KindLLM]["apiKey"])

	mr.FastForward(11 * time.Minute)
	_, err = s.ReadSnapshot(ctx, "job-2")
	var notFound *secrets.SnapshotNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestClearSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.EnsureSession(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.StoreCredential(ctx, id, secrets.KindLLM, secrets.Bundle{"apiKey": "k"}))
	require.NoError(t, s.Snapshot(ctx, "job-3", id, secrets.KindLLM))

	require.NoError(t, s.ClearSnapshot(ctx, "job-3"))
	// clearing twice is not an error
	require.NoError(t, s.ClearSnapshot(ctx, "job-3"))

	_, err = s.ReadSnapshot(ctx, "job-3")
	var notFound *secrets.SnapshotNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestOAuthStateIsOneShot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.StoreOAuthState(ctx, "sess-1", "state-1"))

	got, err := s.ConsumeOAuthState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "state-1", got)

	// consumed states read as absent
	got, err = s.ConsumeOAuthState(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResetSessionDropsOAuthState(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.EnsureSession(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.StoreOAuthState(ctx, id, "state-1"))

	_, err = s.ResetSession(ctx, id)
	require.NoError(t, err)

	got, err := s.ConsumeOAuthState(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResetSessionDropsCredentials(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, _, err := s.EnsureSession(ctx, "")
	require.NoError(t, err)
	require.NoError(t, s.StoreCredential(ctx, id, secrets.KindPublish, secrets.Bundle{"accessToken": "t"}))

	fresh, err := s.ResetSession(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, id, fresh)

	old, err := s.GetCredential(ctx, id, secrets.KindPublish)
	require.NoError(t, err)
	assert.Nil(t, old)
}
