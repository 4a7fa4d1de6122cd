package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/modelforge/internal/config"
	"github.com/modelforge/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManager_IssueVerify(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, "modelforge", NewMemoryRevoker())
	ctx := context.Background()

	token, sess, err := m.Issue(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sess.UserID)
	assert.NotEmpty(t, sess.ID)

	got, err := m.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.UserID)
	assert.Equal(t, sess.ID, got.ID)
}

func TestSessionManager_RejectsForeignAndExpired(t *testing.T) {
	ctx := context.Background()
	issuer := NewSessionManager("secret", time.Hour, "modelforge", nil)
	token, _, err := issuer.Issue(3)
	require.NoError(t, err)

	other := NewSessionManager("another-secret", time.Hour, "modelforge", nil)
	_, err = other.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := NewSessionManager("secret", time.Hour, "someone-else", nil)
	_, err = wrongIssuer.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	later := NewSessionManager("secret", time.Hour, "modelforge", nil)
	later.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	_, err = later.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Verify(ctx, "   ")
	assert.ErrorIs(t, err, ErrNoToken)
	_, err = issuer.Verify(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionManager_RevokeWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := storage.NewRedisCache(context.Background(), &config.RedisConfig{
		Host: mr.Host(), Port: mr.Port(), MaxConnections: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	m := NewSessionManager("secret", time.Hour, "modelforge", NewRedisRevoker(cache))
	ctx := context.Background()

	token, sess, err := m.Issue(11)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, token))
	assert.True(t, mr.Exists("session:revoked:"+sess.ID))

	_, err = m.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrRevokedToken)

	ttl := mr.TTL("session:revoked:" + sess.ID)
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	assert.NoError(t, m.Revoke(ctx, "garbage"), "invalid tokens are ignored on logout")
}

func TestMemoryRevoker_Expires(t *testing.T) {
	r := NewMemoryRevoker()
	ctx := context.Background()
	now := time.Now()
	r.now = func() time.Time { return now }

	require.NoError(t, r.Revoke(ctx, "a", time.Minute))
	require.NoError(t, r.Revoke(ctx, "b", 0))

	ok, err := r.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.IsRevoked(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "non-positive ttl is a no-op")

	r.now = func() time.Time { return now.Add(2 * time.Minute) }
	ok, err = r.IsRevoked(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, r.tokens)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	assert.Equal(t, "query-token", TokenFromRequest(req, "sid"))

	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(req, "sid"))

	req.Header.Set("Cookie", "sid=cookie-token")
	assert.Equal(t, "cookie-token", TokenFromRequest(req, "sid"))

	bare := httptest.NewRequest("GET", "/", nil)
	bare.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", TokenFromRequest(bare, "sid"))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter22", hash)

	assert.NoError(t, CheckPassword(hash, "hunter22"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong"), ErrInvalidCredentials)
}

func TestUserIDContext(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)

	id, ok := UserIDFromContext(WithUserID(context.Background(), 5))
	assert.True(t, ok)
	assert.Equal(t, int64(5), id)
}
