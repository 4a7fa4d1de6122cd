package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrNoToken is returned when a request carries no session token
	ErrNoToken = errors.New("no session token")
	// ErrInvalidToken is returned for malformed, expired or badly signed tokens
	ErrInvalidToken = errors.New("invalid session token")
	// ErrRevokedToken is returned for tokens revoked by logout
	ErrRevokedToken = errors.New("session token revoked")
)

const leeway = 30 * time.Second

// Session is a verified session token
type Session struct {
	UserID    int64
	ID        string
	ExpiresAt time.Time
}

// SessionManager issues HS256 session tokens and verifies them against a revocation list
type SessionManager struct {
	secret  []byte
	ttl     time.Duration
	issuer  string
	revoker Revoker
	now     func() time.Time
}

// NewSessionManager creates a session manager. A nil revoker disables logout revocation.
func NewSessionManager(secret string, ttl time.Duration, issuer string, revoker Revoker) *SessionManager {
	return &SessionManager{
		secret:  []byte(secret),
		ttl:     ttl,
		issuer:  issuer,
		revoker: revoker,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// TTL returns the lifetime of issued tokens
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a new session token for userID
func (m *SessionManager) Issue(userID int64) (string, *Session, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		ID:        uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, &Session{UserID: userID, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify parses token and checks its signature, expiry and revocation
func (m *SessionManager) Verify(ctx context.Context, token string) (*Session, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}

	if m.revoker != nil {
		revoked, err := m.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check revocation: %w", err)
		}
		if revoked {
			return nil, ErrRevokedToken
		}
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, ErrInvalidToken
	}
	return &Session{UserID: userID, ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Revoke invalidates token until it would have expired. Invalid tokens are ignored.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if m.revoker == nil {
		return nil
	}
	claims, err := m.parse(token)
	if err != nil {
		return nil
	}
	return m.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time.Sub(m.now()))
}

func (m *SessionManager) parse(token string) (*jwt.RegisteredClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNoToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenFromRequest extracts a session token from, in order, the session cookie,
// an Authorization bearer header, or the token query parameter
func TokenFromRequest(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, value, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	return r.URL.Query().Get("token")
}

type userIDKey struct{}

// WithUserID stores the authenticated user id on the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the authenticated user id, if any
func UserIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok && id > 0
}
