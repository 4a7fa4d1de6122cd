package service

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserService_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := NewUserService(f.store, f.logger)

	u, err := s.Register(ctx, CredentialsInput{Username: "  alice ", Password: "secret-pass"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Zero(t, u.Tokens)
	assert.False(t, u.ComputeProvider)
	assert.NotEqual(t, "secret-pass", u.PasswordHash)

	got, err := s.Login(ctx, CredentialsInput{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Login(ctx, CredentialsInput{Username: "alice", Password: "wrong-pass"})
	ce := requireStatus(t, err, http.StatusUnauthorized)
	assert.Equal(t, "Invalid username or password", ce.Message)

	_, err = s.Login(ctx, CredentialsInput{Username: "nobody", Password: "secret-pass"})
	ce = requireStatus(t, err, http.StatusUnauthorized)
	assert.Equal(t, "Invalid username or password", ce.Message)
}

func TestUserService_RegisterRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := NewUserService(f.store, f.logger)

	_, err := s.Register(ctx, CredentialsInput{Username: "alice", Password: "secret-pass"})
	require.NoError(t, err)

	_, err = s.Register(ctx, CredentialsInput{Username: "alice", Password: "another-pass"})
	ce := requireStatus(t, err, http.StatusBadRequest)
	assert.Equal(t, "Username already exists", ce.Message)

	_, err = s.Register(ctx, CredentialsInput{Username: "al", Password: "secret-pass"})
	ce = requireStatus(t, err, http.StatusBadRequest)
	assert.Contains(t, ce.Details, "username")

	_, err = s.Register(ctx, CredentialsInput{Username: "bobby", Password: "123"})
	ce = requireStatus(t, err, http.StatusBadRequest)
	assert.Contains(t, ce.Details, "password")
}

func TestUserService_Get(t *testing.T) {
	f := newFixture(t)
	s := NewUserService(f.store, f.logger)
	alice := f.user(t, "alice")

	u, err := s.Get(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	_, err = s.Get(context.Background(), 77)
	requireStatus(t, err, http.StatusNotFound)
}

func TestModelService_Summary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	contributions := newContributionService(f, fixedRand{f: 0.1})
	models := NewModelService(f.store)
	alice := f.user(t, "alice")
	bob := f.provider(t, "bob")

	first := submitCode(t, contributions, alice.ID, f.model.ID, "a")
	second := submitCode(t, contributions, alice.ID, f.model.ID, "b")
	submitCode(t, contributions, bob.ID, f.model.ID, "c")
	_, err := contributions.Apply(ctx, first.ID)
	require.NoError(t, err)
	_, err = contributions.Reject(ctx, second.ID)
	require.NoError(t, err)

	summary, err := models.Summary(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ActiveModels)
	assert.Equal(t, 2, summary.UserContributions)
	assert.Equal(t, 1, summary.ComputeContributors)
	// rejected contributions are not counted
	assert.Equal(t, 2, summary.TotalContributions)

	anon, err := models.Summary(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, anon.UserContributions)

	list, err := models.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = models.Get(ctx, 5)
	requireStatus(t, err, http.StatusNotFound)
}
