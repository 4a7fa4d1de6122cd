package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/storage"
	"github.com/stretchr/testify/require"
)

// recordingNotifier captures every notification in call order
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	tokens map[int64]int
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{tokens: make(map[int64]int)}
}

func (n *recordingNotifier) add(e string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) BroadcastModelUpdate(*models.Model)   { n.add("MODEL_UPDATE") }
func (n *recordingNotifier) BroadcastActivity(*models.Activity) { n.add("ACTIVITY_UPDATE") }
func (n *recordingNotifier) BroadcastContribution(context.Context, *models.Contribution) {
	n.add("CONTRIBUTION_UPDATE")
}
func (n *recordingNotifier) BroadcastStats(context.Context) { n.add("STATS_UPDATE") }
func (n *recordingNotifier) NotifyUserTokens(userID int64, tokens int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, "USER_TOKENS_UPDATE")
	n.tokens[userID] = tokens
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func (n *recordingNotifier) Tokens(userID int64) (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.tokens[userID]
	return v, ok
}

// fixedRand returns f from Float64 and min(n, max-1) from IntN
type fixedRand struct {
	f float64
	n int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(max int) int {
	if r.n >= max {
		return max - 1
	}
	return r.n
}

type fixture struct {
	store      *storage.MemoryStore
	notifier   *recordingNotifier
	activities *ActivityLog
	model      *models.Model
	logger     *logging.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	m, err := storage.SeedInitialModel(ctx, store)
	require.NoError(t, err)

	logger := logging.NewLogger(logging.LevelError, logging.FormatText)
	n := newRecordingNotifier()
	return &fixture{
		store:      store,
		notifier:   n,
		activities: NewActivityLog(store, n, logger),
		model:      m,
		logger:     logger,
	}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), name, "hash")
	require.NoError(t, err)
	return u
}

func (f *fixture) provider(t *testing.T, name string) *models.User {
	t.Helper()
	u := f.user(t, name)
	u, err := f.store.SetComputeProvider(context.Background(), u.ID, true)
	require.NoError(t, err)
	return u
}

// requireStatus asserts err is a categorized error with the given HTTP status
func requireStatus(t *testing.T, err error, status int) *apperrors.CategorizedError {
	t.Helper()
	require.Error(t, err)
	var ce *apperrors.CategorizedError
	require.True(t, errors.As(err, &ce), "expected categorized error, got %T: %v", err, err)
	require.Equal(t, status, ce.StatusCode, ce.Message)
	return ce
}

func strPtr(s string) *string { return &s }
