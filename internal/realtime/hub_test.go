package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/modelforge/internal/auth"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/service"
	"github.com/modelforge/internal/storage"
	"github.com/modelforge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistrar struct {
	mu    sync.Mutex
	calls []int64
}

func (f *fakeRegistrar) Register(_ context.Context, userID int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	return &models.User{ID: userID, ComputeProvider: true}, nil
}

func (f *fakeRegistrar) Calls() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.calls...)
}

type testEnv struct {
	store    *storage.MemoryStore
	sessions *auth.SessionManager
	hub      *Hub
	compute  *fakeRegistrar
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	store := storage.NewMemoryStore()
	sessions := auth.NewSessionManager("test-secret", time.Hour, "modelforge", auth.NewMemoryRevoker())
	hub := NewHub(store, logger)
	compute := &fakeRegistrar{}

	cfg := ClientConfig{Buffer: 16, PingPeriod: time.Minute, WriteTimeout: time.Second, MaxMessageSize: 4096}
	srv := httptest.NewServer(NewHandler(hub, sessions, compute, "modelforge_session", nil, cfg, logger))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &testEnv{store: store, sessions: sessions, hub: hub, compute: compute, server: srv}
}

// dial connects and consumes the on-connect stats snapshot
func (e *testEnv) dial(t *testing.T, token string) (*websocket.Conn, Message) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	first := readMessage(t, conn)
	require.Equal(t, TypeStatsUpdate, first.Type)
	return conn, first
}

func (e *testEnv) issue(t *testing.T, userID int64) string {
	t.Helper()
	token, _, err := e.sessions.Issue(userID)
	require.NoError(t, err)
	return token
}

func (e *testEnv) boundUsers() []int64 {
	e.hub.mu.RLock()
	defer e.hub.mu.RUnlock()
	var ids []int64
	for c := range e.hub.clients {
		ids = append(ids, c.UserID())
	}
	return ids
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "expected no frame")
}

func statsOf(t *testing.T, msg Message) StatsData {
	t.Helper()
	b, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var st StatsData
	require.NoError(t, json.Unmarshal(b, &st))
	return st
}

func TestHub_SnapshotOnConnect(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := storage.SeedInitialModel(ctx, env.store)
	require.NoError(t, err)
	u, err := env.store.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)
	_, err = env.store.CreateContribution(ctx, models.NewContribution{
		UserID: u.ID, ModelID: 1, Type: types.ContributionCode, Description: "d",
	})
	require.NoError(t, err)
	_, err = env.store.SetComputeProvider(ctx, u.ID, true)
	require.NoError(t, err)

	_, first := env.dial(t, "")
	st := statsOf(t, first)
	assert.Equal(t, 1, st.ActiveModels)
	assert.Equal(t, 1, st.PendingContributions)
	assert.Equal(t, 0, st.AcceptedContributions)
	assert.Equal(t, 1, st.ComputeContributors)
	assert.Equal(t, 1, env.hub.ClientCount())
}

func TestHub_LateClientSeesAcceptedContribution(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)

	_, err := storage.SeedInitialModel(ctx, env.store)
	require.NoError(t, err)
	owner, err := env.store.CreateUser(ctx, "alice", "hash")
	require.NoError(t, err)

	contributions := service.NewContributionService(env.store, service.NewActivityLog(env.store, env.hub, logger), env.hub, logger)
	c, err := contributions.Submit(ctx, owner.ID, service.SubmitContributionInput{
		ModelID:     1,
		Type:        types.ContributionCode,
		Description: "Swap ReLU for GELU in the dense block",
	})
	require.NoError(t, err)

	early, _ := env.dial(t, "")

	_, err = contributions.Apply(ctx, c.ID)
	require.NoError(t, err)

	// the connected client is told about the acceptance through a stats frame
	sawAccepted := false
	for i := 0; i < 6 && !sawAccepted; i++ {
		msg := readMessage(t, early)
		if msg.Type == TypeStatsUpdate {
			sawAccepted = statsOf(t, msg).AcceptedContributions == 1
		}
	}
	assert.True(t, sawAccepted, "connected client never saw the accepted count")

	_, first := env.dial(t, "")
	st := statsOf(t, first)
	assert.Equal(t, 1, st.ActiveModels)
	assert.Equal(t, 0, st.PendingContributions)
	assert.Equal(t, 1, st.AcceptedContributions)
}

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.dial(t, "")
	b, _ := env.dial(t, env.issue(t, 4))

	env.hub.BroadcastModelUpdate(storage.InitialModel())

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, TypeModelUpdate, msg.Type)
	}
}

func TestHub_TokensOnlyReachOwnerTabs(t *testing.T) {
	env := newTestEnv(t)
	token := env.issue(t, 7)

	tab1, _ := env.dial(t, token)
	tab2, _ := env.dial(t, token)
	other, _ := env.dial(t, env.issue(t, 8))
	anon, _ := env.dial(t, "")

	env.hub.NotifyUserTokens(7, 42)

	for _, conn := range []*websocket.Conn{tab1, tab2} {
		msg := readMessage(t, conn)
		assert.Equal(t, TypeUserTokensUpdate, msg.Type)
		assert.Equal(t, int64(7), msg.UserID)
		require.NotNil(t, msg.Tokens)
		assert.Equal(t, 42, *msg.Tokens)
	}
	assertSilent(t, other)
	assertSilent(t, anon)
}

func TestHub_UnverifiedIdentityClaimIgnored(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.dial(t, "")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "AUTHENTICATE", "userId": 5}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "REGISTER_COMPUTE", "userId": 5}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	env.hub.NotifyUserTokens(5, 10)
	assertSilent(t, conn)
	assert.Empty(t, env.compute.Calls())
	assert.Equal(t, []int64{0}, env.boundUsers())
}

func TestHub_AuthenticateThenRegisterCompute(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.dial(t, "")
	token := env.issue(t, 9)

	// a mismatched claim alongside a valid token is refused
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "AUTHENTICATE", "token": token, "userId": 3}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "AUTHENTICATE", "token": token}))
	assert.Eventually(t, func() bool {
		ids := env.boundUsers()
		return len(ids) == 1 && ids[0] == 9
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "REGISTER_COMPUTE", "userId": 9}))
	assert.Eventually(t, func() bool {
		calls := env.compute.Calls()
		return len(calls) == 1 && calls[0] == 9
	}, 2*time.Second, 10*time.Millisecond)

	env.hub.NotifyUserTokens(9, 1)
	msg := readMessage(t, conn)
	assert.Equal(t, TypeUserTokensUpdate, msg.Type)
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	env := newTestEnv(t)
	conn, _ := env.dial(t, "")
	require.Equal(t, 1, env.hub.ClientCount())

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DropsWhenClientBufferFull(t *testing.T) {
	hub := NewHub(storage.NewMemoryStore(), logging.NewLogger(logging.LevelError, logging.FormatJSON))
	c := &Client{ID: "slow", hub: hub, send: make(chan frame, 1), logger: hub.logger}

	// the snapshot fills the only slot
	hub.Register(context.Background(), c)
	require.Len(t, c.send, 1)

	hub.BroadcastActivity(&models.Activity{ID: 1, ModelID: 1, Action: types.ActionSubmittedContribution})
	hub.BroadcastStats(context.Background())
	assert.Len(t, c.send, 1)

	f := <-c.send
	assert.Equal(t, TypeStatsUpdate, f.kind)

	hub.BroadcastActivity(&models.Activity{ID: 2, ModelID: 1, Action: types.ActionSubmittedContribution})
	f = <-c.send
	assert.Equal(t, TypeActivityUpdate, f.kind)

	hub.Unregister(c)
	hub.Unregister(c)
	assert.Equal(t, 0, hub.ClientCount())
	_, open := <-c.send
	assert.False(t, open)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})

	r := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://APP.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))

	assert.True(t, originChecker([]string{"*"})(r))
}
