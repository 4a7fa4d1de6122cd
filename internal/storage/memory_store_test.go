package storage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testContext returns a context bounded to the test's lifetime
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func strPtr(s string) *string { return &s }

func newTestUser(t *testing.T, s *MemoryStore, name string) *models.User {
	t.Helper()
	u, err := s.CreateUser(testContext(t), name, "hash")
	require.NoError(t, err)
	return u
}

func TestMemoryStore_UserLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	alice := newTestUser(t, s, "alice")
	bob := newTestUser(t, s, "bob")
	assert.Equal(t, int64(1), alice.ID)
	assert.Equal(t, int64(2), bob.ID)
	assert.Zero(t, alice.Tokens)
	assert.False(t, alice.ComputeProvider)

	_, err := s.CreateUser(ctx, "alice", "other")
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := s.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob.ID, got.ID)

	_, err = s.GetUser(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	credited, err := s.CreditUserTokens(ctx, alice.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, credited.Tokens)

	_, err = s.CreditUserTokens(ctx, 99, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	u := newTestUser(t, s, "alice")
	u.Tokens = 1000

	fresh, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, fresh.Tokens)
}

func TestMemoryStore_ComputeProviderCounter(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	a := newTestUser(t, s, "a")
	b := newTestUser(t, s, "b")

	_, err := s.SetComputeProvider(ctx, a.ID, true)
	require.NoError(t, err)
	_, err = s.SetComputeProvider(ctx, a.ID, true)
	require.NoError(t, err)
	_, err = s.SetComputeProvider(ctx, b.ID, true)
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ComputeContributors, "re-registering must not double count")

	_, err = s.SetComputeProvider(ctx, b.ID, false)
	require.NoError(t, err)
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ComputeContributors)

	_, err = s.SetComputeProvider(ctx, 42, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_UpdateModelMergesAndRefreshes(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	m, err := s.CreateModel(ctx, InitialModel())
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID)
	assert.Equal(t, base, m.LastUpdated)

	s.now = func() time.Time { return base.Add(time.Minute) }
	updated, err := s.UpdateModel(ctx, m.ID, models.ModelUpdate{
		CurrentAccuracy:  strPtr("97.5%"),
		PreviousAccuracy: strPtr("96.8%"),
	})
	require.NoError(t, err)
	assert.Equal(t, "97.5%", updated.CurrentAccuracy)
	assert.Equal(t, "96.8%", *updated.PreviousAccuracy)
	assert.Equal(t, m.Code, updated.Code, "unset fields are untouched")
	assert.Equal(t, base.Add(time.Minute), updated.LastUpdated)

	_, err = s.UpdateModel(ctx, 5, models.ModelUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ImproveModelIsAtomic(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	m, err := s.CreateModel(ctx, InitialModel())
	require.NoError(t, err)
	_, err = s.UpdateModel(ctx, m.ID, models.ModelUpdate{Parameters: strPtr("0")})
	require.NoError(t, err)

	// every writer derives from what it reads; a lost update shows as a short count
	increment := func(current models.Model) (models.ModelUpdate, error) {
		n, err := strconv.Atoi(current.Parameters)
		if err != nil {
			return models.ModelUpdate{}, err
		}
		next := strconv.Itoa(n + 1)
		return models.ModelUpdate{Parameters: &next}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ImproveModel(ctx, m.ID, increment)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "50", got.Parameters)
}

func TestMemoryStore_ImproveModelAbortsOnDeriveError(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	m, err := s.CreateModel(ctx, InitialModel())
	require.NoError(t, err)

	boom := errors.New("unreadable")
	_, err = s.ImproveModel(ctx, m.ID, func(models.Model) (models.ModelUpdate, error) {
		return models.ModelUpdate{CurrentAccuracy: strPtr("10.0%")}, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetModel(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.CurrentAccuracy, got.CurrentAccuracy)
	assert.Equal(t, m.LastUpdated, got.LastUpdated)

	_, err = s.ImproveModel(ctx, 9, func(models.Model) (models.ModelUpdate, error) {
		t.Fatal("derive called for a missing model")
		return models.ModelUpdate{}, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ContributionStatusCreditsOwner(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	owner := newTestUser(t, s, "owner")
	c, err := s.CreateContribution(ctx, models.NewContribution{
		UserID:      owner.ID,
		ModelID:     1,
		Type:        types.ContributionCode,
		Description: "Improves conv layer init",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, c.Status)
	assert.Nil(t, c.Reward)

	updated, credited, err := s.UpdateContributionStatus(ctx, c.ID, types.StatusAccepted, 12)
	require.NoError(t, err)
	assert.Equal(t, types.StatusAccepted, updated.Status)
	require.NotNil(t, updated.Reward)
	assert.Equal(t, 12, *updated.Reward)
	require.NotNil(t, credited)
	assert.Equal(t, 12, credited.Tokens)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.PendingContributions)
	assert.Equal(t, 1, st.AcceptedContributions)
}

func TestMemoryStore_TerminalStatusRefused(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	owner := newTestUser(t, s, "owner")
	c, err := s.CreateContribution(ctx, models.NewContribution{UserID: owner.ID, ModelID: 1, Type: types.ContributionData, Description: "more digits"})
	require.NoError(t, err)

	_, credited, err := s.UpdateContributionStatus(ctx, c.ID, types.StatusRejected, 0)
	require.NoError(t, err)
	assert.Nil(t, credited, "rejection credits nobody")

	_, _, err = s.UpdateContributionStatus(ctx, c.ID, types.StatusAccepted, 10)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	after, err := s.GetContribution(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, after.Status)
	assert.Equal(t, 0, *after.Reward)

	u, err := s.GetUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.Zero(t, u.Tokens)

	_, _, err = s.UpdateContributionStatus(ctx, 404, types.StatusAccepted, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_InvalidTransition(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	owner := newTestUser(t, s, "owner")
	c, err := s.CreateContribution(ctx, models.NewContribution{UserID: owner.ID, ModelID: 1, Type: types.ContributionCode, Description: "tweak"})
	require.NoError(t, err)

	_, _, err = s.UpdateContributionStatus(ctx, c.ID, types.StatusPending, 3)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, _, err = s.UpdateContributionStatus(ctx, c.ID, types.StatusAccepted, -1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMemoryStore_ContributionFilters(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	u1 := newTestUser(t, s, "u1")
	u2 := newTestUser(t, s, "u2")

	for i, nc := range []models.NewContribution{
		{UserID: u1.ID, ModelID: 1, Type: types.ContributionCode, Description: "first"},
		{UserID: u2.ID, ModelID: 1, Type: types.ContributionData, Description: "second"},
		{UserID: u1.ID, ModelID: 2, Type: types.ContributionHyperparameters, Description: "third"},
	} {
		c, err := s.CreateContribution(ctx, nc)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), c.ID)
	}
	_, _, err := s.UpdateContributionStatus(ctx, 2, types.StatusAccepted, 5)
	require.NoError(t, err)

	byUser, err := s.ListContributionsByUser(ctx, u1.ID)
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, "first", byUser[0].Description)
	assert.Equal(t, "third", byUser[1].Description)

	byModel, err := s.ListContributionsByModel(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, byModel, 2)

	pending, err := s.ListContributionsByStatus(ctx, types.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, int64(1), pending[0].ID)
	assert.Equal(t, int64(3), pending[1].ID)

	none, err := s.ListContributionsByModel(ctx, 77)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestMemoryStore_ActivitiesNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{base.Add(2 * time.Second), base, base.Add(2 * time.Second), base.Add(time.Second)}
	for i, ts := range stamps {
		s.now = func() time.Time { return ts }
		modelID := int64(1)
		if i == 3 {
			modelID = 2
		}
		_, err := s.CreateActivity(ctx, models.NewActivity{ModelID: modelID, Action: types.ActionSubmittedContribution, Description: "x"})
		require.NoError(t, err)
	}

	got, err := s.ListActivities(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{3, 1, 2}, []int64{got[0].ID, got[1].ID, got[2].ID})
	for _, a := range got {
		assert.Equal(t, int64(1), a.ModelID)
	}

	limited, err := s.ListActivities(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMemoryStore_ActivityMetadataIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	meta := map[string]interface{}{"reward": 9}
	created, err := s.CreateActivity(ctx, models.NewActivity{ModelID: 1, Action: types.ActionContributionAccepted, Metadata: meta})
	require.NoError(t, err)

	meta["reward"] = 100
	created.Metadata["reward"] = 200

	got, err := s.ListActivities(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 9, got[0].Metadata["reward"])
}

func TestMemoryStore_IPFSRecordsAndDatasets(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	uid := int64(3)
	rec, err := s.CreateIPFSRecord(ctx, &models.IPFSRecord{CID: "bafy1", ContentType: types.ContentData, UserID: &uid})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	_, err = s.CreateIPFSRecord(ctx, &models.IPFSRecord{CID: "bafy1", ContentType: types.ContentData})
	assert.ErrorIs(t, err, ErrDuplicate)

	pinned, err := s.SetIPFSRecordPinned(ctx, "bafy1", true)
	require.NoError(t, err)
	assert.True(t, pinned.Pinned)

	_, err = s.SetIPFSRecordPinned(ctx, "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err := s.ListIPFSRecordsByUser(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	ds, err := s.CreateDataset(ctx, &models.Dataset{Name: "digits", DataCID: "bafy1", Format: "csv", UserID: uid})
	require.NoError(t, err)
	got, err := s.GetDataset(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, "digits", got.Name)

	list, err := s.ListDatasetsByUser(ctx, uid)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetDataset(ctx, 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentSettlementCreditsOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	owner := newTestUser(t, s, "owner")
	c, err := s.CreateContribution(ctx, models.NewContribution{UserID: owner.ID, ModelID: 1, Type: types.ContributionCode, Description: "race me"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := s.UpdateContributionStatus(ctx, c.ID, types.StatusAccepted, 10); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	u, err := s.GetUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, u.Tokens)
}

func TestSeedInitialModel(t *testing.T) {
	s := NewMemoryStore()
	ctx := testContext(t)

	m, err := SeedInitialModel(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID)
	assert.Equal(t, "MNIST Classifier", m.Name)
	assert.Equal(t, "96.8%", m.CurrentAccuracy)
	assert.Contains(t, m.Code, "class MNISTClassifier")

	again, err := SeedInitialModel(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)

	all, err := s.ListModels(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
