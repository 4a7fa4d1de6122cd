package service

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/modelforge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newComputeService(f *fixture, r Rand) *ComputeService {
	s := NewComputeService(f.store, f.activities, f.notifier, 0, f.model.ID, f.logger)
	s.rand = r
	s.sleep = func(time.Duration) {}
	return s
}

func TestComputeRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := newComputeService(f, fixedRand{})
	bob := f.user(t, "bob")

	u, err := s.Register(ctx, bob.ID)
	require.NoError(t, err)
	assert.True(t, u.ComputeProvider)
	assert.Equal(t, []string{"ACTIVITY_UPDATE", "STATS_UPDATE"}, f.notifier.Events())

	acts, err := f.activities.List(ctx, f.model.ID, 0)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, types.ActionRegisteredCompute, acts[0].Action)
	assert.Equal(t, "bob registered as a compute provider", acts[0].Description)

	// a second registration changes nothing
	_, err = s.Register(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, f.notifier.Events(), 2)

	_, err = s.Register(ctx, 999)
	requireStatus(t, err, http.StatusNotFound)
}

func TestTrainStep_RequiresProvider(t *testing.T) {
	f := newFixture(t)
	s := newComputeService(f, fixedRand{})
	carol := f.user(t, "carol")

	_, err := s.TrainStep(context.Background(), carol.ID, f.model.ID)
	ce := requireStatus(t, err, http.StatusForbidden)
	assert.Equal(t, "Not registered as compute provider", ce.Message)
	assert.False(t, s.Training())
}

func TestTrainStep_ImprovesModelAndRewardsProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// improvement 0.25*0.3 = 0.075, reward 1+1 = 2
	s := newComputeService(f, fixedRand{f: 0.25, n: 1})
	bob := f.provider(t, "bob")

	res, err := s.TrainStep(ctx, bob.ID, 0)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "96.9%", res.NewAccuracy)
	assert.Equal(t, 2, res.Reward)
	assert.Regexp(t, regexp.MustCompile(`^\d+\.\d{2}%$`), res.Improvement)

	m, err := f.store.GetModel(ctx, f.model.ID)
	require.NoError(t, err)
	assert.Equal(t, "96.9%", m.CurrentAccuracy)
	assert.Equal(t, "96.8%", *m.PreviousAccuracy)

	u, err := f.store.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, u.Tokens)
	tokens, ok := f.notifier.Tokens(bob.ID)
	require.True(t, ok)
	assert.Equal(t, 2, tokens)

	acts, err := f.activities.List(ctx, f.model.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, types.ActionComputeContribution, acts[0].Action)
	assert.Contains(t, acts[0].Description, "Compute resources contributed resulting in")
	assert.False(t, s.Training())
}

func TestTrainStep_BusyWhileAnotherStepRuns(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := newComputeService(f, fixedRand{f: 0.5, n: 0})
	bob := f.provider(t, "bob")
	dave := f.provider(t, "dave")

	release := make(chan struct{})
	s.sleep = func(time.Duration) { <-release }

	done := make(chan *ComputeResult, 1)
	go func() {
		res, err := s.TrainStep(ctx, bob.ID, f.model.ID)
		assert.NoError(t, err)
		done <- res
	}()
	require.Eventually(t, s.Training, time.Second, 5*time.Millisecond)

	busy, err := s.TrainStep(ctx, dave.ID, f.model.ID)
	require.NoError(t, err)
	assert.False(t, busy.Success)
	assert.Equal(t, "Model is already training", busy.Message)
	assert.Zero(t, busy.Reward)

	u, err := f.store.GetUser(ctx, dave.ID)
	require.NoError(t, err)
	assert.Zero(t, u.Tokens)

	close(release)
	select {
	case res := <-done:
		require.NotNil(t, res)
		assert.True(t, res.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("training step did not finish")
	}
	assert.False(t, s.Training())
}

func TestTrainStep_ReleasesFlagOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := newComputeService(f, fixedRand{f: 0.5})
	bob := f.provider(t, "bob")

	_, err := s.TrainStep(ctx, bob.ID, 42)
	requireStatus(t, err, http.StatusNotFound)
	assert.False(t, s.Training())

	res, err := s.TrainStep(ctx, bob.ID, f.model.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestTrainStep_ReleasesFlagOnPanic(t *testing.T) {
	f := newFixture(t)
	s := newComputeService(f, fixedRand{})
	bob := f.provider(t, "bob")
	s.sleep = func(time.Duration) { panic("interrupted") }

	assert.Panics(t, func() {
		_, _ = s.TrainStep(context.Background(), bob.ID, f.model.ID)
	})
	assert.False(t, s.Training())
}

func TestTrainStep_IgnoresCallerCancellation(t *testing.T) {
	f := newFixture(t)
	s := newComputeService(f, fixedRand{f: 0.5, n: 2})
	bob := f.provider(t, "bob")

	ctx, cancel := context.WithCancel(context.Background())
	s.sleep = func(time.Duration) { cancel() }

	res, err := s.TrainStep(ctx, bob.ID, f.model.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Reward)
}
