package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/metrics"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/storage"
	"github.com/modelforge/internal/types"
)

// Reward and improvement bounds for one compute step
const (
	computeMaxImprovement = 0.3
	computeMinReward      = 1
	computeMaxReward      = 3
)

// busyMessage is returned while another compute step is in flight
const busyMessage = "Model is already training"

// ComputeResult is returned by a compute step. A busy engine yields
// Success false with a message and no other fields.
type ComputeResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Improvement string `json:"improvement,omitempty"`
	NewAccuracy string `json:"newAccuracy,omitempty"`
	Reward      int    `json:"reward,omitempty"`
}

// ComputeService manages compute providers and simulated training steps.
// At most one step runs at a time across the process.
type ComputeService struct {
	store          storage.Store
	activities     *ActivityLog
	notifier       Notifier
	rand           Rand
	delay          time.Duration
	defaultModelID int64
	logger         *logging.Logger

	training atomic.Bool
	// sleep simulates the training latency
	sleep func(time.Duration)
}

// NewComputeService creates the compute service. stepDelay is the simulated
// duration of one training step.
func NewComputeService(store storage.Store, activities *ActivityLog, notifier Notifier, stepDelay time.Duration, defaultModelID int64, logger *logging.Logger) *ComputeService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if defaultModelID <= 0 {
		defaultModelID = 1
	}
	return &ComputeService{
		store:          store,
		activities:     activities,
		notifier:       notifier,
		rand:           DefaultRand(),
		delay:          stepDelay,
		defaultModelID: defaultModelID,
		logger:         logger.WithComponent("compute-service"),
		sleep:          time.Sleep,
	}
}

// DefaultModelID is the model targeted when a request names none
func (s *ComputeService) DefaultModelID() int64 {
	return s.defaultModelID
}

// Register flags userID as a compute provider and broadcasts new stats.
// Registering twice is a no-op.
func (s *ComputeService) Register(ctx context.Context, userID int64) (*models.User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFound(err, "User", userID)
	}
	if u.ComputeProvider {
		return u, nil
	}

	u, err = s.store.SetComputeProvider(ctx, userID, true)
	if err != nil {
		return nil, notFound(err, "User", userID)
	}

	uid := userID
	if _, err := s.activities.Record(ctx, models.NewActivity{
		UserID:      &uid,
		ModelID:     s.defaultModelID,
		Action:      types.ActionRegisteredCompute,
		Description: fmt.Sprintf("%s registered as a compute provider", u.Username),
	}); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("provider registered without activity")
	}
	s.notifier.BroadcastStats(ctx)

	s.logger.WithField("user_id", userID).Info("compute provider registered")
	return u, nil
}

// TrainStep runs one simulated training step for userID against modelID.
// While another step is in flight it returns Success false without touching
// any state. The step is not cancelled when ctx is.
func (s *ComputeService) TrainStep(ctx context.Context, userID, modelID int64) (*ComputeResult, error) {
	ctx = context.WithoutCancel(ctx)
	if modelID <= 0 {
		modelID = s.defaultModelID
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFound(err, "User", userID)
	}
	if !u.ComputeProvider {
		return nil, apperrors.NewForbiddenError("Not registered as compute provider")
	}

	if !s.training.CompareAndSwap(false, true) {
		metrics.ComputeSteps.WithLabelValues("busy").Inc()
		return &ComputeResult{Success: false, Message: busyMessage}, nil
	}
	defer s.training.Store(false)

	res, err := s.step(ctx, u, modelID)
	if err != nil {
		metrics.ComputeSteps.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.ComputeSteps.WithLabelValues("completed").Inc()
	return res, nil
}

// Training reports whether a step is in flight
func (s *ComputeService) Training() bool {
	return s.training.Load()
}

func (s *ComputeService) step(ctx context.Context, u *models.User, modelID int64) (*ComputeResult, error) {
	if _, err := s.store.GetModel(ctx, modelID); err != nil {
		return nil, notFound(err, "Model", modelID)
	}

	s.sleep(s.delay)

	improvement := sampleImprovement(s.rand, computeMaxImprovement)
	reward := sampleReward(s.rand, computeMinReward, computeMaxReward)

	// derived from the accuracy at write time so a concurrent apply is kept
	var newAccuracy string
	updated, err := s.store.ImproveModel(ctx, modelID, accuracyBump(improvement, nil, &newAccuracy))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFound(err, "Model", modelID)
		}
		return nil, apperrors.NewInternalError("Failed to update model", err)
	}

	credited, err := s.store.CreditUserTokens(ctx, u.ID, reward)
	if err != nil {
		return nil, apperrors.NewInternalError("Model updated but reward credit failed", err)
	}
	metrics.TokensMinted.WithLabelValues("compute").Add(float64(reward))

	improvementText := formatPercent(improvement, 2)
	s.notifier.BroadcastModelUpdate(updated)
	uid := u.ID
	if _, err := s.activities.Record(ctx, models.NewActivity{
		UserID:      &uid,
		ModelID:     modelID,
		Action:      types.ActionComputeContribution,
		Description: fmt.Sprintf("Compute resources contributed resulting in %s improvement", improvementText),
		Metadata: map[string]interface{}{
			"improvement": improvementText,
			"newAccuracy": newAccuracy,
			"reward":      reward,
		},
	}); err != nil {
		s.logger.WithError(err).WithField("user_id", u.ID).Error("compute step completed without activity")
	}
	s.notifier.NotifyUserTokens(credited.ID, credited.Tokens)

	s.logger.WithFields(logging.Fields{
		"user_id":      u.ID,
		"model_id":     modelID,
		"reward":       reward,
		"new_accuracy": newAccuracy,
	}).Info("compute step completed")

	return &ComputeResult{
		Success:     true,
		Improvement: improvementText,
		NewAccuracy: newAccuracy,
		Reward:      reward,
	}, nil
}
