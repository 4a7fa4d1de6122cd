package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/metrics"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/storage"
	"github.com/modelforge/internal/types"
)

// Reward and improvement bounds for applied contributions
const (
	contributionMaxImprovement = 2.5
	contributionMinReward      = 5
	contributionMaxReward      = 20
)

// SubmitContributionInput is the body of a contribution submission
type SubmitContributionInput struct {
	ModelID     int64                  `json:"modelId" validate:"required,gt=0"`
	Type        types.ContributionType `json:"type" validate:"required,oneof=code compute data hyperparameters"`
	Description string                 `json:"description" validate:"required,min=10"`
	Code        *string                `json:"code,omitempty"`
	DataCID     *string                `json:"dataCid,omitempty"`
	CodeCID     *string                `json:"codeCid,omitempty"`
}

// ApplyResult is returned to the caller that applied a contribution
type ApplyResult struct {
	Success     bool   `json:"success"`
	Improvement string `json:"improvement"`
	NewAccuracy string `json:"newAccuracy"`
	Reward      int    `json:"reward"`
}

// ContributionService runs the contribution state machine:
// pending -> accepted or pending -> rejected, both terminal.
type ContributionService struct {
	store      storage.Store
	activities *ActivityLog
	notifier   Notifier
	rand       Rand
	logger     *logging.Logger

	// settle serializes apply and reject so the pending check and the
	// mutations that follow act as one step
	settle sync.Mutex
}

// NewContributionService creates the lifecycle engine
func NewContributionService(store storage.Store, activities *ActivityLog, notifier Notifier, logger *logging.Logger) *ContributionService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &ContributionService{
		store:      store,
		activities: activities,
		notifier:   notifier,
		rand:       DefaultRand(),
		logger:     logger.WithComponent("contribution-service"),
	}
}

// Submit creates a pending contribution for userID
func (s *ContributionService) Submit(ctx context.Context, userID int64, in SubmitContributionInput) (*models.Contribution, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if _, err := s.store.GetModel(ctx, in.ModelID); err != nil {
		return nil, notFound(err, "Model", in.ModelID)
	}

	c, err := s.store.CreateContribution(ctx, models.NewContribution{
		UserID:      userID,
		ModelID:     in.ModelID,
		Type:        in.Type,
		Description: in.Description,
		Code:        in.Code,
		DataCID:     in.DataCID,
		CodeCID:     in.CodeCID,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to create contribution", err)
	}
	metrics.ContributionOutcomes.WithLabelValues("submitted").Inc()

	s.notifier.BroadcastContribution(ctx, c)
	uid := userID
	if _, err := s.activities.Record(ctx, models.NewActivity{
		UserID:      &uid,
		ModelID:     c.ModelID,
		Action:      types.ActionSubmittedContribution,
		Description: fmt.Sprintf("Submitted a new %s contribution", c.Type),
		Metadata:    map[string]interface{}{"contributionId": c.ID},
	}); err != nil {
		s.logger.WithError(err).WithField("contribution_id", c.ID).Error("contribution created without activity")
	}

	s.logger.WithFields(logging.Fields{
		"contribution_id": c.ID,
		"user_id":         userID,
		"type":            c.Type,
	}).Info("contribution submitted")
	return c, nil
}

// Apply accepts a pending contribution: it improves the model, rewards the
// owner and records the acceptance. A contribution that is no longer pending
// is refused without any mutation.
func (s *ContributionService) Apply(ctx context.Context, contributionID int64) (*ApplyResult, error) {
	s.settle.Lock()
	defer s.settle.Unlock()

	c, err := s.pending(ctx, contributionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetModel(ctx, c.ModelID); err != nil {
		return nil, notFound(err, "Model", c.ModelID)
	}

	improvement := sampleImprovement(s.rand, contributionMaxImprovement)
	reward := sampleReward(s.rand, contributionMinReward, contributionMaxReward)

	// the status change carries the owner credit; it goes first so a refusal
	// leaves the model untouched
	accepted, owner, err := s.store.UpdateContributionStatus(ctx, c.ID, types.StatusAccepted, reward)
	if err != nil {
		return nil, s.settleError(err, c.ID)
	}

	var code *string
	if c.Type == types.ContributionCode && c.Code != nil {
		code = c.Code
	}
	// the bump is computed from the accuracy at write time, so a compute step
	// that finished in between is built upon
	var newAccuracy string
	updated, err := s.store.ImproveModel(ctx, c.ModelID, accuracyBump(improvement, code, &newAccuracy))
	if err != nil {
		// the settlement stands; clients still learn about it
		s.notifier.BroadcastContribution(ctx, accepted)
		if owner != nil {
			s.notifier.NotifyUserTokens(owner.ID, owner.Tokens)
		}
		s.logger.WithError(err).WithField("contribution_id", accepted.ID).Error("contribution accepted but model update failed")
		return nil, apperrors.NewInternalError("Contribution accepted but model update failed", err)
	}

	metrics.ContributionOutcomes.WithLabelValues(string(types.StatusAccepted)).Inc()
	metrics.TokensMinted.WithLabelValues("contribution").Add(float64(reward))

	improvementText := formatPercent(improvement, 1)
	s.notifier.BroadcastModelUpdate(updated)
	s.notifier.BroadcastContribution(ctx, accepted)
	if _, err := s.activities.Record(ctx, models.NewActivity{
		UserID:      &accepted.UserID,
		ModelID:     accepted.ModelID,
		Action:      types.ActionContributionAccepted,
		Description: fmt.Sprintf("%s contribution accepted with %s improvement", accepted.Type, improvementText),
		Metadata: map[string]interface{}{
			"contributionId": accepted.ID,
			"improvement":    improvementText,
			"newAccuracy":    newAccuracy,
			"reward":         reward,
		},
	}); err != nil {
		s.logger.WithError(err).WithField("contribution_id", accepted.ID).Error("contribution accepted without activity")
	}
	if owner != nil {
		s.notifier.NotifyUserTokens(owner.ID, owner.Tokens)
	}

	s.logger.WithFields(logging.Fields{
		"contribution_id": accepted.ID,
		"user_id":         accepted.UserID,
		"reward":          reward,
		"new_accuracy":    newAccuracy,
	}).Info("contribution applied")

	return &ApplyResult{
		Success:     true,
		Improvement: improvementText,
		NewAccuracy: newAccuracy,
		Reward:      reward,
	}, nil
}

// Reject declines a pending contribution. Rejected contributions carry a zero reward.
func (s *ContributionService) Reject(ctx context.Context, contributionID int64) (*models.Contribution, error) {
	s.settle.Lock()
	defer s.settle.Unlock()

	c, err := s.pending(ctx, contributionID)
	if err != nil {
		return nil, err
	}

	rejected, _, err := s.store.UpdateContributionStatus(ctx, c.ID, types.StatusRejected, 0)
	if err != nil {
		return nil, s.settleError(err, c.ID)
	}
	metrics.ContributionOutcomes.WithLabelValues(string(types.StatusRejected)).Inc()

	s.notifier.BroadcastContribution(ctx, rejected)
	if _, err := s.activities.Record(ctx, models.NewActivity{
		UserID:      &rejected.UserID,
		ModelID:     rejected.ModelID,
		Action:      types.ActionContributionRejected,
		Description: fmt.Sprintf("%s contribution rejected", rejected.Type),
		Metadata:    map[string]interface{}{"contributionId": rejected.ID},
	}); err != nil {
		s.logger.WithError(err).WithField("contribution_id", rejected.ID).Error("contribution rejected without activity")
	}

	s.logger.WithField("contribution_id", rejected.ID).Info("contribution rejected")
	return rejected, nil
}

func (s *ContributionService) pending(ctx context.Context, id int64) (*models.Contribution, error) {
	c, err := s.store.GetContribution(ctx, id)
	if err != nil {
		return nil, notFound(err, "Contribution", id)
	}
	if c.Status != types.StatusPending {
		return nil, apperrors.NewAlreadyProcessedError(id)
	}
	return c, nil
}

func (s *ContributionService) settleError(err error, id int64) error {
	switch {
	case errors.Is(err, storage.ErrAlreadyProcessed):
		return apperrors.NewAlreadyProcessedError(id)
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewNotFoundError("Contribution", id)
	default:
		return apperrors.NewInternalError("Failed to update contribution", err)
	}
}

// Get returns one contribution
func (s *ContributionService) Get(ctx context.Context, id int64) (*models.Contribution, error) {
	c, err := s.store.GetContribution(ctx, id)
	if err != nil {
		return nil, notFound(err, "Contribution", id)
	}
	return c, nil
}

// ListByUser returns a user's contributions in submission order
func (s *ContributionService) ListByUser(ctx context.Context, userID int64) ([]*models.Contribution, error) {
	out, err := s.store.ListContributionsByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to fetch user contributions", err)
	}
	return out, nil
}

// ListByModel returns a model's contributions in submission order
func (s *ContributionService) ListByModel(ctx context.Context, modelID int64) ([]*models.Contribution, error) {
	out, err := s.store.ListContributionsByModel(ctx, modelID)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to fetch contributions", err)
	}
	return out, nil
}

// ListByStatus returns contributions in a given status
func (s *ContributionService) ListByStatus(ctx context.Context, status types.ContributionStatus) ([]*models.Contribution, error) {
	if !status.Valid() {
		return nil, apperrors.NewInvalidParameterError("status", "must be one of: pending, accepted, rejected")
	}
	out, err := s.store.ListContributionsByStatus(ctx, status)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to fetch contributions", err)
	}
	return out, nil
}
