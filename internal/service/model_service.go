package service

import (
	"context"

	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/storage"
	"github.com/modelforge/internal/types"
)

// StatsSummary is the /api/stats payload
type StatsSummary struct {
	ActiveModels        int `json:"activeModels"`
	UserContributions   int `json:"userContributions"`
	ComputeContributors int `json:"computeContributors"`
	TotalContributions  int `json:"totalContributions"`
}

// ModelService serves read access to models and platform counts
type ModelService struct {
	store storage.Store
}

// NewModelService creates a model service
func NewModelService(store storage.Store) *ModelService {
	return &ModelService{store: store}
}

// List returns all models
func (s *ModelService) List(ctx context.Context) ([]*models.Model, error) {
	out, err := s.store.ListModels(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to fetch models", err)
	}
	return out, nil
}

// Get returns one model
func (s *ModelService) Get(ctx context.Context, id int64) (*models.Model, error) {
	m, err := s.store.GetModel(ctx, id)
	if err != nil {
		return nil, notFound(err, "Model", id)
	}
	return m, nil
}

// Stats returns the aggregate counts pushed over the realtime channel
func (s *ModelService) Stats(ctx context.Context) (types.PlatformStats, error) {
	return s.store.Stats(ctx)
}

// Summary returns platform counts plus the caller's own contribution count.
// userID 0 means anonymous.
func (s *ModelService) Summary(ctx context.Context, userID int64) (*StatsSummary, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to fetch stats", err)
	}

	summary := &StatsSummary{
		ActiveModels:        st.ActiveModels,
		ComputeContributors: st.ComputeContributors,
		TotalContributions:  st.PendingContributions + st.AcceptedContributions,
	}
	if userID > 0 {
		mine, err := s.store.ListContributionsByUser(ctx, userID)
		if err != nil {
			return nil, apperrors.NewInternalError("Failed to fetch stats", err)
		}
		summary.UserContributions = len(mine)
	}
	return summary, nil
}
