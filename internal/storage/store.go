package storage

import (
	"context"
	"errors"

	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/types"
)

var (
	// ErrNotFound is returned for unknown ids; stores never fail any other way on absence
	ErrNotFound = errors.New("not found")
	// ErrAlreadyProcessed is returned when a contribution has left the pending state
	ErrAlreadyProcessed = errors.New("contribution already processed")
	// ErrDuplicate is returned when a unique key (username, cid) is already taken
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalidTransition is returned for status changes that would break the reward invariant
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ModelDeriver computes a model update from the model's current state
type ModelDeriver func(current models.Model) (models.ModelUpdate, error)

// Store is the single source of truth for platform entities.
//
// Every returned record is a copy; mutating it does not affect the store.
// List operations return records in insertion order unless documented otherwise.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	// CreditUserTokens adds amount to the balance and returns the updated user
	CreditUserTokens(ctx context.Context, id int64, amount int) (*models.User, error)
	SetComputeProvider(ctx context.Context, id int64, provider bool) (*models.User, error)

	CreateModel(ctx context.Context, m *models.Model) (*models.Model, error)
	GetModel(ctx context.Context, id int64) (*models.Model, error)
	ListModels(ctx context.Context) ([]*models.Model, error)
	// UpdateModel merges the non-nil fields of update and refreshes LastUpdated
	UpdateModel(ctx context.Context, id int64, update models.ModelUpdate) (*models.Model, error)
	// ImproveModel reads the model and writes the update derived from it as one
	// step; no other model write lands in between. An error from derive aborts
	// without writing.
	ImproveModel(ctx context.Context, id int64, derive ModelDeriver) (*models.Model, error)

	CreateContribution(ctx context.Context, c models.NewContribution) (*models.Contribution, error)
	GetContribution(ctx context.Context, id int64) (*models.Contribution, error)
	ListContributionsByUser(ctx context.Context, userID int64) ([]*models.Contribution, error)
	ListContributionsByModel(ctx context.Context, modelID int64) ([]*models.Contribution, error)
	ListContributionsByStatus(ctx context.Context, status types.ContributionStatus) ([]*models.Contribution, error)
	// UpdateContributionStatus moves a pending contribution to a terminal status.
	// An accepted contribution credits its owner by reward in the same step; the
	// credited owner is returned, nil otherwise.
	UpdateContributionStatus(ctx context.Context, id int64, status types.ContributionStatus, reward int) (*models.Contribution, *models.User, error)

	CreateActivity(ctx context.Context, a models.NewActivity) (*models.Activity, error)
	// ListActivities returns a model's activities newest first. limit <= 0 means all.
	ListActivities(ctx context.Context, modelID int64, limit int) ([]*models.Activity, error)

	CreateIPFSRecord(ctx context.Context, r *models.IPFSRecord) (*models.IPFSRecord, error)
	GetIPFSRecordByCID(ctx context.Context, cid string) (*models.IPFSRecord, error)
	ListIPFSRecordsByUser(ctx context.Context, userID int64) ([]*models.IPFSRecord, error)
	SetIPFSRecordPinned(ctx context.Context, cid string, pinned bool) (*models.IPFSRecord, error)

	CreateDataset(ctx context.Context, d *models.Dataset) (*models.Dataset, error)
	GetDataset(ctx context.Context, id int64) (*models.Dataset, error)
	ListDatasetsByUser(ctx context.Context, userID int64) ([]*models.Dataset, error)

	// Stats returns the aggregate counts pushed to realtime clients
	Stats(ctx context.Context) (types.PlatformStats, error)

	Close() error
}

// checkTransition validates a status change out of from
func checkTransition(from, to types.ContributionStatus, reward int) error {
	if from.Terminal() {
		return ErrAlreadyProcessed
	}
	if !to.Terminal() || reward < 0 {
		return ErrInvalidTransition
	}
	return nil
}
