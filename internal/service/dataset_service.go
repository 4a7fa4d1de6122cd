package service

import (
	"context"
	"fmt"

	apperrors "github.com/modelforge/internal/errors"
	"github.com/modelforge/internal/logging"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/storage"
	"github.com/modelforge/internal/types"
)

// CreateDatasetInput is the body of a dataset registration
type CreateDatasetInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"required"`
	DataCID     string `json:"dataCid" validate:"required"`
	SizeBytes   *int64 `json:"sizeBytes,omitempty" validate:"omitempty,gte=0"`
	Format      string `json:"format" validate:"required"`
	ModelID     int64  `json:"modelId,omitempty" validate:"gte=0"`
}

// DatasetView is a dataset with the gateway address of its data
type DatasetView struct {
	*models.Dataset
	GatewayURL string `json:"gatewayUrl"`
}

// DatasetService registers datasets already uploaded to IPFS
type DatasetService struct {
	store          storage.Store
	activities     *ActivityLog
	gatewayURL     func(cid string) string
	defaultModelID int64
	logger         *logging.Logger
}

// NewDatasetService creates a dataset service. gatewayURL maps a CID to its
// public address.
func NewDatasetService(store storage.Store, activities *ActivityLog, gatewayURL func(string) string, defaultModelID int64, logger *logging.Logger) *DatasetService {
	if defaultModelID <= 0 {
		defaultModelID = 1
	}
	return &DatasetService{
		store:          store,
		activities:     activities,
		gatewayURL:     gatewayURL,
		defaultModelID: defaultModelID,
		logger:         logger.WithComponent("dataset-service"),
	}
}

// Create registers a dataset owned by userID
func (s *DatasetService) Create(ctx context.Context, userID int64, in CreateDatasetInput) (*models.Dataset, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	d, err := s.store.CreateDataset(ctx, &models.Dataset{
		Name:        in.Name,
		Description: in.Description,
		DataCID:     in.DataCID,
		SizeBytes:   in.SizeBytes,
		Format:      in.Format,
		UserID:      userID,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to create dataset", err)
	}

	modelID := in.ModelID
	if modelID <= 0 {
		modelID = s.defaultModelID
	}
	uid := userID
	cid := d.DataCID
	if _, err := s.activities.Record(ctx, models.NewActivity{
		UserID:      &uid,
		ModelID:     modelID,
		Action:      types.ActionCreatedDataset,
		Description: fmt.Sprintf("Created dataset: %s", d.Name),
		RelatedCID:  &cid,
	}); err != nil {
		s.logger.WithError(err).WithField("dataset_id", d.ID).Error("dataset created without activity")
	}
	return d, nil
}

// ListByUser returns the datasets userID registered
func (s *DatasetService) ListByUser(ctx context.Context, userID int64) ([]*models.Dataset, error) {
	out, err := s.store.ListDatasetsByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.NewInternalError("Failed to fetch datasets", err)
	}
	return out, nil
}

// Get returns a dataset with its gateway address
func (s *DatasetService) Get(ctx context.Context, id int64) (*DatasetView, error) {
	d, err := s.store.GetDataset(ctx, id)
	if err != nil {
		return nil, notFound(err, "Dataset", id)
	}
	view := &DatasetView{Dataset: d}
	if s.gatewayURL != nil {
		view.GatewayURL = s.gatewayURL(d.DataCID)
	}
	return view, nil
}
