package models

import (
	"time"

	"github.com/modelforge/internal/types"
)

// Contribution is a unit of proposed work against a model.
// Reward is nil exactly while Status is pending.
type Contribution struct {
	ID          int64                    `json:"id" db:"id"`
	UserID      int64                    `json:"userId" db:"user_id"`
	ModelID     int64                    `json:"modelId" db:"model_id"`
	Type        types.ContributionType   `json:"type" db:"type"`
	Description string                   `json:"description" db:"description"`
	Code        *string                  `json:"code" db:"code"`
	DataCID     *string                  `json:"dataCid" db:"data_cid"`
	CodeCID     *string                  `json:"codeCid" db:"code_cid"`
	Status      types.ContributionStatus `json:"status" db:"status"`
	Timestamp   time.Time                `json:"timestamp" db:"timestamp"`
	Reward      *int                     `json:"reward" db:"reward"`
}

// NewContribution holds the caller-supplied fields of a contribution
type NewContribution struct {
	UserID      int64
	ModelID     int64
	Type        types.ContributionType
	Description string
	Code        *string
	DataCID     *string
	CodeCID     *string
}
