package models

import (
	"time"

	"github.com/modelforge/internal/types"
)

// Activity is an immutable feed entry. A nil UserID marks a system event.
type Activity struct {
	ID          int64                  `json:"id" db:"id"`
	UserID      *int64                 `json:"userId" db:"user_id"`
	ModelID     int64                  `json:"modelId" db:"model_id"`
	Action      types.ActivityAction   `json:"action" db:"action"`
	Description string                 `json:"description" db:"description"`
	Timestamp   time.Time              `json:"timestamp" db:"timestamp"`
	Metadata    map[string]interface{} `json:"metadata" db:"metadata"`
	RelatedCID  *string                `json:"relatedCid" db:"related_cid"`
}

// NewActivity holds the caller-supplied fields of an activity
type NewActivity struct {
	UserID      *int64
	ModelID     int64
	Action      types.ActivityAction
	Description string
	Metadata    map[string]interface{}
	RelatedCID  *string
}
