package models

import (
	"time"

	"github.com/modelforge/internal/types"
)

// IPFSRecord is the local reference to content held by the IPFS gateway
type IPFSRecord struct {
	ID          int64             `json:"id" db:"id"`
	CID         string            `json:"cid" db:"cid"`
	ContentType types.ContentType `json:"contentType" db:"content_type"`
	FileName    *string           `json:"fileName" db:"file_name"`
	FileSize    *int64            `json:"fileSize" db:"file_size"`
	Description *string           `json:"description" db:"description"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
	Pinned      bool              `json:"pinned" db:"pinned"`
	UserID      *int64            `json:"userId" db:"user_id"`
}
