package models

import "time"

// Dataset describes a dataset hosted on the IPFS gateway
type Dataset struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	DataCID     string    `json:"dataCid" db:"data_cid"`
	SizeBytes   *int64    `json:"sizeBytes" db:"size_bytes"`
	Format      string    `json:"format" db:"format"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UserID      int64     `json:"userId" db:"user_id"`
}
