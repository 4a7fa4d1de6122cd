package models

import "time"

// Model is the shared demonstration model contributors improve
type Model struct {
	ID               int64     `json:"id" db:"id"`
	Name             string    `json:"name" db:"name"`
	Description      string    `json:"description" db:"description"`
	Architecture     string    `json:"architecture" db:"architecture"`
	Code             string    `json:"code" db:"code"`
	CodeCID          *string   `json:"codeCid,omitempty" db:"code_cid"`
	WeightsCID       *string   `json:"weightsCid,omitempty" db:"weights_cid"`
	CurrentAccuracy  string    `json:"currentAccuracy" db:"current_accuracy"`
	PreviousAccuracy *string   `json:"previousAccuracy" db:"previous_accuracy"`
	Parameters       string    `json:"parameters" db:"parameters"`
	LastUpdated      time.Time `json:"lastUpdated" db:"last_updated"`
}

// ModelUpdate is a partial update; nil fields are left untouched
type ModelUpdate struct {
	Code             *string
	CodeCID          *string
	WeightsCID       *string
	CurrentAccuracy  *string
	PreviousAccuracy *string
	Parameters       *string
}

// Apply merges the non-nil fields of u onto m
func (u ModelUpdate) Apply(m *Model) {
	if u.Code != nil {
		m.Code = *u.Code
	}
	if u.CodeCID != nil {
		m.CodeCID = u.CodeCID
	}
	if u.WeightsCID != nil {
		m.WeightsCID = u.WeightsCID
	}
	if u.CurrentAccuracy != nil {
		m.CurrentAccuracy = *u.CurrentAccuracy
	}
	if u.PreviousAccuracy != nil {
		m.PreviousAccuracy = u.PreviousAccuracy
	}
	if u.Parameters != nil {
		m.Parameters = *u.Parameters
	}
}
