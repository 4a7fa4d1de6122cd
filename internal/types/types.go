// Package types provides common type definitions for the model platform.
package types

// ContributionType is the kind of work a contribution proposes
type ContributionType string

const (
	// ContributionCode replaces the model source when accepted
	ContributionCode ContributionType = "code"
	// ContributionCompute represents donated compute
	ContributionCompute ContributionType = "compute"
	// ContributionData represents a dataset submission
	ContributionData ContributionType = "data"
	// ContributionHyperparameters represents a tuning proposal
	ContributionHyperparameters ContributionType = "hyperparameters"
)

// Valid reports whether t is one of the known contribution types
func (t ContributionType) Valid() bool {
	switch t {
	case ContributionCode, ContributionCompute, ContributionData, ContributionHyperparameters:
		return true
	}
	return false
}

// ContributionStatus represents the lifecycle state of a contribution
type ContributionStatus string

const (
	// StatusPending is the initial state of every contribution
	StatusPending ContributionStatus = "pending"
	// StatusAccepted is terminal; the contribution was applied and rewarded
	StatusAccepted ContributionStatus = "accepted"
	// StatusRejected is terminal; the contribution was declined
	StatusRejected ContributionStatus = "rejected"
)

// Valid reports whether s is one of the known statuses
func (s ContributionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s
func (s ContributionStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// ActivityAction tags an activity feed entry
type ActivityAction string

const (
	ActionSubmittedContribution ActivityAction = "submitted_contribution"
	ActionContributionAccepted  ActivityAction = "contribution_accepted"
	ActionContributionRejected  ActivityAction = "contribution_rejected"
	ActionComputeContribution   ActivityAction = "compute_contribution"
	ActionRegisteredCompute     ActivityAction = "registered_compute"
	ActionUploadedToIPFS        ActivityAction = "uploaded_to_ipfs"
	ActionCreatedDataset        ActivityAction = "created_dataset"
)

// ContentType classifies content pushed to the IPFS gateway
type ContentType string

const (
	ContentModel    ContentType = "model"
	ContentData     ContentType = "data"
	ContentCode     ContentType = "code"
	ContentWeights  ContentType = "weights"
	ContentImage    ContentType = "image"
	ContentDocument ContentType = "document"
)

// Valid reports whether c is one of the known content types
func (c ContentType) Valid() bool {
	switch c {
	case ContentModel, ContentData, ContentCode, ContentWeights, ContentImage, ContentDocument:
		return true
	}
	return false
}

// Downloadable reports whether retrieved content should be served as an attachment
func (c ContentType) Downloadable() bool {
	return c == ContentModel || c == ContentData || c == ContentWeights
}

// PlatformStats holds the aggregate counts pushed to every client
type PlatformStats struct {
	ActiveModels          int `json:"activeModels"`
	ComputeContributors   int `json:"computeContributors"`
	PendingContributions  int `json:"pendingContributions"`
	AcceptedContributions int `json:"acceptedContributions"`
	RejectedContributions int `json:"-"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
