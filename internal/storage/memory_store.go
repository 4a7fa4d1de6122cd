package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/types"
)

// MemoryStore keeps every entity in process memory.
//
// Each map is paired with an insertion-ordered id slice. Aggregate counts are
// maintained on mutation so Stats never rescans.
type MemoryStore struct {
	mu sync.RWMutex

	users         map[int64]*models.User
	userOrder     []int64
	usersByName   map[string]int64
	contributions map[int64]*models.Contribution
	contribOrder  []int64
	models        map[int64]*models.Model
	modelOrder    []int64
	activities    []*models.Activity
	ipfsRecords   map[string]*models.IPFSRecord
	ipfsOrder     []string
	datasets      map[int64]*models.Dataset
	datasetOrder  []int64

	nextUserID         int64
	nextContributionID int64
	nextModelID        int64
	nextActivityID     int64
	nextIPFSID         int64
	nextDatasetID      int64

	computeProviders int
	byStatus         map[types.ContributionStatus]int

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[int64]*models.User),
		usersByName:   make(map[string]int64),
		contributions: make(map[int64]*models.Contribution),
		models:        make(map[int64]*models.Model),
		ipfsRecords:   make(map[string]*models.IPFSRecord),
		datasets:      make(map[int64]*models.Dataset),
		byStatus:      make(map[types.ContributionStatus]int),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// CreateUser registers a new user with a zero balance
func (s *MemoryStore) CreateUser(_ context.Context, username, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usersByName[username]; taken {
		return nil, ErrDuplicate
	}

	s.nextUserID++
	u := &models.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: passwordHash,
	}
	s.users[u.ID] = u
	s.userOrder = append(s.userOrder, u.ID)
	s.usersByName[username] = u.ID

	cp := *u
	return &cp, nil
}

// GetUser returns a user by id
func (s *MemoryStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByUsername returns a user by username
func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.users[id]
	return &cp, nil
}

// CreditUserTokens adds amount to a user's balance
func (s *MemoryStore) CreditUserTokens(_ context.Context, id int64, amount int) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.Tokens += amount
	cp := *u
	return &cp, nil
}

// SetComputeProvider toggles the compute-provider flag
func (s *MemoryStore) SetComputeProvider(_ context.Context, id int64, provider bool) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.ComputeProvider != provider {
		if provider {
			s.computeProviders++
		} else {
			s.computeProviders--
		}
		u.ComputeProvider = provider
	}
	cp := *u
	return &cp, nil
}

// CreateModel inserts a model, assigning its id and LastUpdated
func (s *MemoryStore) CreateModel(_ context.Context, m *models.Model) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextModelID++
	stored := *m
	stored.ID = s.nextModelID
	stored.LastUpdated = s.now()
	s.models[stored.ID] = &stored
	s.modelOrder = append(s.modelOrder, stored.ID)

	cp := stored
	return &cp, nil
}

// GetModel returns a model by id
func (s *MemoryStore) GetModel(_ context.Context, id int64) (*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// ListModels returns every model
func (s *MemoryStore) ListModels(_ context.Context) ([]*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Model, 0, len(s.modelOrder))
	for _, id := range s.modelOrder {
		cp := *s.models[id]
		out = append(out, &cp)
	}
	return out, nil
}

// UpdateModel merges update onto the model
func (s *MemoryStore) UpdateModel(_ context.Context, id int64, update models.ModelUpdate) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	update.Apply(m)
	m.LastUpdated = s.now()
	cp := *m
	return &cp, nil
}

// ImproveModel runs derive and the write under the store lock
func (s *MemoryStore) ImproveModel(_ context.Context, id int64, derive ModelDeriver) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.models[id]
	if !ok {
		return nil, ErrNotFound
	}
	update, err := derive(*m)
	if err != nil {
		return nil, err
	}
	update.Apply(m)
	m.LastUpdated = s.now()
	cp := *m
	return &cp, nil
}

// CreateContribution inserts a pending contribution with no reward
func (s *MemoryStore) CreateContribution(_ context.Context, nc models.NewContribution) (*models.Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextContributionID++
	c := &models.Contribution{
		ID:          s.nextContributionID,
		UserID:      nc.UserID,
		ModelID:     nc.ModelID,
		Type:        nc.Type,
		Description: nc.Description,
		Code:        nc.Code,
		DataCID:     nc.DataCID,
		CodeCID:     nc.CodeCID,
		Status:      types.StatusPending,
		Timestamp:   s.now(),
	}
	s.contributions[c.ID] = c
	s.contribOrder = append(s.contribOrder, c.ID)
	s.byStatus[types.StatusPending]++

	cp := *c
	return &cp, nil
}

// GetContribution returns a contribution by id
func (s *MemoryStore) GetContribution(_ context.Context, id int64) (*models.Contribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contributions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ListContributionsByUser returns a user's contributions
func (s *MemoryStore) ListContributionsByUser(_ context.Context, userID int64) ([]*models.Contribution, error) {
	return s.filterContributions(func(c *models.Contribution) bool { return c.UserID == userID }), nil
}

// ListContributionsByModel returns a model's contributions
func (s *MemoryStore) ListContributionsByModel(_ context.Context, modelID int64) ([]*models.Contribution, error) {
	return s.filterContributions(func(c *models.Contribution) bool { return c.ModelID == modelID }), nil
}

// ListContributionsByStatus returns contributions in the given status
func (s *MemoryStore) ListContributionsByStatus(_ context.Context, status types.ContributionStatus) ([]*models.Contribution, error) {
	return s.filterContributions(func(c *models.Contribution) bool { return c.Status == status }), nil
}

func (s *MemoryStore) filterContributions(keep func(*models.Contribution) bool) []*models.Contribution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Contribution, 0)
	for _, id := range s.contribOrder {
		c := s.contributions[id]
		if keep(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out
}

// UpdateContributionStatus settles a pending contribution. The status change,
// the reward and the owner credit happen under one write lock.
func (s *MemoryStore) UpdateContributionStatus(_ context.Context, id int64, status types.ContributionStatus, reward int) (*models.Contribution, *models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contributions[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if err := checkTransition(c.Status, status, reward); err != nil {
		return nil, nil, err
	}

	var owner *models.User
	if status == types.StatusAccepted {
		u, ok := s.users[c.UserID]
		if !ok {
			return nil, nil, ErrNotFound
		}
		u.Tokens += reward
		cp := *u
		owner = &cp
	}

	s.byStatus[c.Status]--
	s.byStatus[status]++
	c.Status = status
	r := reward
	c.Reward = &r

	cp := *c
	return &cp, owner, nil
}

// CreateActivity appends an activity
func (s *MemoryStore) CreateActivity(_ context.Context, na models.NewActivity) (*models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextActivityID++
	a := &models.Activity{
		ID:          s.nextActivityID,
		UserID:      na.UserID,
		ModelID:     na.ModelID,
		Action:      na.Action,
		Description: na.Description,
		Timestamp:   s.now(),
		Metadata:    copyMetadata(na.Metadata),
		RelatedCID:  na.RelatedCID,
	}
	s.activities = append(s.activities, a)

	return cloneActivity(a), nil
}

// ListActivities returns a model's activities sorted by timestamp descending,
// newer ids first on equal timestamps
func (s *MemoryStore) ListActivities(_ context.Context, modelID int64, limit int) ([]*models.Activity, error) {
	s.mu.RLock()
	out := make([]*models.Activity, 0)
	for _, a := range s.activities {
		if a.ModelID == modelID {
			out = append(out, cloneActivity(a))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateIPFSRecord stores a reference to gateway content. The cid is unique.
func (s *MemoryStore) CreateIPFSRecord(_ context.Context, r *models.IPFSRecord) (*models.IPFSRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ipfsRecords[r.CID]; exists {
		return nil, ErrDuplicate
	}

	s.nextIPFSID++
	stored := *r
	stored.ID = s.nextIPFSID
	stored.CreatedAt = s.now()
	s.ipfsRecords[stored.CID] = &stored
	s.ipfsOrder = append(s.ipfsOrder, stored.CID)

	cp := stored
	return &cp, nil
}

// GetIPFSRecordByCID returns the record for a cid
func (s *MemoryStore) GetIPFSRecordByCID(_ context.Context, cid string) (*models.IPFSRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.ipfsRecords[cid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListIPFSRecordsByUser returns the records uploaded by a user
func (s *MemoryStore) ListIPFSRecordsByUser(_ context.Context, userID int64) ([]*models.IPFSRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.IPFSRecord, 0)
	for _, cid := range s.ipfsOrder {
		r := s.ipfsRecords[cid]
		if r.UserID != nil && *r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SetIPFSRecordPinned updates the pinned flag
func (s *MemoryStore) SetIPFSRecordPinned(_ context.Context, cid string, pinned bool) (*models.IPFSRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.ipfsRecords[cid]
	if !ok {
		return nil, ErrNotFound
	}
	r.Pinned = pinned
	cp := *r
	return &cp, nil
}

// CreateDataset inserts a dataset
func (s *MemoryStore) CreateDataset(_ context.Context, d *models.Dataset) (*models.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextDatasetID++
	stored := *d
	stored.ID = s.nextDatasetID
	stored.CreatedAt = s.now()
	s.datasets[stored.ID] = &stored
	s.datasetOrder = append(s.datasetOrder, stored.ID)

	cp := stored
	return &cp, nil
}

// GetDataset returns a dataset by id
func (s *MemoryStore) GetDataset(_ context.Context, id int64) (*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.datasets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

// ListDatasetsByUser returns a user's datasets
func (s *MemoryStore) ListDatasetsByUser(_ context.Context, userID int64) ([]*models.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Dataset, 0)
	for _, id := range s.datasetOrder {
		d := s.datasets[id]
		if d.UserID == userID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Stats reads the maintained counters
func (s *MemoryStore) Stats(_ context.Context) (types.PlatformStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return types.PlatformStats{
		ActiveModels:          len(s.models),
		ComputeContributors:   s.computeProviders,
		PendingContributions:  s.byStatus[types.StatusPending],
		AcceptedContributions: s.byStatus[types.StatusAccepted],
		RejectedContributions: s.byStatus[types.StatusRejected],
	}, nil
}

func cloneActivity(a *models.Activity) *models.Activity {
	cp := *a
	cp.Metadata = copyMetadata(a.Metadata)
	return &cp
}

func copyMetadata(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
