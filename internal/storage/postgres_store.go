package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/modelforge/internal/models"
	"github.com/modelforge/internal/types"
)

// PostgresStore is the durable Store backend. Ids come from BIGSERIAL
// sequences, which are monotonic and never reused.
type PostgresStore struct {
	db *PostgresDB
}

// NewPostgresStore creates a store over an open connection pool
func NewPostgresStore(db *PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

const userColumns = `id, username, password, tokens, compute_provider, profile_image_cid`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Tokens, &u.ComputeProvider, &u.ProfileImageCID); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// CreateUser registers a new user with a zero balance
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (username, password)
		VALUES ($1, $2)
		RETURNING ` + userColumns

	u, err := scanUser(s.db.Pool().QueryRow(ctx, query, username, passwordHash))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetUser returns a user by id
func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(s.db.Pool().QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByUsername returns a user by username
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(s.db.Pool().QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// CreditUserTokens adds amount to a user's balance
func (s *PostgresStore) CreditUserTokens(ctx context.Context, id int64, amount int) (*models.User, error) {
	query := `UPDATE users SET tokens = tokens + $2 WHERE id = $1 RETURNING ` + userColumns
	return scanUser(s.db.Pool().QueryRow(ctx, query, id, amount))
}

// SetComputeProvider toggles the compute-provider flag
func (s *PostgresStore) SetComputeProvider(ctx context.Context, id int64, provider bool) (*models.User, error) {
	query := `UPDATE users SET compute_provider = $2 WHERE id = $1 RETURNING ` + userColumns
	return scanUser(s.db.Pool().QueryRow(ctx, query, id, provider))
}

const modelColumns = `id, name, description, architecture, code, code_cid, weights_cid,
	current_accuracy, previous_accuracy, parameters, last_updated`

func scanModel(row pgx.Row) (*models.Model, error) {
	var m models.Model
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Description,
		&m.Architecture,
		&m.Code,
		&m.CodeCID,
		&m.WeightsCID,
		&m.CurrentAccuracy,
		&m.PreviousAccuracy,
		&m.Parameters,
		&m.LastUpdated,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// CreateModel inserts a model
func (s *PostgresStore) CreateModel(ctx context.Context, m *models.Model) (*models.Model, error) {
	query := `
		INSERT INTO models (name, description, architecture, code, code_cid, weights_cid,
			current_accuracy, previous_accuracy, parameters, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + modelColumns

	created, err := scanModel(s.db.Pool().QueryRow(ctx, query,
		m.Name,
		m.Description,
		m.Architecture,
		m.Code,
		m.CodeCID,
		m.WeightsCID,
		m.CurrentAccuracy,
		m.PreviousAccuracy,
		m.Parameters,
		time.Now().UTC(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}
	return created, nil
}

// GetModel returns a model by id
func (s *PostgresStore) GetModel(ctx context.Context, id int64) (*models.Model, error) {
	return scanModel(s.db.Pool().QueryRow(ctx, `SELECT `+modelColumns+` FROM models WHERE id = $1`, id))
}

// ListModels returns every model in id order
func (s *PostgresStore) ListModels(ctx context.Context) ([]*models.Model, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT `+modelColumns+` FROM models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Model, 0)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// rowQuerier is satisfied by both the pool and a transaction
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UpdateModel merges the non-nil fields of update
func (s *PostgresStore) UpdateModel(ctx context.Context, id int64, update models.ModelUpdate) (*models.Model, error) {
	return updateModel(ctx, s.db.Pool(), id, update)
}

// ImproveModel locks the model row, derives the update from it and writes it
// in the same transaction
func (s *PostgresStore) ImproveModel(ctx context.Context, id int64, derive ModelDeriver) (*models.Model, error) {
	var updated *models.Model
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		current, err := scanModel(tx.QueryRow(ctx, `SELECT `+modelColumns+` FROM models WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		update, err := derive(*current)
		if err != nil {
			return err
		}
		updated, err = updateModel(ctx, tx, id, update)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// updateModel writes update; COALESCE keeps the stored value for every NULL parameter
func updateModel(ctx context.Context, q rowQuerier, id int64, update models.ModelUpdate) (*models.Model, error) {
	query := `
		UPDATE models SET
			code              = COALESCE($2, code),
			code_cid          = COALESCE($3, code_cid),
			weights_cid       = COALESCE($4, weights_cid),
			current_accuracy  = COALESCE($5, current_accuracy),
			previous_accuracy = COALESCE($6, previous_accuracy),
			parameters        = COALESCE($7, parameters),
			last_updated      = $8
		WHERE id = $1
		RETURNING ` + modelColumns

	return scanModel(q.QueryRow(ctx, query,
		id,
		update.Code,
		update.CodeCID,
		update.WeightsCID,
		update.CurrentAccuracy,
		update.PreviousAccuracy,
		update.Parameters,
		time.Now().UTC(),
	))
}

const contributionColumns = `id, user_id, model_id, type, description, code, data_cid, code_cid, status, timestamp, reward`

func scanContribution(row pgx.Row) (*models.Contribution, error) {
	var c models.Contribution
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.ModelID,
		&c.Type,
		&c.Description,
		&c.Code,
		&c.DataCID,
		&c.CodeCID,
		&c.Status,
		&c.Timestamp,
		&c.Reward,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

// CreateContribution inserts a pending contribution with no reward
func (s *PostgresStore) CreateContribution(ctx context.Context, nc models.NewContribution) (*models.Contribution, error) {
	query := `
		INSERT INTO contributions (user_id, model_id, type, description, code, data_cid, code_cid, status, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + contributionColumns

	c, err := scanContribution(s.db.Pool().QueryRow(ctx, query,
		nc.UserID,
		nc.ModelID,
		nc.Type,
		nc.Description,
		nc.Code,
		nc.DataCID,
		nc.CodeCID,
		types.StatusPending,
		time.Now().UTC(),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create contribution: %w", err)
	}
	return c, nil
}

// GetContribution returns a contribution by id
func (s *PostgresStore) GetContribution(ctx context.Context, id int64) (*models.Contribution, error) {
	return scanContribution(s.db.Pool().QueryRow(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE id = $1`, id))
}

// ListContributionsByUser returns a user's contributions
func (s *PostgresStore) ListContributionsByUser(ctx context.Context, userID int64) ([]*models.Contribution, error) {
	return s.queryContributions(ctx, `WHERE user_id = $1`, userID)
}

// ListContributionsByModel returns a model's contributions
func (s *PostgresStore) ListContributionsByModel(ctx context.Context, modelID int64) ([]*models.Contribution, error) {
	return s.queryContributions(ctx, `WHERE model_id = $1`, modelID)
}

// ListContributionsByStatus returns contributions in the given status
func (s *PostgresStore) ListContributionsByStatus(ctx context.Context, status types.ContributionStatus) ([]*models.Contribution, error) {
	return s.queryContributions(ctx, `WHERE status = $1`, status)
}

func (s *PostgresStore) queryContributions(ctx context.Context, where string, arg interface{}) ([]*models.Contribution, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT `+contributionColumns+` FROM contributions `+where+` ORDER BY id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Contribution, 0)
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateContributionStatus settles a pending contribution inside one
// transaction. The row lock serializes concurrent settlements of the same id.
func (s *PostgresStore) UpdateContributionStatus(ctx context.Context, id int64, status types.ContributionStatus, reward int) (*models.Contribution, *models.User, error) {
	var (
		c     *models.Contribution
		owner *models.User
	)
	err := s.db.InTx(ctx, func(tx pgx.Tx) error {
		var current types.ContributionStatus
		var ownerID int64
		err := tx.QueryRow(ctx, `SELECT status, user_id FROM contributions WHERE id = $1 FOR UPDATE`, id).Scan(&current, &ownerID)
		if err != nil {
			return notFound(err)
		}
		if err := checkTransition(current, status, reward); err != nil {
			return err
		}

		if status == types.StatusAccepted {
			owner, err = scanUser(tx.QueryRow(ctx,
				`UPDATE users SET tokens = tokens + $2 WHERE id = $1 RETURNING `+userColumns, ownerID, reward))
			if err != nil {
				return err
			}
		}

		c, err = scanContribution(tx.QueryRow(ctx,
			`UPDATE contributions SET status = $2, reward = $3 WHERE id = $1 RETURNING `+contributionColumns,
			id, status, reward))
		if err != nil {
			return fmt.Errorf("failed to update contribution: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return c, owner, nil
}

const activityColumns = `id, user_id, model_id, action, description, timestamp, metadata, related_cid`

func scanActivity(row pgx.Row) (*models.Activity, error) {
	var a models.Activity
	var metadataJSON []byte
	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.ModelID,
		&a.Action,
		&a.Description,
		&a.Timestamp,
		&metadataJSON,
		&a.RelatedCID,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &a, nil
}

// CreateActivity appends an activity
func (s *PostgresStore) CreateActivity(ctx context.Context, na models.NewActivity) (*models.Activity, error) {
	var metadataJSON []byte
	if na.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(na.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO activities (user_id, model_id, action, description, timestamp, metadata, related_cid)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + activityColumns

	a, err := scanActivity(s.db.Pool().QueryRow(ctx, query,
		na.UserID,
		na.ModelID,
		na.Action,
		na.Description,
		time.Now().UTC(),
		metadataJSON,
		na.RelatedCID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create activity: %w", err)
	}
	return a, nil
}

// ListActivities returns a model's activities newest first
func (s *PostgresStore) ListActivities(ctx context.Context, modelID int64, limit int) ([]*models.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE model_id = $1 ORDER BY timestamp DESC, id DESC`
	args := []interface{}{modelID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Activity, 0)
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const ipfsColumns = `id, cid, content_type, file_name, file_size, description, created_at, pinned, user_id`

func scanIPFSRecord(row pgx.Row) (*models.IPFSRecord, error) {
	var r models.IPFSRecord
	err := row.Scan(&r.ID, &r.CID, &r.ContentType, &r.FileName, &r.FileSize, &r.Description, &r.CreatedAt, &r.Pinned, &r.UserID)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// CreateIPFSRecord stores a reference to gateway content
func (s *PostgresStore) CreateIPFSRecord(ctx context.Context, r *models.IPFSRecord) (*models.IPFSRecord, error) {
	query := `
		INSERT INTO ipfs_records (cid, content_type, file_name, file_size, description, created_at, pinned, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + ipfsColumns

	created, err := scanIPFSRecord(s.db.Pool().QueryRow(ctx, query,
		r.CID, r.ContentType, r.FileName, r.FileSize, r.Description, time.Now().UTC(), r.Pinned, r.UserID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create ipfs record: %w", err)
	}
	return created, nil
}

// GetIPFSRecordByCID returns the record for a cid
func (s *PostgresStore) GetIPFSRecordByCID(ctx context.Context, cid string) (*models.IPFSRecord, error) {
	return scanIPFSRecord(s.db.Pool().QueryRow(ctx, `SELECT `+ipfsColumns+` FROM ipfs_records WHERE cid = $1`, cid))
}

// ListIPFSRecordsByUser returns the records uploaded by a user
func (s *PostgresStore) ListIPFSRecordsByUser(ctx context.Context, userID int64) ([]*models.IPFSRecord, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT `+ipfsColumns+` FROM ipfs_records WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ipfs records: %w", err)
	}
	defer rows.Close()

	out := make([]*models.IPFSRecord, 0)
	for rows.Next() {
		r, err := scanIPFSRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ipfs record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetIPFSRecordPinned updates the pinned flag
func (s *PostgresStore) SetIPFSRecordPinned(ctx context.Context, cid string, pinned bool) (*models.IPFSRecord, error) {
	return scanIPFSRecord(s.db.Pool().QueryRow(ctx,
		`UPDATE ipfs_records SET pinned = $2 WHERE cid = $1 RETURNING `+ipfsColumns, cid, pinned))
}

const datasetColumns = `id, name, description, data_cid, size_bytes, format, created_at, user_id`

func scanDataset(row pgx.Row) (*models.Dataset, error) {
	var d models.Dataset
	err := row.Scan(&d.ID, &d.Name, &d.Description, &d.DataCID, &d.SizeBytes, &d.Format, &d.CreatedAt, &d.UserID)
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// CreateDataset inserts a dataset
func (s *PostgresStore) CreateDataset(ctx context.Context, d *models.Dataset) (*models.Dataset, error) {
	query := `
		INSERT INTO datasets (name, description, data_cid, size_bytes, format, created_at, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + datasetColumns

	created, err := scanDataset(s.db.Pool().QueryRow(ctx, query,
		d.Name, d.Description, d.DataCID, d.SizeBytes, d.Format, time.Now().UTC(), d.UserID))
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}
	return created, nil
}

// GetDataset returns a dataset by id
func (s *PostgresStore) GetDataset(ctx context.Context, id int64) (*models.Dataset, error) {
	return scanDataset(s.db.Pool().QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id))
}

// ListDatasetsByUser returns a user's datasets
func (s *PostgresStore) ListDatasetsByUser(ctx context.Context, userID int64) ([]*models.Dataset, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Dataset, 0)
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Stats counts through the status and provider indexes
func (s *PostgresStore) Stats(ctx context.Context) (types.PlatformStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM models),
			(SELECT COUNT(*) FROM users WHERE compute_provider),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'accepted'),
			COUNT(*) FILTER (WHERE status = 'rejected')
		FROM contributions
	`

	var st types.PlatformStats
	err := s.db.Pool().QueryRow(ctx, query).Scan(
		&st.ActiveModels,
		&st.ComputeContributors,
		&st.PendingContributions,
		&st.AcceptedContributions,
		&st.RejectedContributions,
	)
	if err != nil {
		return types.PlatformStats{}, fmt.Errorf("failed to compute stats: %w", err)
	}
	return st, nil
}
