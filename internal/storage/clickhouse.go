package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/modelforge/internal/config"
	"github.com/modelforge/internal/models"
)

// ClickHouseDB wraps the ClickHouse connection
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(ctx context.Context, cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     4,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Ping checks if the database is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec executes a query without returning rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

// ActivityArchive appends activity records to ClickHouse for analytics.
// The entity store remains the source of truth for the feed.
type ActivityArchive struct {
	db *ClickHouseDB
}

// NewActivityArchive creates an archive writer
func NewActivityArchive(db *ClickHouseDB) *ActivityArchive {
	return &ActivityArchive{db: db}
}

// InsertActivities writes a batch of activities
func (a *ActivityArchive) InsertActivities(ctx context.Context, activities []*models.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	batch, err := a.db.conn.PrepareBatch(ctx, `
		INSERT INTO activity_archive (id, user_id, model_id, action, description, timestamp, metadata, related_cid)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, act := range activities {
		metadata, err := archiveMetadata(act.Metadata)
		if err != nil {
			return err
		}
		if err := batch.Append(
			act.ID,
			act.UserID,
			act.ModelID,
			string(act.Action),
			act.Description,
			act.Timestamp,
			metadata,
			act.RelatedCID,
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	return batch.Send()
}

// archiveMetadata encodes metadata as a JSON string column, "{}" when empty
func archiveMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}
