package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/modelforge/internal/logging"
)

// RunClickHouseMigrations executes every .sql file in migrationsPath in name order.
// Statements must be idempotent; there is no version table.
func RunClickHouseMigrations(ctx context.Context, db *ClickHouseDB, migrationsPath string) error {
	logger := logging.FromContext(ctx).WithComponent("clickhouse-migrate")

	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			sqlFiles = append(sqlFiles, entry.Name())
		}
	}
	sort.Strings(sqlFiles)

	if len(sqlFiles) == 0 {
		logger.Warn("no clickhouse migration files found")
		return nil
	}

	for _, filename := range sqlFiles {
		content, err := os.ReadFile(filepath.Join(migrationsPath, filename)) // #nosec G304 - trusted migrations directory
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		for i, stmt := range splitSQLStatements(string(content)) {
			if err := db.Exec(ctx, stmt); err != nil {
				logger.WithError(err).WithFields(logging.Fields{
					"file":      filename,
					"statement": i + 1,
				}).Error("clickhouse migration statement failed")
				return fmt.Errorf("failed to execute statement %d in %s: %w", i+1, filename, err)
			}
		}

		logger.WithField("file", filename).Info("applied clickhouse migration")
	}

	return nil
}

// splitSQLStatements splits SQL content on statement-ending semicolons,
// skipping blank and comment-only lines
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}
