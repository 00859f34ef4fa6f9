package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/models"
)

// RollbackLogRepository is the append-only store of rollback attempts. The
// table has no foreign key to instances, so entries survive a full rollback
// that removes the instance row. Entries are never updated or deleted.
type RollbackLogRepository struct {
	pool *pgxpool.Pool
}

func NewRollbackLogRepository(pool *pgxpool.Pool) *RollbackLogRepository {
	return &RollbackLogRepository{pool: pool}
}

// Create appends one rollback log entry
func (r *RollbackLogRepository) Create(ctx context.Context, entry *models.RollbackLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO provisioning.rollback_log (id, instance_id, level, reason, steps, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.InstanceID, entry.Level, entry.Reason, entry.Steps, entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert rollback log: %w", err)
	}

	return nil
}

// ListByInstance retrieves rollback entries for an instance, newest first
func (r *RollbackLogRepository) ListByInstance(ctx context.Context, instanceID string, limit int) ([]*models.RollbackLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, instance_id, level, reason, steps, error_message, created_at
		FROM provisioning.rollback_log
		WHERE instance_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, instanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query rollback log: %w", err)
	}
	defer rows.Close()

	var entries []*models.RollbackLogEntry
	for rows.Next() {
		entry := &models.RollbackLogEntry{}
		err := rows.Scan(
			&entry.ID, &entry.InstanceID, &entry.Level, &entry.Reason,
			&entry.Steps, &entry.ErrorMessage, &entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan rollback log: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
