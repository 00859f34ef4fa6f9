package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/models"
)

var ErrNotFound = errors.New("not found")

const instanceColumns = `
	id, owner_ref, plan_tier, region, hostname, machine_type,
	compute_id, public_ip, dns_record_id,
	status, error_message,
	provision_started_at, provision_completed_at, suspended_at, terminated_at, rolled_back_at,
	readiness_secret, secret_consumed_at, reported_version, reported_port,
	health, last_health_check_at, health_checks_total, health_checks_passed, consecutive_failures,
	created_at, updated_at `

// InstanceRepository is the durable registry of instance records. Status
// transitions go through the compare-and-set methods below: each one updates
// only when the row is still in the expected prior status and reports
// whether it won, so concurrent watchdog workers and API calls cannot
// double-apply a transition.
type InstanceRepository struct {
	pool *pgxpool.Pool
}

func NewInstanceRepository(pool *pgxpool.Pool) *InstanceRepository {
	return &InstanceRepository{pool: pool}
}

// Create inserts a new instance in provisioning status
func (r *InstanceRepository) Create(ctx context.Context, inst *models.Instance) error {
	query := `
		INSERT INTO provisioning.instances (
			id, owner_ref, plan_tier, region, hostname, machine_type,
			status, provision_started_at, readiness_secret, health
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		inst.ID, inst.OwnerRef, inst.PlanTier, inst.Region, inst.Hostname, inst.MachineType,
		inst.Status, inst.ProvisionStartedAt, inst.ReadinessSecret, inst.Health,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}

	return nil
}

// GetByID retrieves an instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `SELECT` + instanceColumns + `FROM provisioning.instances WHERE id = $1`
	return r.scanInstance(r.pool.QueryRow(ctx, query, id))
}

// GetLatestByOwner retrieves the newest non-terminated instance for an owner
func (r *InstanceRepository) GetLatestByOwner(ctx context.Context, ownerRef string) (*models.Instance, error) {
	query := `SELECT` + instanceColumns + `
		FROM provisioning.instances
		WHERE owner_ref = $1 AND status != 'terminated'
		ORDER BY created_at DESC
		LIMIT 1`
	return r.scanInstance(r.pool.QueryRow(ctx, query, ownerRef))
}

// ListByOwner retrieves all instances for an owner
func (r *InstanceRepository) ListByOwner(ctx context.Context, ownerRef string) ([]*models.Instance, error) {
	query := `SELECT` + instanceColumns + `
		FROM provisioning.instances
		WHERE owner_ref = $1
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, ownerRef)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// ListByStatus retrieves all instances in the given status. Used by the
// watchdog scans.
func (r *InstanceRepository) ListByStatus(ctx context.Context, status string) ([]*models.Instance, error) {
	query := `SELECT` + instanceColumns + `
		FROM provisioning.instances
		WHERE status = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// HostnameTaken reports whether hostname is held by a live instance.
// Terminated and rolled-back rows keep their hostname for audit but do not
// block reuse.
func (r *InstanceRepository) HostnameTaken(ctx context.Context, hostname string) (bool, error) {
	query := `
		SELECT COUNT(*) FROM provisioning.instances
		WHERE hostname = $1 AND status NOT IN ('terminated', 'rolled_back')
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, hostname).Scan(&count); err != nil {
		return false, fmt.Errorf("count hostname: %w", err)
	}
	return count > 0, nil
}

// SetProvisionLinkage stores the compute and DNS ids as a unit once the
// happy-path create has bound both.
func (r *InstanceRepository) SetProvisionLinkage(ctx context.Context, id, computeID, publicIP, dnsRecordID string) error {
	query := `
		UPDATE provisioning.instances
		SET compute_id = $1, public_ip = $2, dns_record_id = $3, updated_at = now()
		WHERE id = $4
	`

	_, err := r.pool.Exec(ctx, query, computeID, publicIP, dnsRecordID, id)
	if err != nil {
		return fmt.Errorf("set linkage: %w", err)
	}
	return nil
}

// ClearLinkage removes the provider linkage after compensation and records
// the rollback diagnostic.
func (r *InstanceRepository) ClearLinkage(ctx context.Context, id string, errorMsg *string) error {
	query := `
		UPDATE provisioning.instances
		SET compute_id = NULL, public_ip = NULL, dns_record_id = NULL,
		    error_message = $1, updated_at = now()
		WHERE id = $2
	`

	_, err := r.pool.Exec(ctx, query, errorMsg, id)
	if err != nil {
		return fmt.Errorf("clear linkage: %w", err)
	}
	return nil
}

// TransitionStatus moves id from one status to another, guarded. Returns
// false when the row was no longer in the expected status.
func (r *InstanceRepository) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	query := `
		UPDATE provisioning.instances
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`

	tag, err := r.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSuspended transitions active -> suspended with a timestamp
func (r *InstanceRepository) MarkSuspended(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE provisioning.instances
		SET status = 'suspended', suspended_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'active'
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark suspended: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkUnsuspended transitions suspended -> active and clears the timestamp
func (r *InstanceRepository) MarkUnsuspended(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE provisioning.instances
		SET status = 'active', suspended_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'suspended'
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark unsuspended: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkTerminated transitions any non-terminated status to terminated
func (r *InstanceRepository) MarkTerminated(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE provisioning.instances
		SET status = 'terminated', terminated_at = now(), updated_at = now()
		WHERE id = $1 AND status != 'terminated'
	`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("mark terminated: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkError transitions from -> error with a diagnostic message
func (r *InstanceRepository) MarkError(ctx context.Context, id, from, errorMsg string) (bool, error) {
	query := `
		UPDATE provisioning.instances
		SET status = 'error', error_message = $1, updated_at = now()
		WHERE id = $2 AND status = $3
	`

	tag, err := r.pool.Exec(ctx, query, errorMsg, id, from)
	if err != nil {
		return false, fmt.Errorf("mark error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimRollback is the single-writer guard for compensation: it transitions
// from -> rolled_back and stamps rolled_back_at. A caller that loses the
// race gets false and must not touch provider resources.
func (r *InstanceRepository) ClaimRollback(ctx context.Context, id, from string) (bool, error) {
	query := `
		UPDATE provisioning.instances
		SET status = 'rolled_back', rolled_back_at = now(), updated_at = now()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, from)
	if err != nil {
		return false, fmt.Errorf("claim rollback: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkReady consumes the readiness secret and transitions provisioning ->
// active, all in one guarded write.
func (r *InstanceRepository) MarkReady(ctx context.Context, id, reportedVersion string, reportedPort int) (bool, error) {
	query := `
		UPDATE provisioning.instances
		SET status = 'active', provision_completed_at = now(), secret_consumed_at = now(),
		    reported_version = $1, reported_port = $2, updated_at = now()
		WHERE id = $3 AND status = 'provisioning' AND secret_consumed_at IS NULL
	`

	tag, err := r.pool.Exec(ctx, query, reportedVersion, reportedPort, id)
	if err != nil {
		return false, fmt.Errorf("mark ready: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinishResize transitions resizing -> active with the new plan
func (r *InstanceRepository) FinishResize(ctx context.Context, id, planTier, machineType string) (bool, error) {
	query := `
		UPDATE provisioning.instances
		SET status = 'active', plan_tier = $1, machine_type = $2, updated_at = now()
		WHERE id = $3 AND status = 'resizing'
	`

	tag, err := r.pool.Exec(ctx, query, planTier, machineType, id)
	if err != nil {
		return false, fmt.Errorf("finish resize: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordHealth stores one probe outcome and the derived classification
func (r *InstanceRepository) RecordHealth(ctx context.Context, id, health string, passed bool, consecutiveFailures int) error {
	query := `
		UPDATE provisioning.instances
		SET health = $1,
		    last_health_check_at = now(),
		    health_checks_total = health_checks_total + 1,
		    health_checks_passed = health_checks_passed + CASE WHEN $2 THEN 1 ELSE 0 END,
		    consecutive_failures = $3,
		    updated_at = now()
		WHERE id = $4
	`

	_, err := r.pool.Exec(ctx, query, health, passed, consecutiveFailures, id)
	if err != nil {
		return fmt.Errorf("record health: %w", err)
	}
	return nil
}

// Delete removes the registry row. Only full rollback calls this.
func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM provisioning.instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *InstanceRepository) scanInstance(row pgx.Row) (*models.Instance, error) {
	inst := &models.Instance{}
	err := row.Scan(
		&inst.ID, &inst.OwnerRef, &inst.PlanTier, &inst.Region, &inst.Hostname, &inst.MachineType,
		&inst.ComputeID, &inst.PublicIP, &inst.DNSRecordID,
		&inst.Status, &inst.ErrorMessage,
		&inst.ProvisionStartedAt, &inst.ProvisionCompletedAt, &inst.SuspendedAt, &inst.TerminatedAt, &inst.RolledBackAt,
		&inst.ReadinessSecret, &inst.SecretConsumedAt, &inst.ReportedVersion, &inst.ReportedPort,
		&inst.Health, &inst.LastHealthCheckAt, &inst.HealthChecksTotal, &inst.HealthChecksPassed, &inst.ConsecutiveFailures,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	return inst, nil
}

func (r *InstanceRepository) scanInstances(rows pgx.Rows) ([]*models.Instance, error) {
	var instances []*models.Instance
	for rows.Next() {
		inst := &models.Instance{}
		err := rows.Scan(
			&inst.ID, &inst.OwnerRef, &inst.PlanTier, &inst.Region, &inst.Hostname, &inst.MachineType,
			&inst.ComputeID, &inst.PublicIP, &inst.DNSRecordID,
			&inst.Status, &inst.ErrorMessage,
			&inst.ProvisionStartedAt, &inst.ProvisionCompletedAt, &inst.SuspendedAt, &inst.TerminatedAt, &inst.RolledBackAt,
			&inst.ReadinessSecret, &inst.SecretConsumedAt, &inst.ReportedVersion, &inst.ReportedPort,
			&inst.Health, &inst.LastHealthCheckAt, &inst.HealthChecksTotal, &inst.HealthChecksPassed, &inst.ConsecutiveFailures,
			&inst.CreatedAt, &inst.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan instance row: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}
