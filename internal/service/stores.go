package service

import (
	"context"
	"errors"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/client"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/models"
)

// Service-level sentinel errors
var (
	ErrValidation     = errors.New("validation failed")
	ErrInvalidState   = errors.New("invalid instance state")
	ErrNotProvisioned = errors.New("resource not provisioned")
	ErrUnauthorized   = errors.New("invalid readiness secret")
	ErrNotConfirmed   = errors.New("purge not confirmed")
)

// InstanceStore is the registry access the services need. Implemented by
// repository.InstanceRepository; tests substitute an in-memory fake.
type InstanceStore interface {
	Create(ctx context.Context, inst *models.Instance) error
	GetByID(ctx context.Context, id string) (*models.Instance, error)
	GetLatestByOwner(ctx context.Context, ownerRef string) (*models.Instance, error)
	ListByOwner(ctx context.Context, ownerRef string) ([]*models.Instance, error)
	ListByStatus(ctx context.Context, status string) ([]*models.Instance, error)
	HostnameTaken(ctx context.Context, hostname string) (bool, error)
	SetProvisionLinkage(ctx context.Context, id, computeID, publicIP, dnsRecordID string) error
	ClearLinkage(ctx context.Context, id string, errorMsg *string) error
	TransitionStatus(ctx context.Context, id, from, to string) (bool, error)
	MarkSuspended(ctx context.Context, id string) (bool, error)
	MarkUnsuspended(ctx context.Context, id string) (bool, error)
	MarkTerminated(ctx context.Context, id string) (bool, error)
	MarkError(ctx context.Context, id, from, errorMsg string) (bool, error)
	ClaimRollback(ctx context.Context, id, from string) (bool, error)
	MarkReady(ctx context.Context, id, reportedVersion string, reportedPort int) (bool, error)
	FinishResize(ctx context.Context, id, planTier, machineType string) (bool, error)
	RecordHealth(ctx context.Context, id, health string, passed bool, consecutiveFailures int) error
	Delete(ctx context.Context, id string) error
}

// RollbackLogStore is the append-only rollback audit trail
type RollbackLogStore interface {
	Create(ctx context.Context, entry *models.RollbackLogEntry) error
	ListByInstance(ctx context.Context, instanceID string, limit int) ([]*models.RollbackLogEntry, error)
}

// Notifier pushes status changes to the billing/order-intake collaborator
type Notifier interface {
	NotifyInstanceStatus(ctx context.Context, callback *client.InstanceStatusCallback) error
	PurgeIdentity(ctx context.Context, ownerRef, instanceID string) error
}

// Prober is the watchdog's reachability check
type Prober interface {
	Probe(ctx context.Context, address string) bool
}

// RecordVerifier confirms a created DNS record resolves
type RecordVerifier interface {
	Verify(fqdn, address string) (bool, error)
}
