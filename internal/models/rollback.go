package models

import "time"

// Rollback levels. Teardown is not a compensation level proper: it records
// the step outcomes of a customer-initiated Terminate in the same
// append-only log.
const (
	RollbackSoft     = "soft"
	RollbackPartial  = "partial"
	RollbackFull     = "full"
	RollbackTeardown = "teardown"
)

// Rollback step outcome constants
const (
	StepDNSDeleted          = "dns_deleted"
	StepDNSDeleteFailed     = "dns_delete_failed"
	StepComputeDeleted      = "compute_deleted"
	StepComputeDeleteFailed = "compute_delete_failed"
	StepIdentityPurged      = "identity_purged"
	StepIdentityPurgeFailed = "identity_purge_failed"
	StepRegistryUpdated     = "registry_updated"
	StepRegistryDeleted     = "registry_deleted"
)

// RollbackLogEntry is an append-only audit record of one rollback attempt.
// It is written for every attempt, including failed ones, and is never
// mutated after insertion. The store is not keyed by instance existence, so
// entries survive a full rollback that deletes the instance row.
type RollbackLogEntry struct {
	ID           string
	InstanceID   string
	Level        string
	Reason       string
	Steps        []string
	ErrorMessage *string
	CreatedAt    time.Time
}
