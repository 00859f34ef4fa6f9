package service

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/models"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/provider"
)

// RollbackService implements the three compensation levels. Every attempt
// claims the instance first through a guarded status transition, so
// concurrent watchdog workers and API calls cannot double-trigger the same
// rollback: the loser of the claim no-ops.
type RollbackService struct {
	instances InstanceStore
	rollbacks RollbackLogStore
	compute   provider.ComputeProvider
	dns       provider.DNSProvider
	billing   Notifier
}

// NewRollbackService creates a new rollback manager
func NewRollbackService(
	instances InstanceStore,
	rollbacks RollbackLogStore,
	compute provider.ComputeProvider,
	dns provider.DNSProvider,
	billing Notifier,
) *RollbackService {
	return &RollbackService{
		instances: instances,
		rollbacks: rollbacks,
		compute:   compute,
		dns:       dns,
		billing:   billing,
	}
}

// Soft marks the instance errored without touching any provider. Used when
// no external resource is confirmed to exist.
func (s *RollbackService) Soft(ctx context.Context, inst *models.Instance, reason string) error {
	log.Printf("[Rollback] Soft rollback for %s: %s", inst.ID, reason)

	won, err := s.instances.MarkError(ctx, inst.ID, inst.Status, reason)
	if err != nil {
		s.writeLog(ctx, inst.ID, models.RollbackSoft, reason, nil, err)
		return fmt.Errorf("mark error: %w", err)
	}
	if !won {
		log.Printf("[Rollback] Soft rollback for %s lost the transition race, no-op", inst.ID)
		return nil
	}

	s.writeLog(ctx, inst.ID, models.RollbackSoft, reason, []string{models.StepRegistryUpdated}, nil)
	return nil
}

// Partial deletes whichever provider resources the instance is linked to,
// clears the linkage and leaves the row in rolled_back for audit. Step
// failures are recorded but never abort the remaining steps. The provider
// linkage is taken from inst itself, so a caller holding ids that were never
// persisted (DNS failed mid-create) still gets its compute resource cleaned
// up.
func (s *RollbackService) Partial(ctx context.Context, inst *models.Instance, reason string) error {
	claimed, err := s.instances.ClaimRollback(ctx, inst.ID, inst.Status)
	if err != nil {
		s.writeLog(ctx, inst.ID, models.RollbackPartial, reason, nil, err)
		return fmt.Errorf("claim rollback: %w", err)
	}
	if !claimed {
		log.Printf("[Rollback] Partial rollback for %s lost the transition race, no-op", inst.ID)
		return nil
	}

	log.Printf("[Rollback] Partial rollback for %s: %s", inst.ID, reason)

	var steps []string
	var firstErr error

	if inst.DNSRecordID != nil && *inst.DNSRecordID != "" {
		if err := s.dns.DeleteRecord(ctx, *inst.DNSRecordID); err != nil {
			log.Printf("[Rollback] DNS record delete failed for %s: %v", inst.ID, err)
			steps = append(steps, models.StepDNSDeleteFailed)
			firstErr = err
		} else {
			steps = append(steps, models.StepDNSDeleted)
		}
	}

	if inst.ComputeID != nil && *inst.ComputeID != "" {
		if err := s.compute.Delete(ctx, *inst.ComputeID); err != nil {
			log.Printf("[Rollback] Compute delete failed for %s: %v", inst.ID, err)
			steps = append(steps, models.StepComputeDeleteFailed)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			steps = append(steps, models.StepComputeDeleted)
		}
	}

	msg := reason
	if err := s.instances.ClearLinkage(ctx, inst.ID, &msg); err != nil {
		log.Printf("[Rollback] Clear linkage failed for %s: %v", inst.ID, err)
		if firstErr == nil {
			firstErr = err
		}
	} else {
		steps = append(steps, models.StepRegistryUpdated)
	}

	s.writeLog(ctx, inst.ID, models.RollbackPartial, reason, steps, firstErr)
	return nil
}

// Full erases every trace of the instance: DNS record, compute resource and
// the billing identity record are deleted in parallel, each outcome
// collected independently, and the registry row itself is removed last. The
// log entry is written to the append-only store, which has no key into the
// instances table, so the audit trail survives the row deletion.
func (s *RollbackService) Full(ctx context.Context, inst *models.Instance, reason string) error {
	claimed, err := s.instances.ClaimRollback(ctx, inst.ID, inst.Status)
	if err != nil {
		s.writeLog(ctx, inst.ID, models.RollbackFull, reason, nil, err)
		return fmt.Errorf("claim rollback: %w", err)
	}
	if !claimed {
		log.Printf("[Rollback] Full rollback for %s lost the transition race, no-op", inst.ID)
		return nil
	}

	log.Printf("[Rollback] Full rollback for %s: %s", inst.ID, reason)

	var mu sync.Mutex
	var steps []string
	var firstErr error

	record := func(step string, err error) {
		mu.Lock()
		defer mu.Unlock()
		steps = append(steps, step)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if inst.DNSRecordID != nil && *inst.DNSRecordID != "" {
		recordID := *inst.DNSRecordID
		g.Go(func() error {
			if err := s.dns.DeleteRecord(gctx, recordID); err != nil {
				log.Printf("[Rollback] DNS record delete failed for %s: %v", inst.ID, err)
				record(models.StepDNSDeleteFailed, err)
			} else {
				record(models.StepDNSDeleted, nil)
			}
			return nil
		})
	}

	if inst.ComputeID != nil && *inst.ComputeID != "" {
		computeID := *inst.ComputeID
		g.Go(func() error {
			if err := s.compute.Delete(gctx, computeID); err != nil {
				log.Printf("[Rollback] Compute delete failed for %s: %v", inst.ID, err)
				record(models.StepComputeDeleteFailed, err)
			} else {
				record(models.StepComputeDeleted, nil)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := s.billing.PurgeIdentity(gctx, inst.OwnerRef, inst.ID); err != nil {
			log.Printf("[Rollback] Identity purge failed for %s: %v", inst.ID, err)
			record(models.StepIdentityPurgeFailed, err)
		} else {
			record(models.StepIdentityPurged, nil)
		}
		return nil
	})

	// The goroutines swallow their errors deliberately: one failing step
	// must not cancel the others.
	_ = g.Wait()

	if err := s.instances.Delete(ctx, inst.ID); err != nil {
		log.Printf("[Rollback] Registry delete failed for %s: %v", inst.ID, err)
		if firstErr == nil {
			firstErr = err
		}
	} else {
		steps = append(steps, models.StepRegistryDeleted)
	}

	s.writeLog(ctx, inst.ID, models.RollbackFull, reason, steps, firstErr)
	return nil
}

// writeLog appends the audit entry for one rollback attempt. It is isolated
// from the rollback's own outcome: a failed write is logged and dropped,
// never propagated.
func (s *RollbackService) writeLog(ctx context.Context, instanceID, level, reason string, steps []string, stepErr error) {
	entry := &models.RollbackLogEntry{
		InstanceID: instanceID,
		Level:      level,
		Reason:     reason,
		Steps:      steps,
	}
	if steps == nil {
		entry.Steps = []string{}
	}
	if stepErr != nil {
		msg := stepErr.Error()
		entry.ErrorMessage = &msg
	}

	if err := s.rollbacks.Create(ctx, entry); err != nil {
		log.Printf("[Rollback] Failed to write rollback log for %s: %v", instanceID, err)
	}
}
