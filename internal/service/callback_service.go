package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/client"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/models"
)

// CallbackService applies the one-time readiness signal a provisioned server
// reports about itself. The secret comparison is constant-time and a
// repeated call with an already-consumed secret succeeds without mutating
// state, so provider-side retries of the callback are harmless.
type CallbackService struct {
	instances InstanceStore
	billing   Notifier
}

// NewCallbackService creates a new readiness callback handler
func NewCallbackService(instances InstanceStore, billing Notifier) *CallbackService {
	return &CallbackService{instances: instances, billing: billing}
}

// HandleReady authenticates and applies one readiness report.
func (s *CallbackService) HandleReady(ctx context.Context, instanceID, secret string, req *models.ReadinessCallbackRequest) (*models.Instance, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(secret), []byte(inst.ReadinessSecret)) != 1 {
		log.Printf("[Callback] Rejected readiness report for %s: secret mismatch", instanceID)
		return nil, ErrUnauthorized
	}

	if inst.SecretConsumedAt != nil {
		log.Printf("[Callback] Repeated readiness report for %s, already active", instanceID)
		return inst, nil
	}

	won, err := s.instances.MarkReady(ctx, instanceID, req.ReportedVersion, req.ReportedPort)
	if err != nil {
		return nil, err
	}
	if !won {
		// Either a concurrent callback consumed the secret first, which is
		// the idempotent success case, or the instance left provisioning.
		inst, err = s.instances.GetByID(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if inst.SecretConsumedAt != nil {
			return inst, nil
		}
		return nil, fmt.Errorf("%w: instance is in status %q, not provisioning", ErrInvalidState, inst.Status)
	}

	inst, err = s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	log.Printf("[Callback] Instance %s is active (version %s, port %d)",
		instanceID, req.ReportedVersion, req.ReportedPort)

	callback := &client.InstanceStatusCallback{
		OwnerRef:   inst.OwnerRef,
		InstanceID: inst.ID,
		Status:     inst.Status,
		PublicIP:   inst.PublicIP,
	}
	if err := s.billing.NotifyInstanceStatus(ctx, callback); err != nil {
		log.Printf("[Callback] Failed to notify billing for %s: %v", instanceID, err)
	}

	return inst, nil
}
