package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/client"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/config"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/models"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/provider"
)

// ProvisionService drives the instance lifecycle saga. Create binds the
// compute resource first and the DNS record second (DNS needs the assigned
// address), and hands any failure to the rollback manager instead of leaving
// a dangling resource. All other operations are serialized per instance.
type ProvisionService struct {
	cfg       *config.Config
	instances InstanceStore
	rollbacks RollbackLogStore
	compute   provider.ComputeProvider
	dns       provider.DNSProvider
	rollback  *RollbackService
	billing   Notifier
	verifier  RecordVerifier
	locks     *instanceLocks
	settle    func(time.Duration)
}

// NewProvisionService creates a new provisioner. verifier may be nil when
// record verification is disabled.
func NewProvisionService(
	cfg *config.Config,
	instances InstanceStore,
	rollbacks RollbackLogStore,
	compute provider.ComputeProvider,
	dns provider.DNSProvider,
	rollback *RollbackService,
	billing Notifier,
	verifier RecordVerifier,
) *ProvisionService {
	return &ProvisionService{
		cfg:       cfg,
		instances: instances,
		rollbacks: rollbacks,
		compute:   compute,
		dns:       dns,
		rollback:  rollback,
		billing:   billing,
		verifier:  verifier,
		locks:     newInstanceLocks(),
		settle:    time.Sleep,
	}
}

// Create validates the request, persists the instance in provisioning and
// runs the create saga: compute resource, then DNS record, then linkage.
// It returns as soon as both provider resources are bound; readiness arrives
// later via the callback or the watchdog times the instance out.
func (s *ProvisionService) Create(ctx context.Context, req *models.ProvisionRequest) (*models.ProvisionResponse, error) {
	log.Printf("[Provision] Create requested: owner=%s plan=%s region=%s", req.OwnerRef, req.PlanTier, req.Region)

	if !models.ValidPlan(req.PlanTier) {
		return nil, fmt.Errorf("%w: unknown plan tier %q", ErrValidation, req.PlanTier)
	}
	if !models.ValidRegion(req.Region) {
		return nil, fmt.Errorf("%w: unknown region %q", ErrValidation, req.Region)
	}

	hostname := req.Hostname
	if hostname == "" {
		hostname = generateHostname()
	}
	if err := models.ValidateHostname(hostname); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	taken, err := s.instances.HostnameTaken(ctx, hostname)
	if err != nil {
		return nil, fmt.Errorf("check hostname: %w", err)
	}
	if taken {
		return nil, fmt.Errorf("%w: hostname %q is already in use", ErrValidation, hostname)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate readiness secret: %w", err)
	}

	inst := &models.Instance{
		ID:                 uuid.New().String(),
		OwnerRef:           req.OwnerRef,
		PlanTier:           req.PlanTier,
		Region:             req.Region,
		Hostname:           hostname,
		MachineType:        models.PlanMachineTypes[req.PlanTier],
		Status:             models.StatusProvisioning,
		ProvisionStartedAt: time.Now(),
		ReadinessSecret:    secret,
		Health:             models.HealthUnknown,
	}

	if err := s.instances.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("create instance record: %w", err)
	}

	s.notify(ctx, inst, nil)

	res, err := s.compute.Create(ctx, provider.CreateSpec{
		Label:       fmt.Sprintf("%s-%s", hostname, inst.ID[:8]),
		Region:      models.Regions[req.Region],
		MachineType: inst.MachineType,
	})
	if err != nil {
		reason := fmt.Sprintf("compute create failed: %v", err)
		if res != nil && res.ResourceID != "" {
			// The vendor allocated an id before rejecting; clean it up.
			computeID := res.ResourceID
			inst.ComputeID = &computeID
			if rerr := s.rollback.Partial(ctx, inst, reason); rerr != nil {
				log.Printf("[Provision] Partial rollback failed for %s: %v", inst.ID, rerr)
			}
		} else {
			if rerr := s.rollback.Soft(ctx, inst, reason); rerr != nil {
				log.Printf("[Provision] Soft rollback failed for %s: %v", inst.ID, rerr)
			}
		}
		return nil, fmt.Errorf("create compute resource: %w", err)
	}

	fqdn := hostname + "." + s.cfg.DNS.BaseDomain
	recordID, err := s.dns.CreateRecord(ctx, fqdn, res.Address)
	if err != nil {
		computeID := res.ResourceID
		inst.ComputeID = &computeID
		inst.PublicIP = &res.Address
		if rerr := s.rollback.Partial(ctx, inst, fmt.Sprintf("dns create failed: %v", err)); rerr != nil {
			log.Printf("[Provision] Partial rollback failed for %s: %v", inst.ID, rerr)
		}
		return nil, fmt.Errorf("create dns record: %w", err)
	}

	if err := s.instances.SetProvisionLinkage(ctx, inst.ID, res.ResourceID, res.Address, recordID); err != nil {
		computeID := res.ResourceID
		inst.ComputeID = &computeID
		inst.PublicIP = &res.Address
		inst.DNSRecordID = &recordID
		if rerr := s.rollback.Partial(ctx, inst, fmt.Sprintf("persist linkage failed: %v", err)); rerr != nil {
			log.Printf("[Provision] Partial rollback failed for %s: %v", inst.ID, rerr)
		}
		return nil, fmt.Errorf("persist provider linkage: %w", err)
	}

	if s.verifier != nil {
		// Propagation lag is normal; a miss here is informational only.
		if ok, verr := s.verifier.Verify(fqdn, res.Address); verr != nil {
			log.Printf("[Provision] Record verification errored for %s: %v", fqdn, verr)
		} else if !ok {
			log.Printf("[Provision] Record %s not yet resolving to %s", fqdn, res.Address)
		}
	}

	log.Printf("[Provision] Instance %s provisioned: compute=%s ip=%s dns=%s, awaiting readiness",
		inst.ID, res.ResourceID, res.Address, recordID)

	return &models.ProvisionResponse{
		InstanceID:            inst.ID,
		Status:                models.StatusProvisioning,
		Subdomain:             fqdn,
		EstimatedReadySeconds: s.cfg.Watchdog.EstimatedReadySeconds,
		Message:               "Provisioning started",
	}, nil
}

// Suspend powers the server off and marks the instance suspended
func (s *ProvisionService) Suspend(ctx context.Context, id string) (*models.Instance, error) {
	release := s.locks.acquire(id)
	defer release()

	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inst.Provisioned() {
		return nil, ErrNotProvisioned
	}
	if inst.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: cannot suspend instance in status %q", ErrInvalidState, inst.Status)
	}

	if err := s.compute.PowerOff(ctx, *inst.ComputeID); err != nil {
		return nil, fmt.Errorf("power off: %w", err)
	}

	won, err := s.instances.MarkSuspended(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("%w: instance left active status during suspend", ErrInvalidState)
	}

	log.Printf("[Provision] Instance %s suspended", id)
	inst, err = s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, inst, nil)
	return inst, nil
}

// Unsuspend powers the server back on and returns the instance to active
func (s *ProvisionService) Unsuspend(ctx context.Context, id string) (*models.Instance, error) {
	release := s.locks.acquire(id)
	defer release()

	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inst.Provisioned() {
		return nil, ErrNotProvisioned
	}
	if inst.Status != models.StatusSuspended {
		return nil, fmt.Errorf("%w: cannot unsuspend instance in status %q", ErrInvalidState, inst.Status)
	}

	if err := s.compute.PowerOn(ctx, *inst.ComputeID); err != nil {
		return nil, fmt.Errorf("power on: %w", err)
	}

	won, err := s.instances.MarkUnsuspended(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("%w: instance left suspended status during unsuspend", ErrInvalidState)
	}

	log.Printf("[Provision] Instance %s unsuspended", id)
	inst, err = s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, inst, nil)
	return inst, nil
}

// Terminate is the customer-initiated teardown. Provider deletions are best
// effort: each failure is caught independently and the instance reaches
// terminated regardless, because the customer has asked to exit. The step
// outcomes land in the teardown log.
func (s *ProvisionService) Terminate(ctx context.Context, id, reason string) (*models.Instance, error) {
	release := s.locks.acquire(id)
	defer release()

	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status == models.StatusTerminated {
		return nil, fmt.Errorf("%w: instance is already terminated", ErrInvalidState)
	}
	if reason == "" {
		reason = "customer requested termination"
	}

	log.Printf("[Provision] Terminating instance %s: %s", id, reason)

	var steps []string
	var firstErr error

	if inst.DNSRecordID != nil && *inst.DNSRecordID != "" {
		if err := s.dns.DeleteRecord(ctx, *inst.DNSRecordID); err != nil {
			log.Printf("[Provision] Terminate: DNS record delete failed for %s: %v", id, err)
			steps = append(steps, models.StepDNSDeleteFailed)
			firstErr = err
		} else {
			steps = append(steps, models.StepDNSDeleted)
		}
	}

	if inst.ComputeID != nil && *inst.ComputeID != "" {
		if err := s.compute.Delete(ctx, *inst.ComputeID); err != nil {
			log.Printf("[Provision] Terminate: compute delete failed for %s: %v", id, err)
			steps = append(steps, models.StepComputeDeleteFailed)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			steps = append(steps, models.StepComputeDeleted)
		}
	}

	won, err := s.instances.MarkTerminated(ctx, id)
	if err != nil {
		return nil, err
	}
	if won {
		steps = append(steps, models.StepRegistryUpdated)
	}

	entry := &models.RollbackLogEntry{
		InstanceID: id,
		Level:      models.RollbackTeardown,
		Reason:     reason,
		Steps:      steps,
	}
	if firstErr != nil {
		msg := firstErr.Error()
		entry.ErrorMessage = &msg
	}
	if err := s.rollbacks.Create(ctx, entry); err != nil {
		log.Printf("[Provision] Failed to write teardown log for %s: %v", id, err)
	}

	log.Printf("[Provision] Instance %s terminated", id)
	inst, err = s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, inst, nil)
	return inst, nil
}

// Resize moves an active instance to a new plan tier. A provider failure
// parks the instance in error for the watchdog or an operator to recover.
func (s *ProvisionService) Resize(ctx context.Context, id, newPlan string) (*models.Instance, error) {
	if !models.ValidPlan(newPlan) {
		return nil, fmt.Errorf("%w: unknown plan tier %q", ErrValidation, newPlan)
	}

	release := s.locks.acquire(id)
	defer release()

	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inst.Provisioned() {
		return nil, ErrNotProvisioned
	}
	if inst.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: cannot resize instance in status %q", ErrInvalidState, inst.Status)
	}

	won, err := s.instances.TransitionStatus(ctx, id, models.StatusActive, models.StatusResizing)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("%w: instance left active status during resize", ErrInvalidState)
	}

	machineType := models.PlanMachineTypes[newPlan]
	if err := s.compute.Resize(ctx, *inst.ComputeID, machineType); err != nil {
		if _, merr := s.instances.MarkError(ctx, id, models.StatusResizing, fmt.Sprintf("resize failed: %v", err)); merr != nil {
			log.Printf("[Provision] Failed to mark %s errored after resize failure: %v", id, merr)
		}
		return nil, fmt.Errorf("provider resize: %w", err)
	}

	if _, err := s.instances.FinishResize(ctx, id, newPlan, machineType); err != nil {
		return nil, err
	}

	log.Printf("[Provision] Instance %s resized to %s (%s)", id, newPlan, machineType)
	return s.instances.GetByID(ctx, id)
}

// Reboot power-cycles an active instance with a short settle delay between
// off and on.
func (s *ProvisionService) Reboot(ctx context.Context, id string) (*models.Instance, error) {
	release := s.locks.acquire(id)
	defer release()

	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !inst.Provisioned() {
		return nil, ErrNotProvisioned
	}
	if inst.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: cannot reboot instance in status %q", ErrInvalidState, inst.Status)
	}

	won, err := s.instances.TransitionStatus(ctx, id, models.StatusActive, models.StatusRebooting)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, fmt.Errorf("%w: instance left active status during reboot", ErrInvalidState)
	}

	if err := s.compute.PowerOff(ctx, *inst.ComputeID); err != nil {
		if _, merr := s.instances.MarkError(ctx, id, models.StatusRebooting, fmt.Sprintf("reboot power off failed: %v", err)); merr != nil {
			log.Printf("[Provision] Failed to mark %s errored after reboot failure: %v", id, merr)
		}
		return nil, fmt.Errorf("power off: %w", err)
	}

	s.settle(5 * time.Second)

	if err := s.compute.PowerOn(ctx, *inst.ComputeID); err != nil {
		if _, merr := s.instances.MarkError(ctx, id, models.StatusRebooting, fmt.Sprintf("reboot power on failed: %v", err)); merr != nil {
			log.Printf("[Provision] Failed to mark %s errored after reboot failure: %v", id, merr)
		}
		return nil, fmt.Errorf("power on: %w", err)
	}

	if _, err := s.instances.TransitionStatus(ctx, id, models.StatusRebooting, models.StatusActive); err != nil {
		return nil, err
	}

	log.Printf("[Provision] Instance %s rebooted", id)
	return s.instances.GetByID(ctx, id)
}

// Purge runs a caller-confirmed full rollback: the only path that deletes
// the registry row.
func (s *ProvisionService) Purge(ctx context.Context, id string, req *models.PurgeRequest) error {
	if !req.Confirm {
		return ErrNotConfirmed
	}

	release := s.locks.acquire(id)
	defer release()

	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return err
	}

	reason := req.Reason
	if reason == "" {
		reason = "caller-confirmed purge"
	}
	return s.rollback.Full(ctx, inst, reason)
}

// GetStatus returns the API view of one instance
func (s *ProvisionService) GetStatus(ctx context.Context, id string) (*models.InstanceStatusResponse, error) {
	inst, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.toStatusResponse(inst), nil
}

// ListByOwner returns all instances for an owner
func (s *ProvisionService) ListByOwner(ctx context.Context, ownerRef string) ([]*models.InstanceStatusResponse, error) {
	instances, err := s.instances.ListByOwner(ctx, ownerRef)
	if err != nil {
		return nil, err
	}

	var responses []*models.InstanceStatusResponse
	for _, inst := range instances {
		responses = append(responses, s.toStatusResponse(inst))
	}
	return responses, nil
}

// GetLatestByOwner returns the owner's newest non-terminated instance
func (s *ProvisionService) GetLatestByOwner(ctx context.Context, ownerRef string) (*models.InstanceStatusResponse, *models.CreationProgress, error) {
	inst, err := s.instances.GetLatestByOwner(ctx, ownerRef)
	if err != nil {
		return nil, nil, err
	}

	var progress *models.CreationProgress
	if inst.Status == models.StatusProvisioning {
		progress = buildCreationProgress(inst)
	}
	return s.toStatusResponse(inst), progress, nil
}

// GetRollbackLog returns the rollback/teardown trail for an instance
func (s *ProvisionService) GetRollbackLog(ctx context.Context, id string, limit int) ([]*models.RollbackLogResponse, error) {
	entries, err := s.rollbacks.ListByInstance(ctx, id, limit)
	if err != nil {
		return nil, err
	}

	var responses []*models.RollbackLogResponse
	for _, entry := range entries {
		responses = append(responses, &models.RollbackLogResponse{
			ID:           entry.ID,
			InstanceID:   entry.InstanceID,
			Level:        entry.Level,
			Reason:       entry.Reason,
			Steps:        entry.Steps,
			ErrorMessage: entry.ErrorMessage,
			CreatedAt:    entry.CreatedAt.Format(time.RFC3339),
		})
	}
	return responses, nil
}

// Catalog returns the closed plan and region enumerations
func (s *ProvisionService) Catalog() *models.CatalogResponse {
	resp := &models.CatalogResponse{}
	for _, tier := range []string{models.PlanStarter, models.PlanProfessional, models.PlanEnterprise} {
		resp.Plans = append(resp.Plans, models.PlanInfo{Tier: tier, MachineType: models.PlanMachineTypes[tier]})
	}
	for code, providerCode := range models.Regions {
		resp.Regions = append(resp.Regions, models.RegionInfo{Code: code, ProviderCode: providerCode})
	}
	return resp
}

// notify pushes the current status to billing; failures are logged, never
// propagated into the saga.
func (s *ProvisionService) notify(ctx context.Context, inst *models.Instance, errorMsg *string) {
	callback := &client.InstanceStatusCallback{
		OwnerRef:     inst.OwnerRef,
		InstanceID:   inst.ID,
		Status:       inst.Status,
		PublicIP:     inst.PublicIP,
		Subdomain:    inst.Hostname + "." + s.cfg.DNS.BaseDomain,
		ErrorMessage: errorMsg,
	}
	if err := s.billing.NotifyInstanceStatus(ctx, callback); err != nil {
		log.Printf("[Provision] Failed to notify billing for %s: %v", inst.ID, err)
	}
}

func (s *ProvisionService) toStatusResponse(inst *models.Instance) *models.InstanceStatusResponse {
	resp := &models.InstanceStatusResponse{
		InstanceID:         inst.ID,
		OwnerRef:           inst.OwnerRef,
		PlanTier:           inst.PlanTier,
		Region:             inst.Region,
		Subdomain:          inst.Hostname + "." + s.cfg.DNS.BaseDomain,
		MachineType:        inst.MachineType,
		Status:             inst.Status,
		PublicIP:           inst.PublicIP,
		Health:             inst.Health,
		UptimePercent:      inst.UptimeRatio() * 100,
		ProvisionStartedAt: inst.ProvisionStartedAt.Format(time.RFC3339),
		ErrorMessage:       inst.ErrorMessage,
		CreatedAt:          inst.CreatedAt.Format(time.RFC3339),
	}

	resp.ProvisionCompletedAt = formatTime(inst.ProvisionCompletedAt)
	resp.SuspendedAt = formatTime(inst.SuspendedAt)
	resp.TerminatedAt = formatTime(inst.TerminatedAt)
	resp.RolledBackAt = formatTime(inst.RolledBackAt)
	return resp
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.Format(time.RFC3339)
	return &formatted
}

// buildCreationProgress derives a coarse progress snapshot from what the
// saga has bound so far.
func buildCreationProgress(inst *models.Instance) *models.CreationProgress {
	steps := []models.CreationStep{
		{Step: 1, Name: "Request accepted", Status: "completed"},
		{Step: 2, Name: "Server created", Status: "pending"},
		{Step: 3, Name: "DNS bound", Status: "pending"},
		{Step: 4, Name: "Instance ready", Status: "pending"},
	}

	current := 2
	steps[1].Status = "in_progress"
	if inst.Provisioned() {
		// Compute and DNS ids are persisted together, so both steps are done
		// and the instance is waiting on its readiness report.
		steps[1].Status = "completed"
		steps[2].Status = "completed"
		steps[3].Status = "in_progress"
		current = 4
	}

	return &models.CreationProgress{
		CurrentStep: current,
		TotalSteps:  4,
		Steps:       steps,
	}
}

func generateHostname() string {
	return "vps-" + uuid.New().String()[:8]
}

// generateSecret produces the per-instance single-use readiness token.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
