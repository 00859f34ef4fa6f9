package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/client"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/config"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/models"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/provider"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/repository"
)

// fakeStore is an in-memory InstanceStore with the same guarded-transition
// semantics as the pgx repository.
type fakeStore struct {
	mu        sync.Mutex
	instances map[string]*models.Instance
}

func newFakeStore() *fakeStore {
	return &fakeStore{instances: make(map[string]*models.Instance)}
}

func cloneInstance(inst *models.Instance) *models.Instance {
	c := *inst
	return &c
}

func (s *fakeStore) Create(_ context.Context, inst *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; ok {
		return fmt.Errorf("duplicate id %s", inst.ID)
	}
	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneInstance(inst), nil
}

func (s *fakeStore) GetLatestByOwner(_ context.Context, ownerRef string) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Instance
	for _, inst := range s.instances {
		if inst.OwnerRef != ownerRef || inst.Status == models.StatusTerminated {
			continue
		}
		if latest == nil || inst.CreatedAt.After(latest.CreatedAt) {
			latest = inst
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return cloneInstance(latest), nil
}

func (s *fakeStore) ListByOwner(_ context.Context, ownerRef string) ([]*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Instance
	for _, inst := range s.instances {
		if inst.OwnerRef == ownerRef {
			out = append(out, cloneInstance(inst))
		}
	}
	return out, nil
}

func (s *fakeStore) ListByStatus(_ context.Context, status string) ([]*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Instance
	for _, inst := range s.instances {
		if inst.Status == status {
			out = append(out, cloneInstance(inst))
		}
	}
	return out, nil
}

func (s *fakeStore) HostnameTaken(_ context.Context, hostname string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.Hostname == hostname &&
			inst.Status != models.StatusTerminated && inst.Status != models.StatusRolledBack {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SetProvisionLinkage(_ context.Context, id, computeID, publicIP, dnsRecordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return repository.ErrNotFound
	}
	inst.ComputeID = &computeID
	inst.PublicIP = &publicIP
	inst.DNSRecordID = &dnsRecordID
	return nil
}

func (s *fakeStore) ClearLinkage(_ context.Context, id string, errorMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return repository.ErrNotFound
	}
	inst.ComputeID = nil
	inst.PublicIP = nil
	inst.DNSRecordID = nil
	inst.ErrorMessage = errorMsg
	return nil
}

func (s *fakeStore) TransitionStatus(_ context.Context, id, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok || inst.Status != from {
		return false, nil
	}
	inst.Status = to
	return true, nil
}

func (s *fakeStore) MarkSuspended(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok || inst.Status != models.StatusActive {
		return false, nil
	}
	now := time.Now()
	inst.Status = models.StatusSuspended
	inst.SuspendedAt = &now
	return true, nil
}

func (s *fakeStore) MarkUnsuspended(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok || inst.Status != models.StatusSuspended {
		return false, nil
	}
	inst.Status = models.StatusActive
	inst.SuspendedAt = nil
	return true, nil
}

func (s *fakeStore) MarkTerminated(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok || inst.Status == models.StatusTerminated {
		return false, nil
	}
	now := time.Now()
	inst.Status = models.StatusTerminated
	inst.TerminatedAt = &now
	return true, nil
}

func (s *fakeStore) MarkError(_ context.Context, id, from, errorMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok || inst.Status != from {
		return false, nil
	}
	inst.Status = models.StatusError
	inst.ErrorMessage = &errorMsg
	return true, nil
}

func (s *fakeStore) ClaimRollback(_ context.Context, id, from string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok || inst.Status != from {
		return false, nil
	}
	now := time.Now()
	inst.Status = models.StatusRolledBack
	inst.RolledBackAt = &now
	return true, nil
}

func (s *fakeStore) MarkReady(_ context.Context, id, reportedVersion string, reportedPort int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok || inst.Status != models.StatusProvisioning || inst.SecretConsumedAt != nil {
		return false, nil
	}
	now := time.Now()
	inst.Status = models.StatusActive
	inst.ProvisionCompletedAt = &now
	inst.SecretConsumedAt = &now
	inst.ReportedVersion = &reportedVersion
	inst.ReportedPort = reportedPort
	return true, nil
}

func (s *fakeStore) FinishResize(_ context.Context, id, planTier, machineType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok || inst.Status != models.StatusResizing {
		return false, nil
	}
	inst.Status = models.StatusActive
	inst.PlanTier = planTier
	inst.MachineType = machineType
	return true, nil
}

func (s *fakeStore) RecordHealth(_ context.Context, id, health string, passed bool, consecutiveFailures int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	inst.Health = health
	inst.LastHealthCheckAt = &now
	inst.HealthChecksTotal++
	if passed {
		inst.HealthChecksPassed++
	}
	inst.ConsecutiveFailures = consecutiveFailures
	return nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.instances, id)
	return nil
}

// must returns the stored instance for assertions
func (s *fakeStore) must(id string) *models.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil
	}
	return cloneInstance(inst)
}

// fakeLogStore is an in-memory append-only rollback log
type fakeLogStore struct {
	mu      sync.Mutex
	entries []*models.RollbackLogEntry
}

func (s *fakeLogStore) Create(_ context.Context, entry *models.RollbackLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := *entry
	e.CreatedAt = time.Now()
	s.entries = append(s.entries, &e)
	return nil
}

func (s *fakeLogStore) ListByInstance(_ context.Context, instanceID string, _ int) ([]*models.RollbackLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RollbackLogEntry
	for _, e := range s.entries {
		if e.InstanceID == instanceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeLogStore) byLevel(level string) []*models.RollbackLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.RollbackLogEntry
	for _, e := range s.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// fakeCompute is a scriptable ComputeProvider
type fakeCompute struct {
	mu         sync.Mutex
	createRes  *provider.CreateResult
	createErr  error
	deleteErr  error
	powerErr   error
	resizeErr  error
	deleted    []string
	poweredOff []string
	poweredOn  []string
	resized    []string
	onCreate   func()
}

func (f *fakeCompute) Create(_ context.Context, _ provider.CreateSpec) (*provider.CreateResult, error) {
	if f.onCreate != nil {
		f.onCreate()
	}
	if f.createErr != nil {
		return f.createRes, f.createErr
	}
	if f.createRes != nil {
		return f.createRes, nil
	}
	return &provider.CreateResult{ResourceID: "c-1", Address: "10.0.0.1"}, nil
}

func (f *fakeCompute) Delete(_ context.Context, resourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, resourceID)
	return nil
}

func (f *fakeCompute) PowerOff(_ context.Context, resourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.powerErr != nil {
		return f.powerErr
	}
	f.poweredOff = append(f.poweredOff, resourceID)
	return nil
}

func (f *fakeCompute) PowerOn(_ context.Context, resourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.powerErr != nil {
		return f.powerErr
	}
	f.poweredOn = append(f.poweredOn, resourceID)
	return nil
}

func (f *fakeCompute) Resize(_ context.Context, resourceID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resizeErr != nil {
		return f.resizeErr
	}
	f.resized = append(f.resized, resourceID)
	return nil
}

func (f *fakeCompute) Describe(_ context.Context, resourceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.deleted {
		if id == resourceID {
			return provider.ResourceNotFound, nil
		}
	}
	return provider.ResourceRunning, nil
}

// fakeDNS is a scriptable DNSProvider
type fakeDNS struct {
	mu        sync.Mutex
	createErr error
	deleteErr error
	created   []string
	deleted   []string
}

func (f *fakeDNS) CreateRecord(_ context.Context, name, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, name)
	return "d-1", nil
}

func (f *fakeDNS) DeleteRecord(_ context.Context, recordID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, recordID)
	return nil
}

// fakeBilling records notifications and identity purges
type fakeBilling struct {
	mu       sync.Mutex
	statuses []string
	purged   []string
	purgeErr error
}

func (f *fakeBilling) NotifyInstanceStatus(_ context.Context, callback *client.InstanceStatusCallback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, callback.Status)
	return nil
}

func (f *fakeBilling) PurgeIdentity(_ context.Context, _, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.purgeErr != nil {
		return f.purgeErr
	}
	f.purged = append(f.purged, instanceID)
	return nil
}

// fakeProber returns scripted reachability per address
type fakeProber struct {
	mu        sync.Mutex
	reachable map[string]bool
}

func (f *fakeProber) Probe(_ context.Context, address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable[address]
}

// testEnv bundles the whole wired service graph over fakes
type testEnv struct {
	cfg       *config.Config
	store     *fakeStore
	logs      *fakeLogStore
	compute   *fakeCompute
	dns       *fakeDNS
	billing   *fakeBilling
	rollback  *RollbackService
	provision *ProvisionService
	callback  *CallbackService
}

func newTestEnv() *testEnv {
	cfg := &config.Config{}
	cfg.DNS.BaseDomain = "vps.test"
	cfg.Watchdog.EstimatedReadySeconds = 180
	cfg.Watchdog.ProvisionTimeout = 5 * time.Minute
	cfg.Watchdog.HealthFailThreshold = 3
	cfg.Watchdog.HealthHardThreshold = 5

	store := newFakeStore()
	logs := &fakeLogStore{}
	compute := &fakeCompute{}
	dns := &fakeDNS{}
	billing := &fakeBilling{}

	rollback := NewRollbackService(store, logs, compute, dns, billing)
	provision := NewProvisionService(cfg, store, logs, compute, dns, rollback, billing, nil)
	provision.settle = func(time.Duration) {}

	return &testEnv{
		cfg:       cfg,
		store:     store,
		logs:      logs,
		compute:   compute,
		dns:       dns,
		billing:   billing,
		rollback:  rollback,
		provision: provision,
		callback:  NewCallbackService(store, billing),
	}
}

// seedActive inserts an active instance with full provider linkage
func (e *testEnv) seedActive(id string) *models.Instance {
	computeID := "c-" + id
	ip := "10.0.0.9"
	recordID := "d-" + id
	inst := &models.Instance{
		ID:                 id,
		OwnerRef:           "owner-1",
		PlanTier:           models.PlanStarter,
		Region:             "us-east",
		Hostname:           "host-" + id,
		MachineType:        models.PlanMachineTypes[models.PlanStarter],
		ComputeID:          &computeID,
		PublicIP:           &ip,
		DNSRecordID:        &recordID,
		Status:             models.StatusActive,
		ProvisionStartedAt: time.Now(),
		ReadinessSecret:    "secret-" + id,
		Health:             models.HealthUp,
	}
	if err := e.store.Create(context.Background(), inst); err != nil {
		panic(err)
	}
	return inst
}
