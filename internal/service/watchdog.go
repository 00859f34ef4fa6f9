package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/config"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/models"
)

// Watchdog periodically sweeps the registry for stuck or failed instances
// and hands them to the rollback manager. It is safe to run from several
// workers at once: the rollback claim is a guarded status transition, so a
// worker that loses the race simply no-ops.
type Watchdog struct {
	cfg       config.WatchdogConfig
	instances InstanceStore
	rollback  *RollbackService
	prober    Prober
	now       func() time.Time
}

// NewWatchdog creates a watchdog. The clock is injectable for tests.
func NewWatchdog(cfg config.WatchdogConfig, instances InstanceStore, rollback *RollbackService, prober Prober) *Watchdog {
	return &Watchdog{
		cfg:       cfg,
		instances: instances,
		rollback:  rollback,
		prober:    prober,
		now:       time.Now,
	}
}

// Run sweeps on a fixed interval until the context is cancelled
func (w *Watchdog) Run(ctx context.Context) {
	log.Printf("[Watchdog] Started (interval %v, provision timeout %v)", w.cfg.Interval, w.cfg.ProvisionTimeout)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Watchdog] Stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over provisioning, errored and active instances
func (w *Watchdog) Sweep(ctx context.Context) {
	w.sweepProvisioning(ctx)
	w.sweepErrored(ctx)
	w.sweepActive(ctx)
}

// sweepProvisioning rolls back instances stuck in provisioning past the
// configured ceiling. Once an instance reaches active it leaves this scan
// and is only seen by the steady-state health poll.
func (w *Watchdog) sweepProvisioning(ctx context.Context) {
	instances, err := w.instances.ListByStatus(ctx, models.StatusProvisioning)
	if err != nil {
		log.Printf("[Watchdog] Failed to list provisioning instances: %v", err)
		return
	}

	for _, inst := range instances {
		elapsed := w.now().Sub(inst.ProvisionStartedAt)
		if elapsed <= w.cfg.ProvisionTimeout {
			continue
		}

		log.Printf("[Watchdog] Instance %s stuck in provisioning for %v, rolling back", inst.ID, elapsed.Round(time.Second))
		reason := fmt.Sprintf("provisioning timeout: no readiness report after %v", elapsed.Round(time.Second))
		if err := w.rollback.Partial(ctx, inst, reason); err != nil {
			log.Printf("[Watchdog] Rollback failed for %s: %v", inst.ID, err)
		}
	}
}

// sweepErrored rolls back instances parked in error status
func (w *Watchdog) sweepErrored(ctx context.Context) {
	instances, err := w.instances.ListByStatus(ctx, models.StatusError)
	if err != nil {
		log.Printf("[Watchdog] Failed to list errored instances: %v", err)
		return
	}

	for _, inst := range instances {
		detail := ""
		if inst.ErrorMessage != nil {
			detail = ": " + *inst.ErrorMessage
		}
		log.Printf("[Watchdog] Instance %s observed in error status, rolling back", inst.ID)
		if err := w.rollback.Partial(ctx, inst, "instance in error status"+detail); err != nil {
			log.Printf("[Watchdog] Rollback failed for %s: %v", inst.ID, err)
		}
	}
}

// sweepActive probes active instances and escalates on consecutive
// failures: past the soft threshold the instance is flagged down and an
// operator alert is logged; past the hard ceiling it is rolled back.
func (w *Watchdog) sweepActive(ctx context.Context) {
	instances, err := w.instances.ListByStatus(ctx, models.StatusActive)
	if err != nil {
		log.Printf("[Watchdog] Failed to list active instances: %v", err)
		return
	}

	for _, inst := range instances {
		if inst.PublicIP == nil || *inst.PublicIP == "" {
			continue
		}

		reachable := w.prober.Probe(ctx, *inst.PublicIP)
		if reachable {
			if err := w.instances.RecordHealth(ctx, inst.ID, models.HealthUp, true, 0); err != nil {
				log.Printf("[Watchdog] Failed to record health for %s: %v", inst.ID, err)
			}
			continue
		}

		failures := inst.ConsecutiveFailures + 1
		health := models.HealthDegraded
		if failures >= w.cfg.HealthFailThreshold {
			health = models.HealthDown
		}
		if err := w.instances.RecordHealth(ctx, inst.ID, health, false, failures); err != nil {
			log.Printf("[Watchdog] Failed to record health for %s: %v", inst.ID, err)
		}

		if failures == w.cfg.HealthFailThreshold {
			log.Printf("[Watchdog] ALERT: instance %s unreachable %d times in a row, flagged down", inst.ID, failures)
		}

		if failures >= w.cfg.HealthHardThreshold {
			log.Printf("[Watchdog] Instance %s past hard health ceiling (%d failures), rolling back", inst.ID, failures)
			reason := fmt.Sprintf("health check hard ceiling: %d consecutive probe failures", failures)
			if err := w.rollback.Partial(ctx, inst, reason); err != nil {
				log.Printf("[Watchdog] Rollback failed for %s: %v", inst.ID, err)
			}
		}
	}
}
