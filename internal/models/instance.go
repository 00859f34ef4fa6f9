package models

import (
	"fmt"
	"regexp"
	"time"
)

// Instance status constants. Transitions between them go through the
// provisioner or the rollback manager, never through direct writes.
const (
	StatusProvisioning = "provisioning"
	StatusActive       = "active"
	StatusSuspended    = "suspended"
	StatusResizing     = "resizing"
	StatusRebooting    = "rebooting"
	StatusError        = "error"
	StatusRolledBack   = "rolled_back"
	StatusTerminated   = "terminated"
)

// Health classification constants
const (
	HealthUnknown  = "unknown"
	HealthUp       = "up"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// Plan tier constants (closed set)
const (
	PlanStarter      = "starter"
	PlanProfessional = "professional"
	PlanEnterprise   = "enterprise"
)

// PlanMachineTypes maps plan tiers to the provider machine class
var PlanMachineTypes = map[string]string{
	PlanStarter:      "vc2-1c-1gb",
	PlanProfessional: "vc2-2c-4gb",
	PlanEnterprise:   "vc2-4c-8gb",
}

// Regions is the closed set of deployable regions mapped to provider codes
var Regions = map[string]string{
	"us-east":      "ewr",
	"us-west":      "lax",
	"eu-central":   "fra",
	"ap-southeast": "sgp",
}

var hostnamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidPlan reports whether tier is one of the known plan tiers.
func ValidPlan(tier string) bool {
	_, ok := PlanMachineTypes[tier]
	return ok
}

// ValidRegion reports whether region is one of the known regions.
func ValidRegion(region string) bool {
	_, ok := Regions[region]
	return ok
}

// ValidateHostname checks the requested subdomain label. Uniqueness is
// enforced separately against the registry.
func ValidateHostname(hostname string) error {
	if !hostnamePattern.MatchString(hostname) {
		return fmt.Errorf("invalid hostname %q: must be a lowercase DNS label", hostname)
	}
	return nil
}

// Instance is the registry record for one provisioned virtual server.
type Instance struct {
	ID       string
	OwnerRef string

	// Configuration
	PlanTier    string
	Region      string
	Hostname    string
	MachineType string

	// Provider linkage. ComputeID and DNSRecordID are set together on the
	// happy path and cleared together by partial rollback.
	ComputeID   *string
	PublicIP    *string
	DNSRecordID *string

	// Lifecycle
	Status               string
	ErrorMessage         *string
	ProvisionStartedAt   time.Time
	ProvisionCompletedAt *time.Time
	SuspendedAt          *time.Time
	TerminatedAt         *time.Time
	RolledBackAt         *time.Time

	// Readiness callback
	ReadinessSecret  string
	SecretConsumedAt *time.Time
	ReportedVersion  *string
	ReportedPort     int

	// Health
	Health              string
	LastHealthCheckAt   *time.Time
	HealthChecksTotal   int64
	HealthChecksPassed  int64
	ConsecutiveFailures int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UptimeRatio returns the cumulative fraction of passed health checks.
func (i *Instance) UptimeRatio() float64 {
	if i.HealthChecksTotal == 0 {
		return 0
	}
	return float64(i.HealthChecksPassed) / float64(i.HealthChecksTotal)
}

// Provisioned reports whether the instance has a compute resource attached.
func (i *Instance) Provisioned() bool {
	return i.ComputeID != nil && *i.ComputeID != ""
}
