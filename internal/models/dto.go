package models

// ==================== Internal API DTOs ====================

// ProvisionRequest is sent by the order-intake service to create an instance
type ProvisionRequest struct {
	OwnerRef string `json:"owner_ref" binding:"required"`
	PlanTier string `json:"plan_tier" binding:"required"`
	Region   string `json:"region" binding:"required"`
	Hostname string `json:"hostname,omitempty"` // generated when empty
}

// ProvisionResponse is returned after the create saga has persisted the
// record and bound the provider resources; readiness is reported later via
// the callback.
type ProvisionResponse struct {
	InstanceID            string `json:"instance_id"`
	Status                string `json:"status"`
	Subdomain             string `json:"subdomain"`
	EstimatedReadySeconds int    `json:"estimated_ready_seconds"`
	Message               string `json:"message"`
}

// TerminateRequest is sent to tear an instance down
type TerminateRequest struct {
	Reason string `json:"reason"`
}

// ResizeRequest changes an instance's plan tier
type ResizeRequest struct {
	PlanTier string `json:"plan_tier" binding:"required"`
}

// PurgeRequest triggers a full rollback. The confirm flag is required so a
// registry-row deletion cannot happen on a mistyped call.
type PurgeRequest struct {
	Reason  string `json:"reason"`
	Confirm bool   `json:"confirm"`
}

// ReadinessCallbackRequest is posted by the provisioned server itself once
// its bootstrap has finished.
type ReadinessCallbackRequest struct {
	ReportedVersion string `json:"reported_version" binding:"required"`
	ReportedPort    int    `json:"reported_port" binding:"required"`
}

// ReadinessCallbackResponse acknowledges a readiness report
type ReadinessCallbackResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	Status       string `json:"status"`
}

// InstanceStatusResponse is the detailed instance view
type InstanceStatusResponse struct {
	InstanceID           string  `json:"instance_id"`
	OwnerRef             string  `json:"owner_ref"`
	PlanTier             string  `json:"plan_tier"`
	Region               string  `json:"region"`
	Subdomain            string  `json:"subdomain"`
	MachineType          string  `json:"machine_type"`
	Status               string  `json:"status"`
	PublicIP             *string `json:"public_ip,omitempty"`
	Health               string  `json:"health"`
	UptimePercent        float64 `json:"uptime_percent"`
	ProvisionStartedAt   string  `json:"provision_started_at"`
	ProvisionCompletedAt *string `json:"provision_completed_at,omitempty"`
	SuspendedAt          *string `json:"suspended_at,omitempty"`
	TerminatedAt         *string `json:"terminated_at,omitempty"`
	RolledBackAt         *string `json:"rolled_back_at,omitempty"`
	ErrorMessage         *string `json:"error_message,omitempty"`
	CreatedAt            string  `json:"created_at"`
}

// RollbackLogResponse is one rollback log entry in API form
type RollbackLogResponse struct {
	ID           string   `json:"id"`
	InstanceID   string   `json:"instance_id"`
	Level        string   `json:"level"`
	Reason       string   `json:"reason"`
	Steps        []string `json:"steps"`
	ErrorMessage *string  `json:"error_message,omitempty"`
	CreatedAt    string   `json:"created_at"`
}

// ==================== User API DTOs ====================

// CreateInstanceRequest is the user-facing create body
type CreateInstanceRequest struct {
	PlanTier string `json:"plan_tier" binding:"required"`
	Region   string `json:"region" binding:"required"`
	Hostname string `json:"hostname,omitempty"`
}

// CreationStep is one stage of the provisioning progress view
type CreationStep struct {
	Step   int    `json:"step"`
	Name   string `json:"name"`
	Status string `json:"status"` // pending, in_progress, completed
}

// CreationProgress is a coarse progress snapshot for the frontend
type CreationProgress struct {
	CurrentStep int            `json:"current_step"`
	TotalSteps  int            `json:"total_steps"`
	Steps       []CreationStep `json:"steps"`
}

// RegionInfo describes one deployable region
type RegionInfo struct {
	Code         string `json:"code"`
	ProviderCode string `json:"provider_code"`
}

// PlanInfo describes one plan tier
type PlanInfo struct {
	Tier        string `json:"tier"`
	MachineType string `json:"machine_type"`
}

// CatalogResponse lists the closed plan/region enumerations
type CatalogResponse struct {
	Plans   []PlanInfo   `json:"plans"`
	Regions []RegionInfo `json:"regions"`
}
