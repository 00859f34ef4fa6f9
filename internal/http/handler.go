package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/models"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/repository"
	"github.com/stackhaven/vps-platform/provisioning-service/internal/service"
)

type Handler struct {
	provisionService *service.ProvisionService
	callbackService  *service.CallbackService
}

func NewHandler(provisionService *service.ProvisionService, callbackService *service.CallbackService) *Handler {
	return &Handler{
		provisionService: provisionService,
		callbackService:  callbackService,
	}
}

// respondError maps service errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found"})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid readiness secret"})
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrNotProvisioned):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotConfirmed):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ==================== Internal API Handlers ====================

// Provision starts the create saga for a new instance
func (h *Handler) Provision(c *gin.Context) {
	var req models.ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.provisionService.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Suspend powers an active instance off
func (h *Handler) Suspend(c *gin.Context) {
	h.lifecycleOp(c, func(id string) (*models.Instance, error) {
		return h.provisionService.Suspend(c.Request.Context(), id)
	})
}

// Unsuspend powers a suspended instance back on
func (h *Handler) Unsuspend(c *gin.Context) {
	h.lifecycleOp(c, func(id string) (*models.Instance, error) {
		return h.provisionService.Unsuspend(c.Request.Context(), id)
	})
}

// Terminate tears an instance down on customer request
func (h *Handler) Terminate(c *gin.Context) {
	// Body is optional for terminate
	var req models.TerminateRequest
	_ = c.ShouldBindJSON(&req)

	h.lifecycleOp(c, func(id string) (*models.Instance, error) {
		return h.provisionService.Terminate(c.Request.Context(), id, req.Reason)
	})
}

// Resize moves an active instance to a new plan
func (h *Handler) Resize(c *gin.Context) {
	var req models.ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.lifecycleOp(c, func(id string) (*models.Instance, error) {
		return h.provisionService.Resize(c.Request.Context(), id, req.PlanTier)
	})
}

// Reboot power-cycles an active instance
func (h *Handler) Reboot(c *gin.Context) {
	h.lifecycleOp(c, func(id string) (*models.Instance, error) {
		return h.provisionService.Reboot(c.Request.Context(), id)
	})
}

// Purge runs a caller-confirmed full rollback
func (h *Handler) Purge(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance id required"})
		return
	}

	var req models.PurgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.provisionService.Purge(c.Request.Context(), id, &req); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"instance_id": id, "status": "purged"})
}

// GetInstanceStatus gets instance status by ID
func (h *Handler) GetInstanceStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance id required"})
		return
	}

	resp, err := h.provisionService.GetStatus(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetOwnerInstances lists all instances for an owner
func (h *Handler) GetOwnerInstances(c *gin.Context) {
	ownerRef := c.Param("owner_ref")
	if ownerRef == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_ref required"})
		return
	}

	resp, err := h.provisionService.ListByOwner(c.Request.Context(), ownerRef)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"instances": resp})
}

// GetRollbackLog lists the rollback/teardown trail for an instance
func (h *Handler) GetRollbackLog(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance id required"})
		return
	}

	resp, err := h.provisionService.GetRollbackLog(c.Request.Context(), id, 50)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"entries": resp})
}

// ==================== Callback Handlers ====================

// InstanceReady handles the readiness report posted by the provisioned
// server itself, authenticated by the single-use secret in the header.
func (h *Handler) InstanceReady(c *gin.Context) {
	id := c.Param("id")
	secret := c.GetHeader("X-Readiness-Token")

	var req models.ReadinessCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := h.callbackService.HandleReady(c.Request.Context(), id, secret, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.ReadinessCallbackResponse{
		Acknowledged: true,
		Status:       inst.Status,
	})
}

// ==================== User API Handlers ====================

// GetMyInstance returns the caller's newest instance with progress
func (h *Handler) GetMyInstance(c *gin.Context) {
	ownerRef := c.GetString("ownerRef")
	if ownerRef == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing owner identity"})
		return
	}

	status, progress, err := h.provisionService.GetLatestByOwner(c.Request.Context(), ownerRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"has_instance": false})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"has_instance":      true,
		"instance":          status,
		"creation_progress": progress,
	})
}

// CreateMyInstance provisions an instance for the caller
func (h *Handler) CreateMyInstance(c *gin.Context) {
	ownerRef := c.GetString("ownerRef")
	if ownerRef == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing owner identity"})
		return
	}

	var req models.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.provisionService.Create(c.Request.Context(), &models.ProvisionRequest{
		OwnerRef: ownerRef,
		PlanTier: req.PlanTier,
		Region:   req.Region,
		Hostname: req.Hostname,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteMyInstance terminates the caller's newest instance
func (h *Handler) DeleteMyInstance(c *gin.Context) {
	ownerRef := c.GetString("ownerRef")
	if ownerRef == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing owner identity"})
		return
	}

	status, _, err := h.provisionService.GetLatestByOwner(c.Request.Context(), ownerRef)
	if err != nil {
		respondError(c, err)
		return
	}

	inst, err := h.provisionService.Terminate(c.Request.Context(), status.InstanceID, "user initiated deletion")
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"instance_id": inst.ID, "status": inst.Status})
}

// GetCatalog lists the plan and region enumerations
func (h *Handler) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, h.provisionService.Catalog())
}

func (h *Handler) lifecycleOp(c *gin.Context, op func(id string) (*models.Instance, error)) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance id required"})
		return
	}

	inst, err := op(id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"instance_id": inst.ID, "status": inst.Status})
}
