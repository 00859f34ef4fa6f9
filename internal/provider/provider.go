// Package provider defines the capability ports the provisioner calls into
// and the error classification shared by their vendor implementations.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Compute resource status values returned by Describe
const (
	ResourceRunning  = "running"
	ResourceStopped  = "stopped"
	ResourcePending  = "pending"
	ResourceNotFound = "not_found"
)

// CreateSpec describes the compute resource to create.
type CreateSpec struct {
	Label       string
	Region      string
	MachineType string
}

// CreateResult is the provider's answer to a create call. ResourceID may be
// set even when the call failed, if the vendor allocated an id before
// rejecting the request; the orchestrator uses it to decide between soft and
// partial rollback.
type CreateResult struct {
	ResourceID string
	Address    string
}

// ComputeProvider is the port to the IaaS vendor.
type ComputeProvider interface {
	Create(ctx context.Context, spec CreateSpec) (*CreateResult, error)
	Delete(ctx context.Context, resourceID string) error
	PowerOff(ctx context.Context, resourceID string) error
	PowerOn(ctx context.Context, resourceID string) error
	Resize(ctx context.Context, resourceID, machineType string) error
	Describe(ctx context.Context, resourceID string) (string, error)
}

// DNSProvider is the port to the DNS vendor.
type DNSProvider interface {
	CreateRecord(ctx context.Context, name, address string) (string, error)
	DeleteRecord(ctx context.Context, recordID string) error
}

// APIError is a non-2xx vendor response. Throttling and server-side failures
// are retryable; client errors are not.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the call may be retried.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// NotFound reports whether the vendor no longer knows the resource. Cleanup
// paths treat this as success so deletes stay idempotent.
func (e *APIError) NotFound() bool {
	return e.StatusCode == 404
}

// IsRetryable classifies an error for the retry loop. Vendor client errors
// fail immediately; transport-level failures are treated as transient.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// IsNotFound reports whether err is a vendor 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.NotFound()
}
