package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BillingClient handles communication with the billing/order-intake service.
// Notifications are fire-and-forget from the saga's point of view; a failed
// notify is logged by the caller but never blocks a state transition.
type BillingClient struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

// NewBillingClient creates a new billing service client
func NewBillingClient(baseURL, internalKey string) *BillingClient {
	return &BillingClient{
		baseURL:     baseURL,
		internalKey: internalKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// InstanceStatusCallback is the payload for billing-side status updates
type InstanceStatusCallback struct {
	OwnerRef     string  `json:"owner_ref"`
	InstanceID   string  `json:"instance_id"`
	Status       string  `json:"status"`
	PublicIP     *string `json:"public_ip,omitempty"`
	Subdomain    string  `json:"subdomain,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// NotifyInstanceStatus sends an instance status callback to billing
func (c *BillingClient) NotifyInstanceStatus(ctx context.Context, callback *InstanceStatusCallback) error {
	url := fmt.Sprintf("%s/api/internal/provisioning/callback", c.baseURL)

	body, err := json.Marshal(callback)
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Secret", c.internalKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("billing-service returned status %d", resp.StatusCode)
	}

	return nil
}

// PurgeIdentity asks billing to erase its identity record for an instance.
// Used only by full rollback.
func (c *BillingClient) PurgeIdentity(ctx context.Context, ownerRef, instanceID string) error {
	url := fmt.Sprintf("%s/api/internal/identities/%s/instances/%s", c.baseURL, ownerRef, instanceID)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Internal-Secret", c.internalKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	// 404 means billing never had the record; the purge is still complete
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("billing-service returned status %d", resp.StatusCode)
	}

	return nil
}
