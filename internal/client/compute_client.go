package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/provider"
)

// ComputeClient talks to the Vultr-style compute API. All orchestrator
// traffic goes through the rate-limited decorator, never through this type
// directly.
type ComputeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewComputeClient creates a new compute vendor client
func NewComputeClient(baseURL, apiKey string) *ComputeClient {
	return &ComputeClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type createInstancePayload struct {
	Region string `json:"region"`
	Plan   string `json:"plan"`
	Label  string `json:"label"`
}

type instanceEnvelope struct {
	Instance struct {
		ID     string `json:"id"`
		MainIP string `json:"main_ip"`
		Status string `json:"status"`
		Power  string `json:"power_status"`
	} `json:"instance"`
	Error string `json:"error,omitempty"`
}

// Create provisions a new server. On a vendor rejection that still carries
// an allocated id, the partial result is returned alongside the error so the
// caller can clean it up.
func (c *ComputeClient) Create(ctx context.Context, spec provider.CreateSpec) (*provider.CreateResult, error) {
	log.Printf("[ComputeClient] Creating instance (region: %s, plan: %s, label: %s)",
		spec.Region, spec.MachineType, spec.Label)

	body, err := json.Marshal(createInstancePayload{
		Region: spec.Region,
		Plan:   spec.MachineType,
		Label:  spec.Label,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	respBody, status, err := c.do(ctx, "POST", "/v2/instances", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var envelope instanceEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if status < 200 || status >= 300 {
			return nil, &provider.APIError{StatusCode: status, Body: string(respBody)}
		}
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}

	result := &provider.CreateResult{
		ResourceID: envelope.Instance.ID,
		Address:    envelope.Instance.MainIP,
	}

	if status < 200 || status >= 300 {
		return result, &provider.APIError{StatusCode: status, Body: envelope.Error}
	}

	log.Printf("[ComputeClient] Instance created: %s (ip: %s)", result.ResourceID, result.Address)
	return result, nil
}

// Delete removes a server. A 404 is treated as success so cleanup retries
// stay idempotent.
func (c *ComputeClient) Delete(ctx context.Context, resourceID string) error {
	log.Printf("[ComputeClient] Deleting instance: %s", resourceID)

	respBody, status, err := c.do(ctx, "DELETE", "/v2/instances/"+resourceID, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		log.Printf("[ComputeClient] Instance %s already gone", resourceID)
		return nil
	}
	if status < 200 || status >= 300 {
		return &provider.APIError{StatusCode: status, Body: string(respBody)}
	}
	return nil
}

// PowerOff halts a server
func (c *ComputeClient) PowerOff(ctx context.Context, resourceID string) error {
	return c.action(ctx, resourceID, "halt")
}

// PowerOn starts a server
func (c *ComputeClient) PowerOn(ctx context.Context, resourceID string) error {
	return c.action(ctx, resourceID, "start")
}

// Resize changes a server's machine type
func (c *ComputeClient) Resize(ctx context.Context, resourceID, machineType string) error {
	log.Printf("[ComputeClient] Resizing instance %s to %s", resourceID, machineType)

	body, err := json.Marshal(map[string]string{"plan": machineType})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	respBody, status, err := c.do(ctx, "PATCH", "/v2/instances/"+resourceID, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &provider.APIError{StatusCode: status, Body: string(respBody)}
	}
	return nil
}

// Describe returns the vendor-side status of a server
func (c *ComputeClient) Describe(ctx context.Context, resourceID string) (string, error) {
	respBody, status, err := c.do(ctx, "GET", "/v2/instances/"+resourceID, nil)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return provider.ResourceNotFound, nil
	}
	if status < 200 || status >= 300 {
		return "", &provider.APIError{StatusCode: status, Body: string(respBody)}
	}

	var envelope instanceEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return "", fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}

	switch envelope.Instance.Power {
	case "running":
		return provider.ResourceRunning, nil
	case "stopped":
		return provider.ResourceStopped, nil
	default:
		return provider.ResourcePending, nil
	}
}

func (c *ComputeClient) action(ctx context.Context, resourceID, verb string) error {
	log.Printf("[ComputeClient] Instance %s: %s", resourceID, verb)

	respBody, status, err := c.do(ctx, "POST", "/v2/instances/"+resourceID+"/"+verb, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &provider.APIError{StatusCode: status, Body: string(respBody)}
	}
	return nil
}

func (c *ComputeClient) do(ctx context.Context, method, path string, body io.Reader) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	return respBody, resp.StatusCode, nil
}
