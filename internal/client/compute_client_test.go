package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/provider"
)

func TestComputeClient_Create(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/instances", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"instance":{"id":"c-1","main_ip":"10.0.0.1","status":"pending","power_status":"running"}}`))
	}))
	defer server.Close()

	c := NewComputeClient(server.URL, "test-api-key")
	res, err := c.Create(context.Background(), provider.CreateSpec{
		Label:       "myhost-abcd1234",
		Region:      "ewr",
		MachineType: "vc2-1c-1gb",
	})
	require.NoError(t, err)
	assert.Equal(t, "c-1", res.ResourceID)
	assert.Equal(t, "10.0.0.1", res.Address)
}

func TestComputeClient_CreateRejectionCarriesAllocatedID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"instance":{"id":"c-orphan"},"error":"plan sold out"}`))
	}))
	defer server.Close()

	c := NewComputeClient(server.URL, "k")
	res, err := c.Create(context.Background(), provider.CreateSpec{Label: "x", Region: "ewr", MachineType: "vc2-1c-1gb"})
	require.Error(t, err)

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	// The partial result rides along so the orchestrator can clean up the
	// orphaned resource.
	require.NotNil(t, res)
	assert.Equal(t, "c-orphan", res.ResourceID)
}

func TestComputeClient_DeleteIdempotentOn404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v2/instances/c-1", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewComputeClient(server.URL, "k")
	assert.NoError(t, c.Delete(context.Background(), "c-1"))
}

func TestComputeClient_DeleteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewComputeClient(server.URL, "k")
	err := c.Delete(context.Background(), "c-1")

	var apiErr *provider.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable())
}

func TestComputeClient_PowerActions(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := NewComputeClient(server.URL, "k")
	require.NoError(t, c.PowerOff(context.Background(), "c-1"))
	require.NoError(t, c.PowerOn(context.Background(), "c-1"))
	assert.Equal(t, []string{"/v2/instances/c-1/halt", "/v2/instances/c-1/start"}, paths)
}

func TestComputeClient_Describe(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"running", 200, `{"instance":{"id":"c-1","power_status":"running"}}`, provider.ResourceRunning},
		{"stopped", 200, `{"instance":{"id":"c-1","power_status":"stopped"}}`, provider.ResourceStopped},
		{"booting", 200, `{"instance":{"id":"c-1","power_status":"starting"}}`, provider.ResourcePending},
		{"gone", 404, ``, provider.ResourceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			c := NewComputeClient(server.URL, "k")
			got, err := c.Describe(context.Background(), "c-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
