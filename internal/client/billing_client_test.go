package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillingClient_NotifyInstanceStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/internal/provisioning/callback", r.URL.Path)
		assert.Equal(t, "internal-key", r.Header.Get("X-Internal-Secret"))

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "owner-1", payload["owner_ref"])
		assert.Equal(t, "active", payload["status"])

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewBillingClient(server.URL, "internal-key")
	ip := "10.0.0.1"
	err := c.NotifyInstanceStatus(context.Background(), &InstanceStatusCallback{
		OwnerRef:   "owner-1",
		InstanceID: "i-1",
		Status:     "active",
		PublicIP:   &ip,
	})
	assert.NoError(t, err)
}

func TestBillingClient_NotifyInstanceStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewBillingClient(server.URL, "k")
	err := c.NotifyInstanceStatus(context.Background(), &InstanceStatusCallback{Status: "active"})
	assert.Error(t, err)
}

func TestBillingClient_PurgeIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/internal/identities/owner-1/instances/i-1", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewBillingClient(server.URL, "k")
	assert.NoError(t, c.PurgeIdentity(context.Background(), "owner-1", "i-1"))
}

func TestBillingClient_PurgeIdentityMissingRecordIsDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewBillingClient(server.URL, "k")
	assert.NoError(t, c.PurgeIdentity(context.Background(), "owner-1", "i-1"))
}

func TestProbeClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	up := NewProbeClient(port, "/healthz", time.Second)
	assert.True(t, up.Probe(context.Background(), u.Hostname()))

	wrongPath := NewProbeClient(port, "/nope", time.Second)
	assert.False(t, wrongPath.Probe(context.Background(), u.Hostname()))

	closedPort := NewProbeClient(1, "/healthz", 100*time.Millisecond)
	assert.False(t, closedPort.Probe(context.Background(), u.Hostname()))
}
