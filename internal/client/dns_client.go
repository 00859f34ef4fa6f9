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

	"github.com/miekg/dns"

	"github.com/stackhaven/vps-platform/provisioning-service/internal/provider"
)

// DNSClient manages A records in a single zone through a Cloudflare-style
// record API.
type DNSClient struct {
	baseURL    string
	apiToken   string
	zoneID     string
	httpClient *http.Client
}

// NewDNSClient creates a new DNS vendor client
func NewDNSClient(baseURL, apiToken, zoneID string) *DNSClient {
	return &DNSClient{
		baseURL:  baseURL,
		apiToken: apiToken,
		zoneID:   zoneID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type recordPayload struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

type recordEnvelope struct {
	Result struct {
		ID string `json:"id"`
	} `json:"result"`
	Success bool `json:"success"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// CreateRecord binds name to address with an A record and returns the
// record id.
func (c *DNSClient) CreateRecord(ctx context.Context, name, address string) (string, error) {
	log.Printf("[DNSClient] Creating A record %s -> %s", name, address)

	body, err := json.Marshal(recordPayload{
		Type:    "A",
		Name:    name,
		Content: address,
		TTL:     300,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	respBody, status, err := c.do(ctx, "POST", "/zones/"+c.zoneID+"/dns_records", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", &provider.APIError{StatusCode: status, Body: string(respBody)}
	}

	var envelope recordEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return "", fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}
	if !envelope.Success || envelope.Result.ID == "" {
		msg := "unknown error"
		if len(envelope.Errors) > 0 {
			msg = envelope.Errors[0].Message
		}
		return "", fmt.Errorf("dns vendor rejected record: %s", msg)
	}

	log.Printf("[DNSClient] Record created: %s", envelope.Result.ID)
	return envelope.Result.ID, nil
}

// DeleteRecord removes a record. A 404 is treated as success so cleanup
// retries stay idempotent.
func (c *DNSClient) DeleteRecord(ctx context.Context, recordID string) error {
	log.Printf("[DNSClient] Deleting record: %s", recordID)

	respBody, status, err := c.do(ctx, "DELETE", "/zones/"+c.zoneID+"/dns_records/"+recordID, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		log.Printf("[DNSClient] Record %s already gone", recordID)
		return nil
	}
	if status < 200 || status >= 300 {
		return &provider.APIError{StatusCode: status, Body: string(respBody)}
	}
	return nil
}

func (c *DNSClient) do(ctx context.Context, method, path string, body io.Reader) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)

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

// RecordVerifier checks that a freshly created A record actually resolves,
// by querying a configured recursive resolver directly.
type RecordVerifier struct {
	resolverAddr string
}

// NewRecordVerifier creates a verifier against the given resolver (host:port)
func NewRecordVerifier(resolverAddr string) *RecordVerifier {
	return &RecordVerifier{resolverAddr: resolverAddr}
}

// Verify resolves fqdn and reports whether any A record matches address.
func (v *RecordVerifier) Verify(fqdn, address string) (bool, error) {
	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{
		{Name: dns.Fqdn(fqdn), Qtype: dns.TypeA, Qclass: dns.ClassINET},
	}

	c := new(dns.Client)
	in, _, err := c.Exchange(m, v.resolverAddr)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", fqdn, err)
	}

	for _, answer := range in.Answer {
		if a, ok := answer.(*dns.A); ok && a.A.String() == address {
			return true, nil
		}
	}
	return false, nil
}
