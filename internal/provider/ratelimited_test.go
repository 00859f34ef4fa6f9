package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyCompute fails the first failures calls with err, then succeeds.
type flakyCompute struct {
	err      error
	failures int
	calls    int
}

func (f *flakyCompute) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyCompute) Create(context.Context, CreateSpec) (*CreateResult, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return &CreateResult{ResourceID: "c-1", Address: "10.0.0.1"}, nil
}

func (f *flakyCompute) Delete(context.Context, string) error         { return f.attempt() }
func (f *flakyCompute) PowerOff(context.Context, string) error       { return f.attempt() }
func (f *flakyCompute) PowerOn(context.Context, string) error        { return f.attempt() }
func (f *flakyCompute) Resize(context.Context, string, string) error { return f.attempt() }

func (f *flakyCompute) Describe(context.Context, string) (string, error) {
	if err := f.attempt(); err != nil {
		return "", err
	}
	return ResourceRunning, nil
}

// noSleep swaps the backoff clock out and records the requested waits.
func noSleep(p *RateLimitedCompute) *[]time.Duration {
	var slept []time.Duration
	p.caller.sleep = func(d time.Duration) { slept = append(slept, d) }
	return &slept
}

func testPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: 100 * time.Millisecond}
}

func TestDo_RetriesServerErrorWithBackoff(t *testing.T) {
	inner := &flakyCompute{err: &APIError{StatusCode: 500, Body: "oops"}, failures: 2}
	p := NewRateLimitedCompute(inner, 100, 10, testPolicy())
	slept := noSleep(p)

	res, err := p.Create(context.Background(), CreateSpec{Label: "x", Region: "ewr", MachineType: "vc2-1c-1gb"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", res.ResourceID)
	assert.Equal(t, 3, inner.calls)
	// Backoff doubles per attempt.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestDo_RetriesRateLimitResponse(t *testing.T) {
	inner := &flakyCompute{err: &APIError{StatusCode: 429, Body: "slow down"}, failures: 1}
	p := NewRateLimitedCompute(inner, 100, 10, testPolicy())
	noSleep(p)

	err := p.Delete(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestDo_ClientErrorSurfacesImmediately(t *testing.T) {
	inner := &flakyCompute{err: &APIError{StatusCode: 400, Body: "bad request"}, failures: 10}
	p := NewRateLimitedCompute(inner, 100, 10, testPolicy())
	slept := noSleep(p)

	err := p.Delete(context.Background(), "c-1")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Equal(t, 1, inner.calls)
	assert.Empty(t, *slept)
}

func TestDo_RetryBudgetExhausts(t *testing.T) {
	inner := &flakyCompute{err: &APIError{StatusCode: 503, Body: "unavailable"}, failures: 10}
	p := NewRateLimitedCompute(inner, 100, 10, testPolicy())
	noSleep(p)

	err := p.PowerOff(context.Background(), "c-1")
	require.Error(t, err)
	// Initial attempt plus MaxRetries.
	assert.Equal(t, 4, inner.calls)
}

func TestDo_TransportErrorIsRetryable(t *testing.T) {
	inner := &flakyCompute{err: errors.New("connection reset by peer"), failures: 1}
	p := NewRateLimitedCompute(inner, 100, 10, testPolicy())
	noSleep(p)

	require.NoError(t, p.PowerOn(context.Background(), "c-1"))
	assert.Equal(t, 2, inner.calls)
}

func TestDo_CancelledContextStopsBeforeCall(t *testing.T) {
	inner := &flakyCompute{}
	p := NewRateLimitedCompute(inner, 100, 10, testPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Delete(ctx, "c-1")
	require.Error(t, err)
	assert.Equal(t, 0, inner.calls)
}

// flakyDNS fails the first failures calls, then succeeds.
type flakyDNS struct {
	err      error
	failures int
	calls    int
}

func (f *flakyDNS) CreateRecord(context.Context, string, string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "d-1", nil
}

func (f *flakyDNS) DeleteRecord(context.Context, string) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func TestRateLimitedDNS_Retries(t *testing.T) {
	inner := &flakyDNS{err: &APIError{StatusCode: 500, Body: "zone error"}, failures: 1}
	p := NewRateLimitedDNS(inner, 100, 10, testPolicy())
	p.caller.sleep = func(time.Duration) {}

	recordID, err := p.CreateRecord(context.Background(), "h.vps.test", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "d-1", recordID)
	assert.Equal(t, 2, inner.calls)
}

func TestAPIError_Classification(t *testing.T) {
	assert.True(t, (&APIError{StatusCode: 429}).Retryable())
	assert.True(t, (&APIError{StatusCode: 500}).Retryable())
	assert.True(t, (&APIError{StatusCode: 503}).Retryable())
	assert.False(t, (&APIError{StatusCode: 400}).Retryable())
	assert.False(t, (&APIError{StatusCode: 404}).Retryable())
	assert.True(t, (&APIError{StatusCode: 404}).NotFound())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(&APIError{StatusCode: 403}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 502}))
	// Unclassified transport errors are worth another attempt.
	assert.True(t, IsRetryable(errors.New("EOF")))
}
