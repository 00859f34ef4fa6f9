package provider

import (
	"context"
	"log"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy bounds the retry loop around one vendor.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// caller wraps every vendor call behind a token bucket and a bounded
// exponential-backoff retry loop. Token acquisition blocks cooperatively, so
// a burst of saga operations queues up instead of tripping the vendor's
// published limits. Client errors are surfaced on the first attempt.
type caller struct {
	name    string
	limiter *rate.Limiter
	policy  RetryPolicy
	sleep   func(time.Duration)
}

func newCaller(name string, perSec float64, burst int, policy RetryPolicy) *caller {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseBackoff <= 0 {
		policy.BaseBackoff = 500 * time.Millisecond
	}
	return &caller{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
		policy:  policy,
		sleep:   time.Sleep,
	}
}

func (c *caller) do(ctx context.Context, op string, fn func() error) error {
	backoff := c.policy.BaseBackoff
	var err error
	for attempt := 0; ; attempt++ {
		if werr := c.limiter.Wait(ctx); werr != nil {
			return werr
		}
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= c.policy.MaxRetries {
			return err
		}
		log.Printf("[%s] %s failed (attempt %d/%d), retrying in %v: %v",
			c.name, op, attempt+1, c.policy.MaxRetries+1, backoff, err)
		c.sleep(backoff)
		backoff *= 2
	}
}

// RateLimitedCompute decorates a ComputeProvider with the call discipline
// above. It is the only way the orchestrator reaches the compute vendor.
type RateLimitedCompute struct {
	inner  ComputeProvider
	caller *caller
}

func NewRateLimitedCompute(inner ComputeProvider, perSec float64, burst int, policy RetryPolicy) *RateLimitedCompute {
	return &RateLimitedCompute{
		inner:  inner,
		caller: newCaller("ComputeLimiter", perSec, burst, policy),
	}
}

func (p *RateLimitedCompute) Create(ctx context.Context, spec CreateSpec) (*CreateResult, error) {
	var res *CreateResult
	err := p.caller.do(ctx, "create", func() error {
		var ferr error
		res, ferr = p.inner.Create(ctx, spec)
		return ferr
	})
	return res, err
}

func (p *RateLimitedCompute) Delete(ctx context.Context, resourceID string) error {
	return p.caller.do(ctx, "delete", func() error {
		return p.inner.Delete(ctx, resourceID)
	})
}

func (p *RateLimitedCompute) PowerOff(ctx context.Context, resourceID string) error {
	return p.caller.do(ctx, "power_off", func() error {
		return p.inner.PowerOff(ctx, resourceID)
	})
}

func (p *RateLimitedCompute) PowerOn(ctx context.Context, resourceID string) error {
	return p.caller.do(ctx, "power_on", func() error {
		return p.inner.PowerOn(ctx, resourceID)
	})
}

func (p *RateLimitedCompute) Resize(ctx context.Context, resourceID, machineType string) error {
	return p.caller.do(ctx, "resize", func() error {
		return p.inner.Resize(ctx, resourceID, machineType)
	})
}

func (p *RateLimitedCompute) Describe(ctx context.Context, resourceID string) (string, error) {
	var status string
	err := p.caller.do(ctx, "describe", func() error {
		var ferr error
		status, ferr = p.inner.Describe(ctx, resourceID)
		return ferr
	})
	return status, err
}

// RateLimitedDNS decorates a DNSProvider the same way.
type RateLimitedDNS struct {
	inner  DNSProvider
	caller *caller
}

func NewRateLimitedDNS(inner DNSProvider, perSec float64, burst int, policy RetryPolicy) *RateLimitedDNS {
	return &RateLimitedDNS{
		inner:  inner,
		caller: newCaller("DNSLimiter", perSec, burst, policy),
	}
}

func (p *RateLimitedDNS) CreateRecord(ctx context.Context, name, address string) (string, error) {
	var recordID string
	err := p.caller.do(ctx, "create_record", func() error {
		var ferr error
		recordID, ferr = p.inner.CreateRecord(ctx, name, address)
		return ferr
	})
	return recordID, err
}

func (p *RateLimitedDNS) DeleteRecord(ctx context.Context, recordID string) error {
	return p.caller.do(ctx, "delete_record", func() error {
		return p.inner.DeleteRecord(ctx, recordID)
	})
}
