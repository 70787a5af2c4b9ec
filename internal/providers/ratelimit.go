package providers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles calls to a single provider.
type RateLimiter struct {
	limiter *rate.Limiter

	mu            sync.Mutex
	totalConsumed int64
	totalWaited   time.Duration
	last429Time   time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	RequestsPerSecond float64       `json:"requests_per_second"`
	Burst             int           `json:"burst"`
	TokensAvailable   float64       `json:"tokens_available"`
	TotalConsumed     int64         `json:"total_consumed"`
	TotalWaited       time.Duration `json:"total_waited"`
	Last429Time       time.Time     `json:"last_429_time,omitempty"`
}

// NewRateLimiter creates a limiter allowing rps requests per second.
// rps <= 0 means unlimited.
func NewRateLimiter(rps float64) *RateLimiter {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a token is available or context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	waited := time.Since(start)

	r.mu.Lock()
	r.totalConsumed++
	r.totalWaited += waited
	r.mu.Unlock()
	return nil
}

// Record429 drains the bucket so the next caller waits out retryAfter.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	r.last429Time = time.Now()
	r.mu.Unlock()

	if retryAfter > 0 && r.limiter.Limit() != rate.Inf {
		r.limiter.ReserveN(time.Now(), r.limiter.Burst())
	}
}

// Status returns current limiter status.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	rps := float64(r.limiter.Limit())
	if r.limiter.Limit() == rate.Inf {
		rps = 0
	}
	return RateLimiterStatus{
		RequestsPerSecond: rps,
		Burst:             r.limiter.Burst(),
		TokensAvailable:   r.limiter.Tokens(),
		TotalConsumed:     r.totalConsumed,
		TotalWaited:       r.totalWaited,
		Last429Time:       r.last429Time,
	}
}

// observe records a 429 on the limiter when err carries one.
func (r *RateLimiter) observe(err error) {
	if rle, ok := IsRateLimitError(err); ok {
		r.Record429(rle.RetryAfter)
	}
}

// limitedLLM wraps an LLMClient with a RateLimiter.
type limitedLLM struct {
	LLMClient
	limiter *RateLimiter
}

// WithLLMRateLimit returns client throttled to rps requests per second.
func WithLLMRateLimit(client LLMClient, rps float64) LLMClient {
	if rps <= 0 {
		return client
	}
	return &limitedLLM{LLMClient: client, limiter: NewRateLimiter(rps)}
}

func (c *limitedLLM) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.LLMClient.Chat(ctx, req)
	c.limiter.observe(err)
	return res, err
}

// limitedOCR wraps an OCRProvider with a RateLimiter.
type limitedOCR struct {
	OCRProvider
	limiter *RateLimiter
}

// WithOCRRateLimit returns provider throttled to its RequestsPerSecond.
func WithOCRRateLimit(provider OCRProvider) OCRProvider {
	if provider.RequestsPerSecond() <= 0 {
		return provider
	}
	return &limitedOCR{OCRProvider: provider, limiter: NewRateLimiter(provider.RequestsPerSecond())}
}

func (p *limitedOCR) ProcessImage(ctx context.Context, image []byte, pageNum int) (*OCRResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := p.OCRProvider.ProcessImage(ctx, image, pageNum)
	p.limiter.observe(err)
	return res, err
}

// LimiterStatus returns the limiter state of a wrapped client, if any.
func LimiterStatus(v any) (RateLimiterStatus, bool) {
	switch c := v.(type) {
	case *limitedLLM:
		return c.limiter.Status(), true
	case *limitedOCR:
		return c.limiter.Status(), true
	}
	return RateLimiterStatus{}, false
}
