package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/NamanBalaji/gdl/internal/logger"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
)

// throttle is an http.RoundTripper, using the time/rate token
// bucket limiter to restrict outbound requests.
type throttle struct {
	limiter *rate.Limiter
	rps     int
	burst   int
	next    http.RoundTripper
}

// NewThrottledTransport wraps next so that at most rps requests per second,
// with bursts of burst, leave the process.
func NewThrottledTransport(rps, burst int, next http.RoundTripper) (http.RoundTripper, error) {
	if rps <= 0 || burst <= 0 {
		return nil, fmt.Errorf("rps[%d] and burst[%d] %w", rps, burst, ErrMustNotBeZero)
	}

	return &throttle{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rps:     rps,
		burst:   burst,
		next:    next,
	}, nil
}

func (t *throttle) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if !t.limiter.Allow() {
		start := time.Now()
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrWaitingFailed, err)
		}
		logger.Debugf("Throttled request to %s for %v (rate %d, burst %d)", r.URL.Host, time.Since(start), t.rps, t.burst)
	}

	return t.next.RoundTrip(r)
}
