package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/metrics"
	"github.com/go-i2p/wgclient/lib/ratelimit"
	"github.com/go-i2p/wgclient/lib/resilience"
	"github.com/go-i2p/wgclient/lib/schedule"
	"github.com/go-i2p/wgclient/lib/validation"
	"github.com/go-i2p/wgclient/version"
)

const (
	connectionsPath = "/v1/connections"
	maxResponseSize = 1 << 20
)

// HTTPConfig configures an HTTPIssuer.
type HTTPConfig struct {
	// Endpoint is the base URL of the credential service.
	Endpoint string
	// Tokens supplies the bearer token.
	Tokens TokenStore
	// Client defaults to a client with RequestTimeout.
	Client *http.Client
	// RequestTimeout bounds a single attempt. Defaults to 15s.
	RequestTimeout time.Duration
	// MaxAttempts is the number of tries for transient failures. Defaults to 5.
	MaxAttempts int
	// RetryDelay is the pause between attempts. Defaults to 1s.
	RetryDelay time.Duration
	// Breaker configures the circuit breaker guarding the service.
	Breaker resilience.CircuitBreakerConfig
	// Limiter throttles attempts, retries included. Defaults to
	// ratelimit.NewDefault().
	Limiter *ratelimit.Limiter
	// EpochLength and EpochBuffer derive the refresh hint from the key
	// rotation schedule when a response omits seconds_until_refresh.
	// Zero EpochLength disables the fallback.
	EpochLength time.Duration
	EpochBuffer time.Duration
	// RandN picks the refresh point inside the epoch buffer, returning a
	// value in [0, n). Nil uses math/rand/v2.
	RandN func(n int64) int64
}

// HTTPIssuer requests profiles from the credential service over HTTPS.
type HTTPIssuer struct {
	endpoint    string
	tokens      TokenStore
	client      *http.Client
	maxAttempts int
	retryDelay  time.Duration
	breaker     *resilience.MetricsCircuitBreaker
	limiter     *ratelimit.Limiter
	epochLength time.Duration
	epochBuffer time.Duration
	randN       func(n int64) int64
	now         func() time.Time
}

// NewHTTPIssuer validates cfg and returns an issuer.
func NewHTTPIssuer(cfg HTTPConfig) (*HTTPIssuer, error) {
	if err := validation.URL("endpoint", cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err)
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("%w: token store is required", apperrors.ErrConfiguration)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Breaker.IsFailure == nil {
		cfg.Breaker.IsFailure = isTransient
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NewDefault()
	}

	return &HTTPIssuer{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		tokens:      cfg.Tokens,
		client:      cfg.Client,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		breaker:     resilience.NewMetricsCircuitBreaker("credential", cfg.Breaker),
		limiter:     cfg.Limiter,
		epochLength: cfg.EpochLength,
		epochBuffer: cfg.EpochBuffer,
		randN:       cfg.RandN,
		now:         time.Now,
	}, nil
}

type connectionRequest struct {
	ServerID string `json:"server_id"`
}

// RequestConnection implements Issuer. Transient failures are retried;
// refusals and malformed responses are returned immediately.
func (h *HTTPIssuer) RequestConnection(ctx context.Context, serverID string) (*Grant, error) {
	token, err := h.tokens.Token()
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, &Error{Status: StatusAuthenticationRequired, Err: err}
		}
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var grant *Grant
		start := time.Now()
		err := h.breaker.Execute(ctx, func(ctx context.Context) error {
			var reqErr error
			grant, reqErr = h.request(ctx, token, serverID)
			return reqErr
		})
		metrics.CredentialRequestDuration.WithLabelValues(outcome(err)).Observe(time.Since(start).Seconds())
		if err == nil {
			return grant, nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
		}
		if !isTransient(err) {
			return nil, err
		}

		lastErr = err
		if attempt == h.maxAttempts {
			break
		}
		log.WithField("server_id", serverID).
			WithField("attempt", attempt).
			WithError(err).
			Warn("Credential request failed, retrying")
		metrics.CredentialRetries.Inc()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(h.retryDelay):
		}
	}
	return nil, fmt.Errorf("credential request failed after %d attempts: %w", h.maxAttempts, lastErr)
}

func (h *HTTPIssuer) request(ctx context.Context, token, serverID string) (*Grant, error) {
	body, err := json.Marshal(connectionRequest{ServerID: serverID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+connectionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", apperrors.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, NewError(StatusAuthenticationRequired)
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, NewError(StatusSubscriptionRequired)
	case resp.StatusCode == http.StatusForbidden:
		return nil, NewError(StatusConnectionDenied)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: unknown server %q", apperrors.ErrInvalidInput, serverID)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: credential service returned %s", apperrors.ErrUnavailable, resp.Status)
	default:
		return nil, fmt.Errorf("unexpected credential service response: %s", resp.Status)
	}

	var grant Grant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", apperrors.ErrMalformedProfile, err)
	}
	if len(grant.Profile) == 0 || string(grant.Profile) == "null" {
		return nil, fmt.Errorf("%w: response has no profile", apperrors.ErrMalformedProfile)
	}
	if grant.SecondsUntilRefresh <= 0 && h.epochLength > 0 {
		grant.SecondsUntilRefresh = h.epochHint()
	}
	return &grant, nil
}

// epochHint places the refresh at a random point in the buffer before the
// next key rotation, rounded up to whole seconds.
func (h *HTTPIssuer) epochHint() int64 {
	d := schedule.EpochRefreshDelay(h.now(), h.epochLength, h.epochBuffer, h.randN)
	return int64((d + time.Second - 1) / time.Second)
}

func isTransient(err error) bool {
	return errors.Is(err, apperrors.ErrUnavailable)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperrors.ErrCredential):
		return "refused"
	case isTransient(err):
		return "unavailable"
	default:
		return "error"
	}
}
