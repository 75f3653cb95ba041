package credential

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/ratelimit"
	"github.com/go-i2p/wgclient/lib/resilience"
)

const testProfile = `{"client_addresses":["10.8.0.2/32"],"wg_endpoint":"vpn.example.com:51820"}`

func newTestIssuer(t *testing.T, handler http.HandlerFunc, tokens TokenStore) *HTTPIssuer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	if tokens == nil {
		tokens = NewMemoryTokenStore("secret")
	}
	issuer, err := NewHTTPIssuer(HTTPConfig{
		Endpoint:    srv.URL,
		Tokens:      tokens,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		Breaker:     resilience.CircuitBreakerConfig{FailureThreshold: 10},
		Limiter:     ratelimit.New(0, 1),
	})
	if err != nil {
		t.Fatalf("NewHTTPIssuer() error = %v", err)
	}
	return issuer
}

func writeGrant(w http.ResponseWriter, seconds int64) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"profile":` + testProfile + `,"seconds_until_refresh":` + jsonInt(seconds) + `}`))
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestRequestConnectionSuccess(t *testing.T) {
	issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/connections" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); !strings.HasPrefix(got, "wgclient/") {
			t.Errorf("User-Agent = %q", got)
		}
		var body connectionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ServerID != "ca_tor" {
			t.Errorf("body = %+v, err = %v", body, err)
		}
		writeGrant(w, 3600)
	}, nil)

	grant, err := issuer.RequestConnection(context.Background(), "ca_tor")
	if err != nil {
		t.Fatalf("RequestConnection() error = %v", err)
	}
	if grant.SecondsUntilRefresh != 3600 {
		t.Errorf("SecondsUntilRefresh = %d", grant.SecondsUntilRefresh)
	}
	if len(grant.Profile) == 0 {
		t.Error("profile is empty")
	}
}

func TestRequestConnectionRefusals(t *testing.T) {
	tests := []struct {
		code   int
		status Status
		reauth bool
	}{
		{http.StatusUnauthorized, StatusAuthenticationRequired, true},
		{http.StatusPaymentRequired, StatusSubscriptionRequired, false},
		{http.StatusForbidden, StatusConnectionDenied, false},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			var calls atomic.Int32
			issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.code)
			}, nil)

			_, err := issuer.RequestConnection(context.Background(), "ca_tor")
			if !apperrors.IsCredential(err) {
				t.Fatalf("error = %v, want credential error", err)
			}
			status, ok := StatusOf(err)
			if !ok || status != tt.status {
				t.Errorf("StatusOf() = %v, %v", status, ok)
			}
			var ce *Error
			if !errors.As(err, &ce) || ce.RequiresReauth() != tt.reauth {
				t.Errorf("RequiresReauth() mismatch for %v", err)
			}
			if calls.Load() != 1 {
				t.Errorf("refusals must not be retried, got %d calls", calls.Load())
			}
		})
	}
}

func TestRequestConnectionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeGrant(w, 60)
	}, nil)

	if _, err := issuer.RequestConnection(context.Background(), "usa_ny"); err != nil {
		t.Fatalf("RequestConnection() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRequestConnectionGivesUp(t *testing.T) {
	var calls atomic.Int32
	issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	_, err := issuer.RequestConnection(context.Background(), "usa_ny")
	if !errors.Is(err, apperrors.ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRequestConnectionMalformedResponse(t *testing.T) {
	for name, body := range map[string]string{
		"not json":   `{"profile":`,
		"no profile": `{"seconds_until_refresh":10}`,
		"null":       `{"profile":null}`,
	} {
		t.Run(name, func(t *testing.T) {
			issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}, nil)
			_, err := issuer.RequestConnection(context.Background(), "ca_tor")
			if !apperrors.IsMalformedProfile(err) {
				t.Errorf("error = %v, want malformed profile", err)
			}
		})
	}
}

func TestRequestConnectionUnknownServer(t *testing.T) {
	issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, nil)
	_, err := issuer.RequestConnection(context.Background(), "nowhere")
	if !apperrors.IsInvalidInput(err) {
		t.Errorf("error = %v, want invalid input", err)
	}
}

func TestRequestConnectionWithoutToken(t *testing.T) {
	issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent without a token")
	}, NewMemoryTokenStore(""))

	_, err := issuer.RequestConnection(context.Background(), "ca_tor")
	var ce *Error
	if !errors.As(err, &ce) || !ce.RequiresReauth() {
		t.Errorf("error = %v, want authentication required", err)
	}
}

func TestRequestConnectionContextCancelled(t *testing.T) {
	issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, nil)
	issuer.retryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := issuer.RequestConnection(ctx, "ca_tor")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestRequestConnectionThrottled(t *testing.T) {
	var hits atomic.Int32
	issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeGrant(w, 60)
	}, nil)
	issuer.limiter = ratelimit.New(0.001, 1)

	if _, err := issuer.RequestConnection(context.Background(), "ca_tor"); err != nil {
		t.Fatalf("first request error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := issuer.RequestConnection(ctx, "ca_tor"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("throttled request error = %v, want deadline exceeded", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("server hits = %d, want 1", n)
	}
}

func TestRequestConnectionEpochFallback(t *testing.T) {
	now := time.Unix(0, 0).Add(100*time.Hour + 30*time.Minute)
	tests := []struct {
		name  string
		randN func(int64) int64
		want  int64
	}{
		{"earliest point", func(int64) int64 { return 0 }, 25*60 + 10},
		{"latest point", func(n int64) int64 { return n - 1 }, 30*60 - 10},
		{"inside buffer", func(int64) int64 { return 100 }, 25*60 + 110},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
				writeGrant(w, 0)
			}, nil)
			issuer.epochLength = time.Hour
			issuer.epochBuffer = 5 * time.Minute
			issuer.randN = tt.randN
			issuer.now = func() time.Time { return now }

			grant, err := issuer.RequestConnection(context.Background(), "ca_tor")
			if err != nil {
				t.Fatalf("RequestConnection() error = %v", err)
			}
			if grant.SecondsUntilRefresh != tt.want {
				t.Errorf("SecondsUntilRefresh = %d, want %d", grant.SecondsUntilRefresh, tt.want)
			}
		})
	}
}

func TestRequestConnectionEpochFallbackRange(t *testing.T) {
	issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		writeGrant(w, 0)
	}, nil)
	issuer.epochLength = time.Hour
	issuer.epochBuffer = 5 * time.Minute
	issuer.now = func() time.Time { return time.Unix(0, 0).Add(7*time.Hour + 10*time.Minute) }

	for range 50 {
		grant, err := issuer.RequestConnection(context.Background(), "ca_tor")
		if err != nil {
			t.Fatalf("RequestConnection() error = %v", err)
		}
		if s := grant.SecondsUntilRefresh; s < 45*60+10 || s > 50*60-10 {
			t.Fatalf("SecondsUntilRefresh = %d outside the buffer before the next epoch", s)
		}
	}
}

func TestRequestConnectionKeepsReportedHint(t *testing.T) {
	issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		writeGrant(w, 90)
	}, nil)
	issuer.epochLength = time.Hour

	grant, err := issuer.RequestConnection(context.Background(), "ca_tor")
	if err != nil {
		t.Fatalf("RequestConnection() error = %v", err)
	}
	if grant.SecondsUntilRefresh != 90 {
		t.Errorf("SecondsUntilRefresh = %d, want 90", grant.SecondsUntilRefresh)
	}
}

func TestNewHTTPIssuerValidation(t *testing.T) {
	if _, err := NewHTTPIssuer(HTTPConfig{Endpoint: "not a url", Tokens: NewMemoryTokenStore("")}); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("bad endpoint error = %v", err)
	}
	if _, err := NewHTTPIssuer(HTTPConfig{Endpoint: "https://api.example.com"}); !errors.Is(err, apperrors.ErrConfiguration) {
		t.Errorf("missing token store error = %v", err)
	}
}

func TestIssuerFunc(t *testing.T) {
	var issuer Issuer = IssuerFunc(func(ctx context.Context, serverID string) (*Grant, error) {
		return &Grant{SecondsUntilRefresh: 5}, nil
	})
	grant, err := issuer.RequestConnection(context.Background(), "x")
	if err != nil || grant.SecondsUntilRefresh != 5 {
		t.Errorf("IssuerFunc = %+v, %v", grant, err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Status: StatusSubscriptionRequired, Err: errors.New("expired")}
	if got := err.Error(); got != "credential error: subscription_required: expired" {
		t.Errorf("Error() = %q", got)
	}
	if Status(99).String() != "unknown" {
		t.Error("unknown status should stringify as unknown")
	}
	if _, ok := StatusOf(errors.New("plain")); ok {
		t.Error("StatusOf should not match a plain error")
	}
}
