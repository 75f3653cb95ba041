package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSetPhase(t *testing.T) {
	SetPhase("connecting")
	SetPhase("connected")

	if got := testutil.ToFloat64(SessionPhase.WithLabelValues("connected")); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(SessionPhase); got != 1 {
		t.Errorf("SessionPhase has %d series, want exactly 1", got)
	}
}

func TestSetNextRefresh(t *testing.T) {
	deadline := time.Unix(1_700_000_000, 0)
	SetNextRefresh(deadline)
	if got := testutil.ToFloat64(NextRefresh); got != 1_700_000_000 {
		t.Errorf("NextRefresh = %v", got)
	}
	SetNextRefresh(time.Time{})
	if got := testutil.ToFloat64(NextRefresh); got != 0 {
		t.Errorf("NextRefresh after clear = %v", got)
	}
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(ConnectFailures.WithLabelValues("credential"))
	ConnectFailures.WithLabelValues("credential").Inc()
	if got := testutil.ToFloat64(ConnectFailures.WithLabelValues("credential")); got != before+1 {
		t.Errorf("ConnectFailures = %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(Refreshes)
	Refreshes.Inc()
	if got := testutil.ToFloat64(Refreshes); got != before+1 {
		t.Errorf("Refreshes = %v, want %v", got, before+1)
	}
}

func TestRecordStartTime(t *testing.T) {
	RecordStartTime()
	got := testutil.ToFloat64(StartTime)
	if now := float64(time.Now().Unix()); got < now-5 || got > now+5 {
		t.Errorf("StartTime = %v, want about %v", got, now)
	}
}

func TestHandler(t *testing.T) {
	TunnelUp.Set(1)
	CredentialRequestDuration.WithLabelValues("success").Observe(0.2)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	for _, want := range []string{
		"wgclient_tunnel_up 1",
		"wgclient_credential_request_duration_seconds_bucket",
		"# TYPE wgclient_connect_attempts_total counter",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
