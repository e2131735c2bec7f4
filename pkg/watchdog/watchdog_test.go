package watchdog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestParseElapsed(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"45", 45 * time.Second},
		{"02:30", 2*time.Minute + 30*time.Second},
		{"01:02:03", time.Hour + 2*time.Minute + 3*time.Second},
		{"1-00:00:00", 24 * time.Hour},
	}
	for _, tc := range cases {
		got, err := parseElapsed(tc.in)
		if err != nil {
			t.Fatalf("parseElapsed(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("parseElapsed(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseElapsedRejectsEmptyAndMalformed(t *testing.T) {
	for _, in := range []string{"", "1:2:3:4", "ab:cd"} {
		if _, err := parseElapsed(in); err == nil {
			t.Errorf("parseElapsed(%q) expected an error", in)
		}
	}
}

type fakeMetricsReader struct {
	m   ProcessMetrics
	err error
}

func (f fakeMetricsReader) Read(pid int) (ProcessMetrics, error) { return f.m, f.err }

func newTestWatchdog(cfg Config, metrics ProcessMetricsReader) *Watchdog {
	cfg.PID = os.Getpid() // always alive for the duration of the test
	return New(cfg, metrics)
}

// TestHealthCheckFlagsProcessAbsent checks a PID that no longer exists is
// reported unhealthy before any HTTP probe or metrics read happens.
func TestHealthCheckFlagsProcessAbsent(t *testing.T) {
	w := New(Config{PID: -1}, fakeMetricsReader{})
	healthy, reason := w.healthCheck(context.Background())
	if healthy {
		t.Fatal("expected an absent PID to be unhealthy")
	}
	if reason != "process absent" {
		t.Fatalf("reason = %q, want %q", reason, "process absent")
	}
}

// TestHealthCheckFlagsNonOKStatus checks a non-2xx health endpoint response
// is treated as a failure.
func TestHealthCheckFlagsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := newTestWatchdog(Config{HealthURL: srv.URL}, fakeMetricsReader{})
	healthy, _ := w.healthCheck(context.Background())
	if healthy {
		t.Fatal("expected a 503 health response to be unhealthy")
	}
}

// TestHealthCheckFlagsMemoryOverLimit checks the MaxMemoryMB threshold.
func TestHealthCheckFlagsMemoryOverLimit(t *testing.T) {
	w := newTestWatchdog(Config{MaxMemoryMB: 100}, fakeMetricsReader{m: ProcessMetrics{RSSMB: 500}})
	healthy, reason := w.healthCheck(context.Background())
	if healthy {
		t.Fatal("expected memory over the configured max to be unhealthy")
	}
	if reason == "" {
		t.Fatal("expected a non-empty reason")
	}
}

// TestHealthCheckFlagsCPUOverLimit checks the MaxCPUPercent threshold.
func TestHealthCheckFlagsCPUOverLimit(t *testing.T) {
	w := newTestWatchdog(Config{MaxCPUPercent: 50}, fakeMetricsReader{m: ProcessMetrics{CPUPercent: 99}})
	healthy, _ := w.healthCheck(context.Background())
	if healthy {
		t.Fatal("expected CPU over the configured max to be unhealthy")
	}
}

// TestHealthCheckMetricsUnavailableIsNotFailure checks a metrics read error
// alone does not flip the check unhealthy (per healthCheck's comment: it
// falls through treating this as healthy).
func TestHealthCheckMetricsUnavailableIsNotFailure(t *testing.T) {
	w := newTestWatchdog(Config{MaxMemoryMB: 100}, fakeMetricsReader{err: errors.New("no /proc on this platform")})
	healthy, _ := w.healthCheck(context.Background())
	if !healthy {
		t.Fatal("expected an unavailable metrics reader to not itself fail the health check")
	}
}

// TestRestartAdoptedProcessReturnsSentinelError checks Restart refuses to
// respawn a process it merely attached to.
func TestRestartAdoptedProcessReturnsSentinelError(t *testing.T) {
	w := New(Config{PID: -1, Adopted: true, RestartDelay: time.Millisecond}, fakeMetricsReader{})
	err := w.Restart("test")
	if !errors.Is(err, ErrAdoptedPIDCannotRespawn) {
		t.Fatalf("Restart error = %v, want ErrAdoptedPIDCannotRespawn", err)
	}
}

// TestRestartWithoutCommandErrors checks a spawned (non-adopted) watchdog
// with no configured respawn command fails rather than silently no-op'ing.
func TestRestartWithoutCommandErrors(t *testing.T) {
	w := New(Config{PID: -1, RestartDelay: time.Millisecond}, fakeMetricsReader{})
	if err := w.Restart("test"); err == nil {
		t.Fatal("expected an error with no RespawnCommand configured")
	}
}

// TestHandleFailureCapsRestartsWithinWindow checks that once MaxRestarts
// restarts have happened inside RestartWindow, further failures escalate
// instead of attempting another restart.
func TestHandleFailureCapsRestartsWithinWindow(t *testing.T) {
	base := time.Unix(1000, 0)
	clock := base
	w := New(Config{
		PID: -1, Adopted: true, RestartDelay: time.Millisecond,
		RestartWindow: time.Minute, MaxRestarts: 2,
		Now: func() time.Time { return clock },
	}, fakeMetricsReader{})

	w.handleFailure("reason-1")
	w.handleFailure("reason-2")
	// Both restarts recorded; a third failure within the window must
	// escalate rather than attempt another restart.
	w.handleFailure("reason-3")

	hist := w.History()
	var escalations int
	for _, e := range hist {
		if e.Kind == RecoveryEscalation {
			escalations++
		}
	}
	if escalations != 1 {
		t.Fatalf("escalation events = %d, want 1 after exceeding MaxRestarts within the window", escalations)
	}
}

// TestHandleFailureWindowExpiryResetsBudget checks restarts that have aged
// out of RestartWindow no longer count against MaxRestarts.
func TestHandleFailureWindowExpiryResetsBudget(t *testing.T) {
	base := time.Unix(1000, 0)
	clock := base
	w := New(Config{
		PID: -1, Adopted: true, RestartDelay: time.Millisecond,
		RestartWindow: time.Minute, MaxRestarts: 1,
		Now: func() time.Time { return clock },
	}, fakeMetricsReader{})

	w.handleFailure("reason-1")
	clock = base.Add(2 * time.Minute) // well past RestartWindow
	w.handleFailure("reason-2")

	hist := w.History()
	var escalations int
	for _, e := range hist {
		if e.Kind == RecoveryEscalation {
			escalations++
		}
	}
	if escalations != 0 {
		t.Fatalf("escalation events = %d, want 0 once the earlier restart has aged out of the window", escalations)
	}
}

// TestHistoryRingBufferIsCapped checks the ring buffer discards the oldest
// entries beyond its cap rather than growing unbounded.
func TestHistoryRingBufferIsCapped(t *testing.T) {
	w := New(Config{PID: -1, Adopted: true}, fakeMetricsReader{})
	for i := 0; i < 60; i++ {
		w.appendRing(RecoveryEvent{Kind: RecoveryAlert, Message: "tick", Timestamp: time.Now()})
	}
	if len(w.History()) != 50 {
		t.Fatalf("History length = %d, want capped at 50", len(w.History()))
	}
}
