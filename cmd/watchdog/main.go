// Command watchdog supervises one gateway process from outside its own
// address space: PID liveness, HTTP health probing,
// and an OS-level metrics-driven restart policy. It is deliberately a
// separate binary so it keeps working when the supervised gateway itself
// becomes unresponsive.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sentineldev/agentgate/pkg/logging"
	"github.com/sentineldev/agentgate/pkg/watchdog"
)

func main() {
	logger := logging.New("agentgate-watchdog")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pid, err := strconv.Atoi(os.Getenv("AGENTGATE_WATCH_PID"))
	if err != nil || pid <= 0 {
		logger.Error("watchdog: AGENTGATE_WATCH_PID must be a positive integer", map[string]interface{}{"error": err})
		os.Exit(1)
	}

	adopted := os.Getenv("AGENTGATE_WATCH_ADOPTED") == "true"
	var respawn []string
	if cmd := os.Getenv("AGENTGATE_RESPAWN_COMMAND"); cmd != "" {
		respawn = strings.Fields(cmd)
	}

	wd := watchdog.New(watchdog.Config{
		PID:              pid,
		Adopted:          adopted,
		RespawnCommand:   respawn,
		HealthURL:        envOr("AGENTGATE_HEALTH_URL", "http://localhost:8080/health"),
		CheckInterval:    envDuration("AGENTGATE_WATCH_INTERVAL", 10*time.Second),
		HTTPTimeout:      envDuration("AGENTGATE_WATCH_TIMEOUT", 5*time.Second),
		MaxResponseTime:  envDuration("AGENTGATE_WATCH_MAX_RESPONSE", 3*time.Second),
		MaxMemoryMB:      envFloat("AGENTGATE_WATCH_MAX_MEMORY_MB", 2048),
		MaxCPUPercent:    envFloat("AGENTGATE_WATCH_MAX_CPU_PERCENT", 90),
		FailureThreshold: 3,
		RestartDelay:     10 * time.Second,
		RestartWindow:    10 * time.Minute,
		MaxRestarts:      5,
		Logger:           logger,
	}, nil)

	wd.Start()
	logger.Info("watchdog started", map[string]interface{}{"pid": pid, "adopted": adopted})

	<-ctx.Done()
	logger.Info("watchdog stopping", nil)
	wd.Stop()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
