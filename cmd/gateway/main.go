// Command gateway is the policy-enforcing agent gateway's single
// entrypoint: it wires the reliability pipeline, the sentinel safety
// pipeline, and the health/degradation control plane behind the
// invoke/recordEvidence HTTP surface, using a plain http.ServeMux and a
// signal.NotifyContext shutdown.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentineldev/agentgate/internal/config"
	"github.com/sentineldev/agentgate/pkg/gwerrors"
	"github.com/sentineldev/agentgate/pkg/health"
	"github.com/sentineldev/agentgate/pkg/logging"
	"github.com/sentineldev/agentgate/pkg/metrics"
	"github.com/sentineldev/agentgate/pkg/reliability"
	"github.com/sentineldev/agentgate/pkg/sentinel"
	"github.com/sentineldev/agentgate/pkg/types"
)

func main() {
	logger := logging.New("agentgate-gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfgPath := envOr("AGENTGATE_CONFIG", "")
	shieldPath := envOr("AGENTGATE_SHIELD_CONFIG", "")

	loader, err := config.NewLoader(cfgPath, logger)
	if err != nil {
		logger.Error("config load failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot-reload disabled", map[string]interface{}{"error": err.Error()})
	}
	defer loader.Close()
	cfg := loader.Current()
	if shieldPath == "" {
		shieldPath = cfg.ShieldConfigPath
	}

	reg := prometheus.NewRegistry()
	sink := metrics.New(reg)

	gw, err := buildGateway(cfg, shieldPath, sink, logger)
	if err != nil {
		logger.Error("gateway init failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer gw.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/invoke", gw.handleInvoke)
	mux.HandleFunc("/evidence", gw.handleRecordEvidence)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	addr := envOr("AGENTGATE_ADDR", ":8080")
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("gateway listening", map[string]interface{}{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", map[string]interface{}{"error": err.Error()})
	}
}

// gateway bundles every subsystem the invoke()/recordEvidence() handlers
// dispatch through.
type gateway struct {
	sentinel     *sentinel.Sentinel
	pipeline     *reliability.Pipeline
	breakers     *reliability.Registry
	healthMgr    *health.Manager
	degradation  *health.Controller
	alerts       *health.AlertManager
	tools        map[string]reliability.Tool
	logger       logging.Logger
	metrics      *metrics.Sink
}

func buildGateway(cfg config.SentinelConfig, shieldPath string, sink *metrics.Sink, logger logging.Logger) (*gateway, error) {
	metricsAdapter := reliability.NewPrometheusMetrics(sink)

	cache := reliability.NewCache(reliability.CacheConfig{
		Capacity:   cfg.CacheCapacity,
		DefaultTTL: cfg.CacheDefaultTTL,
		Enabled:    true,
	})

	breakers := reliability.NewRegistry(func(tool string) reliability.CircuitBreakerConfig {
		c := reliability.DefaultCircuitBreakerConfig(tool)
		c.FailureThreshold = cfg.CircuitFailureThreshold
		c.OpenMs = cfg.CircuitOpenTimeout
		c.Logger = logger
		c.Metrics = metricsAdapter
		return c
	})

	retryCfgFn := func(string) reliability.RetryConfig {
		rc := reliability.DefaultRetryConfig()
		rc.MaxRetries = cfg.RetryMaxAttempts
		rc.Metrics = metricsAdapter
		return rc
	}

	pipeline := reliability.NewPipeline(reliability.PipelineConfig{
		Cache:         cache,
		Breakers:      breakers,
		RetryConfigFn: retryCfgFn,
		Logger:        logger,
	})

	sent, err := sentinel.New(sentinel.Config{
		Store:            sentinel.DefaultStoreConfig(),
		Injection:        sensitivityInjectionConfig(cfg.InjectionSensitivity),
		Hallucination:    sensitivityHallucinationConfig(cfg.HallucinationSensitivity),
		Judge:            judgeConfig(cfg.JudgeEnabled),
		Shield:           sentinel.DefaultShieldConfig(),
		ShieldConfigPath: shieldPath,
		BusBufferSize:    256,
		Logger:           logger,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: sentinel init: %w", err)
	}

	alerts := health.NewAlertManager(health.NewSlackSink(os.Getenv("SLACK_BOT_TOKEN"), envOr("SLACK_ALERT_CHANNEL", "#agentgate-alerts"), logger))

	healthMgr := health.NewManager(health.ManagerConfig{
		Checks: health.DefaultChecks(
			func(ctx context.Context) error { return nil }, // process is responsive by virtue of handling this check
			func(ctx context.Context) error { return checkMemoryPressure() },
			func(ctx context.Context) error { return nil }, // no durable store wired by default
		),
		ResourceSampler: sampleResources,
		Alerts:          alerts,
		Logger:          logger,
	})

	degradation := health.NewController(health.DegradationConfig{
		Levels: health.DefaultDegradationLevels(),
		SampleFn: func() health.TriggerSample {
			return health.TriggerSample{} // populated from live metrics by a fuller deployment
		},
	}, 256, 1024)
	degradation.Start()

	return &gateway{
		sentinel:    sent,
		pipeline:    pipeline,
		breakers:    breakers,
		healthMgr:   healthMgr,
		degradation: degradation,
		alerts:      alerts,
		tools:       map[string]reliability.Tool{},
		logger:      logger,
		metrics:     sink,
	}, nil
}

func (g *gateway) Close() {
	g.sentinel.Close()
	g.healthMgr.Stop()
	g.degradation.Stop()
}

// invokeRequest is the wire shape for POST /invoke
type invokeRequest struct {
	AgentID        string                 `json:"agentId"`
	Tool           string                 `json:"tool"`
	Action         string                 `json:"action"`
	Params         map[string]interface{} `json:"params"`
	ExternalAction bool                   `json:"externalAction"`
}

type invokeResponse struct {
	CorrelationID string      `json:"correlationId"`
	Result        interface{} `json:"result,omitempty"`
	Sanitized     bool        `json:"sanitized,omitempty"`
	Decision      *types.ShieldDecision `json:"shieldDecision,omitempty"`
}

func (g *gateway) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, gwerrors.New("invoke", gwerrors.InvalidRequest, err))
		return
	}

	tool, ok := g.tools[req.Tool]
	if !ok {
		writeGatewayError(w, gwerrors.New("invoke", gwerrors.InvalidRequest, fmt.Errorf("unknown tool %q", req.Tool)))
		return
	}

	if reject := g.degradation.ShouldReject(r.URL.Path); reject != health.RejectNone {
		writeGatewayError(w, gwerrors.New("invoke", gwerrors.Internal, fmt.Errorf("request shed: %s", reject)))
		return
	}
	if !g.degradation.AcquireSlot() {
		writeGatewayError(w, gwerrors.New("invoke", gwerrors.Internal, fmt.Errorf("concurrency limit exceeded")))
		return
	}
	defer g.degradation.ReleaseSlot()

	correlationID := uuid.NewString()
	start := time.Now()

	result, decision, err := g.sentinel.Guard(r.Context(), sentinel.Invocation{
		CorrelationID:  correlationID,
		AgentID:        req.AgentID,
		Tool:           req.Tool,
		Action:         req.Action,
		Params:         req.Params,
		ExternalAction: req.ExternalAction,
		Sink:           sentinel.SinkExternal,
	}, func(ctx context.Context) (interface{}, error) {
		return g.pipeline.Execute(ctx, tool, req.Action, req.Params)
	})

	code := "ok"
	if err != nil {
		code = "error"
	}
	g.metrics.RecordRequest(req.Tool, req.Action, code, float64(time.Since(start).Milliseconds()))

	if err != nil {
		writeGatewayError(w, err)
		return
	}

	resp := invokeResponse{CorrelationID: correlationID, Decision: decision}
	if sanitized, ok := result.(gwerrors.Sanitized); ok {
		resp.Result = sanitized.Value
		resp.Sanitized = true
	} else {
		resp.Result = result
	}
	writeJSON(w, http.StatusOK, resp)
}

type recordEvidenceRequest struct {
	CorrelationID string `json:"correlationId"`
	SpanID        string `json:"spanId"`
	SourceID      string `json:"sourceId"`
	URL           string `json:"url"`
	Content       string `json:"content"`
}

func (g *gateway) handleRecordEvidence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req recordEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGatewayError(w, gwerrors.New("recordEvidence", gwerrors.InvalidRequest, err))
		return
	}
	g.sentinel.AddEvidence(req.CorrelationID, req.SpanID, req.SourceID, req.URL, req.Content)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (g *gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := g.healthMgr.Snapshot()
	overall := g.healthMgr.Overall()
	status := http.StatusOK
	if overall == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status":          overall,
		"checks":          snapshot,
		"degradationLevel": g.degradation.ActiveLevel(),
	})
}

func writeGatewayError(w http.ResponseWriter, err error) {
	var ge *gwerrors.GatewayError
	if !errors.As(err, &ge) {
		ge = gwerrors.New("", gwerrors.Internal, err)
	}
	msg := ge.Error()
	if ge.Kind == gwerrors.Internal {
		msg = string(gwerrors.Internal)
	}
	writeJSON(w, statusForKind(ge.Kind), map[string]interface{}{
		"kind":    ge.Kind,
		"message": msg,
	})
}

func statusForKind(k gwerrors.Kind) int {
	switch k {
	case gwerrors.InvalidRequest:
		return http.StatusBadRequest
	case gwerrors.PolicyDenied, gwerrors.SafetyBlocked:
		return http.StatusForbidden
	case gwerrors.CircuitOpen, gwerrors.Timeout, gwerrors.UpstreamTransient:
		return http.StatusServiceUnavailable
	case gwerrors.UpstreamPermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sensitivityInjectionConfig(level string) sentinel.InjectionConfig {
	cfg := sentinel.DefaultInjectionConfig()
	cfg.Sensitivity = parseSensitivity(level)
	return cfg
}

func sensitivityHallucinationConfig(level string) sentinel.HallucinationConfig {
	return sentinel.HallucinationConfig{Sensitivity: parseSensitivity(level)}
}

func parseSensitivity(level string) sentinel.Sensitivity {
	switch level {
	case "low":
		return sentinel.SensitivityLow
	case "high":
		return sentinel.SensitivityHigh
	default:
		return sentinel.SensitivityMedium
	}
}

func judgeConfig(enabled bool) sentinel.JudgeConfig {
	cfg := sentinel.DefaultJudgeConfig()
	cfg.Enabled = enabled
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func checkMemoryPressure() error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if m.HeapAlloc > 0 && float64(m.HeapAlloc)/float64(m.HeapSys) > 0.95 {
		return fmt.Errorf("heap pressure: %d/%d bytes", m.HeapAlloc, m.HeapSys)
	}
	return nil
}

func sampleResources() types.ResourceSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return types.ResourceSnapshot{
		Timestamp: time.Now(),
		Memory: types.MemorySnapshot{
			HeapBytes: m.HeapAlloc,
			RSSBytes:  m.Sys,
			ExtBytes:  m.HeapSys,
		},
		EventListeners: runtime.NumGoroutine(),
	}
}
