package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/agentrt/internal/agent"
	agentctx "github.com/haasonsaas/agentrt/internal/agent/context"
	"github.com/haasonsaas/agentrt/internal/agent/providers"
	"github.com/haasonsaas/agentrt/internal/config"
	"github.com/haasonsaas/agentrt/internal/observability"
	"github.com/haasonsaas/agentrt/internal/sessions"
	toolexec "github.com/haasonsaas/agentrt/internal/tools/exec"
	"github.com/haasonsaas/agentrt/internal/tools/files"
	"github.com/haasonsaas/agentrt/internal/transport"
)

// summaryTimeout bounds one compression summary request.
const summaryTimeout = 90 * time.Second

// runtime holds everything a command needs after the config is loaded.
// Commands that only touch sessions never build an adapter.
type runtime struct {
	cfg     *config.Config
	opts    *globalOptions
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	store   sessions.Store
	events  *eventLog

	closers []func(context.Context) error
}

// loadConfig reads the configured file, or builds one from the environment
// when there is none.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	path := resolveConfigPath(opts.configPath)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newRuntime loads the config and opens logging, metrics, tracing and the
// session store.
func newRuntime(ctx context.Context, opts *globalOptions) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logCfg := cfg.LogConfig()
	if opts.logLevel != "" {
		logCfg.Level = opts.logLevel
	}
	logCfg.Output = os.Stderr
	logger := observability.NewLogger(logCfg).Slog()
	slog.SetDefault(logger)

	rt := &runtime{cfg: cfg, opts: opts, logger: logger}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = observability.NewMetrics(registry)
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		rt.serveMetrics(addr, registry)
	}

	tracer, shutdown := observability.NewTracer(cfg.TraceConfig(version))
	rt.tracer = tracer
	rt.closers = append(rt.closers, shutdown)

	if opts.eventsPath != "" {
		events, err := openEventLog(opts.eventsPath)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.events = events
		rt.closers = append(rt.closers, events.Close)
	}

	store, closeStore, err := openStore(ctx, cfg.Sessions)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.store = store
	if closeStore != nil {
		rt.closers = append(rt.closers, func(context.Context) error { return closeStore() })
	}
	return rt, nil
}

// openStore opens the configured session store. The returned closer is nil
// for stores without resources.
func openStore(ctx context.Context, cfg config.SessionsConfig) (sessions.Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		return sessions.NewMemoryStore(), nil, nil
	case "sqlite", "":
		if cfg.DSN != "" && cfg.DSN != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
				return nil, nil, fmt.Errorf("create session directory: %w", err)
			}
		}
		store, err := sessions.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown sessions driver %q", cfg.Driver)
	}
}

func (rt *runtime) serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	rt.logger.Info("serving metrics", "addr", addr)
	rt.closers = append(rt.closers, server.Shutdown)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// baseTools returns the built-in tools enabled by the tools section.
func (rt *runtime) baseTools() []agent.Tool {
	tc := rt.cfg.Tools
	fileCfg := files.Config{
		Workspace:    tc.Workspace,
		Allow:        tc.Allow,
		Deny:         tc.Deny,
		MaxReadBytes: tc.MaxReadBytes,
	}
	tools := []agent.Tool{
		files.NewReadTool(fileCfg),
		files.NewWriteTool(fileCfg),
		files.NewListTool(fileCfg),
	}
	if tc.EnableShell {
		tools = append(tools, toolexec.NewShellTool(toolexec.NewRunner(toolexec.RunnerConfig{
			Workspace: tc.Workspace,
			Shell:     tc.Shell,
			Timeout:   tc.ShellTimeout,
		})))
	}
	return tools
}

// loopConfig builds the loop template for the selected provider. Tools is
// left for the caller so a team can add its own.
func (rt *runtime) loopConfig(sink agent.EventSink, gate agent.ApprovalGate) (agent.LoopConfig, error) {
	pc, err := rt.cfg.Provider(rt.opts.provider)
	if err != nil {
		return agent.LoopConfig{}, err
	}
	registry := providers.NewRegistry(transport.New(transport.WithLogger(rt.logger)), rt.logger)
	adapter, err := registry.New(pc)
	if err != nil {
		return agent.LoopConfig{}, fmt.Errorf("provider %s: %w (known types: %s)", pc.Name, err, strings.Join(registry.Tags(), ", "))
	}

	if rt.events != nil {
		sink = agent.NewMultiSink(sink, rt.events.Sink())
	}
	policy := rt.cfg.Agent.Approval
	summarizer := agentctx.NewSummarizer(agent.NewAdapterSummaryProvider(adapter, pc)).WithTimeout(summaryTimeout)
	return agent.LoopConfig{
		Adapter:       adapter,
		Provider:      pc,
		Store:         rt.store,
		Approvals:     agent.NewApprovalChecker(&policy),
		Gate:          gate,
		AutoApprove:   rt.cfg.Agent.AutoApprove,
		MaxIterations: rt.cfg.Agent.MaxIterations,
		Compression:   rt.cfg.Compression,
		Compressor:    agentctx.NewCompressor(summarizer, rt.logger),
		Estimator:     agentctx.NewEstimator(),
		Sink:          sink,
		Logger:        rt.logger,
		Metrics:       rt.metrics,
		Tracer:        rt.tracer,
	}, nil
}

// newLoop builds a single agent with the base tools.
func (rt *runtime) newLoop(sink agent.EventSink, gate agent.ApprovalGate) (*agent.AgentLoop, error) {
	cfg, err := rt.loopConfig(sink, gate)
	if err != nil {
		return nil, err
	}
	tools := agent.NewToolRegistry(rt.cfg.Agent.ToolTimeout, rt.logger)
	for _, t := range rt.baseTools() {
		if err := tools.Register(t); err != nil {
			return nil, err
		}
	}
	cfg.Tools = tools
	return agent.NewAgentLoop(cfg)
}
