// Package app wires the dispatch server together: configuration, logging,
// telemetry, the LLM provider, the MCP client and tool registry, the trace
// emitter, and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/config"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/core"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/dispatch"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/httpapi"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/llm"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/mcp"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/prompts"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/registry"
	"github.com/FISA5th-AI-Final-Team4/LLMServer/pkg/telemetry"
)

// Version is reported on the root endpoint and in telemetry resources.
const Version = "0.1.0"

const serviceName = "llmserver"

// App is the assembled dispatch server.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mcpClient *mcp.Client
	registry  *registry.Registry
	agent     *dispatch.Agent
	emitter   *telemetry.Emitter
	traceSink *telemetry.SQLiteSink
	watcher   *config.Watcher

	httpServer        *http.Server
	shutdownTelemetry telemetry.ShutdownFunc
}

// New assembles the server from configuration. The tool catalog is loaded
// here: a tool server that stays unreachable through the retry budget fails
// startup.
func New(ctx context.Context, cfg *config.Config, configPath string) (*App, error) {
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdownTelemetry, err := telemetry.Init(serviceName, Version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	provider, err := newProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}

	mcpClient, err := newMCPClient(cfg.MCP)
	if err != nil {
		return nil, fmt.Errorf("connecting to tool server: %w", err)
	}

	reg := registry.New(mcpClient)
	if err := reg.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading tool catalog: %w", err)
	}
	logger.InfoContext(ctx, "tool catalog loaded", "tools", reg.Catalog().Names())

	promptSet, err := prompts.Load(cfg.Prompts.Path)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}

	sinks := []telemetry.EventSink{telemetry.SlogSink{Logger: logger}}
	var traceSink *telemetry.SQLiteSink
	if cfg.Trace.SQLitePath != "" {
		traceSink, err = telemetry.NewSQLiteSink(cfg.Trace.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("opening trace store: %w", err)
		}
		sinks = append(sinks, traceSink)
	}
	emitter := telemetry.NewEmitter(cfg.Trace.QueueSize, logger, sinks...)

	metrics, err := telemetry.NewDispatchMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	metrics.RecordCatalogSize(ctx, int64(reg.Catalog().Len()))

	agent := dispatch.New(provider, reg,
		dispatch.WithModel(cfg.LLM.Model),
		dispatch.WithTemperature(cfg.LLM.Temperature),
		dispatch.WithPrompts(promptSet),
		dispatch.WithEmitter(core.Fanout{metrics, emitter}),
		dispatch.WithLogger(logger),
		dispatch.WithModelTimeout(time.Duration(cfg.LLM.CallTimeoutSeconds)*time.Second),
		dispatch.WithToolTimeout(time.Duration(cfg.MCP.CallTimeoutSeconds)*time.Second),
	)

	health := core.NewHealthCheckProvider()
	health.RegisterChecker("catalog", core.NewFunctionHealthChecker(func(context.Context) core.HealthResult {
		if reg.Catalog().Len() == 0 {
			return core.HealthResult{Status: core.HealthUnhealthy, Message: "tool catalog is empty"}
		}
		return core.HealthResult{Status: core.HealthHealthy}
	}))
	health.RegisterChecker("trace_emitter", core.NewFunctionHealthChecker(func(context.Context) core.HealthResult {
		if n := emitter.Dropped(); n > 0 {
			return core.HealthResult{Status: core.HealthDegraded, Message: fmt.Sprintf("%d trace events dropped", n)}
		}
		return core.HealthResult{Status: core.HealthHealthy}
	}))

	apiOpts := []httpapi.Option{
		httpapi.WithHealth(health),
		httpapi.WithLogger(logger),
		httpapi.WithVersion(Version),
	}
	if traceSink != nil {
		apiOpts = append(apiOpts, httpapi.WithTraceReader(traceSink))
	}
	api := httpapi.New(agent, reg, apiOpts...)

	app := &App{
		cfg:               cfg,
		logger:            logger,
		mcpClient:         mcpClient,
		registry:          reg,
		agent:             agent,
		emitter:           emitter,
		traceSink:         traceSink,
		shutdownTelemetry: shutdownTelemetry,
		httpServer: &http.Server{
			Addr:         cfg.Server.Addr,
			Handler:      api.Handler(),
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		},
	}

	if configPath != "" {
		watcher, err := config.NewWatcher([]string{configPath}, config.WithWatchLogger(logger))
		if err != nil {
			logger.WarnContext(ctx, "config watcher disabled", "error", err)
		} else {
			watcher.OnChange(func(*config.Config) {
				app.reloadCatalog()
			})
			app.watcher = watcher
		}
	}

	return app, nil
}

// Run serves HTTP until the context is cancelled, then shuts everything
// down in dependency order.
func (a *App) Run(ctx context.Context) error {
	if a.watcher != nil {
		a.watcher.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	a.logger.InfoContext(ctx, "server listening", "addr", a.cfg.Server.Addr)

	select {
	case err := <-errCh:
		a.close(context.Background())
		return err
	case <-ctx.Done():
	}
	return a.close(context.Background())
}

func (a *App) close(ctx context.Context) error {
	grace := time.Duration(a.cfg.Server.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	var firstErr error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if err := a.emitter.Close(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.mcpClient.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.shutdownTelemetry(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	a.logger.Info("server stopped")
	return firstErr
}

// reloadCatalog swaps in a fresh catalog snapshot. In-flight dispatches
// keep the snapshot they started with.
func (a *App) reloadCatalog() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.registry.Load(ctx); err != nil {
		a.logger.Error("catalog reload failed", "error", err)
		return
	}
	a.logger.Info("tool catalog reloaded", "tools", a.registry.Catalog().Names())
}

func newProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "ollama":
		return llm.NewOllama(cfg.BaseURL), nil
	case "openai":
		return llm.NewOpenAI(cfg.APIKey, cfg.BaseURL, llm.WithOpenAIModel(cfg.Model)), nil
	case "mock":
		return &llm.MockProvider{Response: "mock response"}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

func newMCPClient(cfg config.MCPConfig) (*mcp.Client, error) {
	opts := []mcp.ClientOption{
		mcp.WithTimeout(time.Duration(cfg.CallTimeoutSeconds) * time.Second),
		mcp.WithListRetry(cfg.LoadRetries, time.Duration(cfg.LoadBackoffMs)*time.Millisecond),
	}
	switch cfg.Transport {
	case "", "http":
		return mcp.NewClientWithStreamableHTTPProtocol(cfg.URL, cfg.ProtocolVersion, opts...)
	case "stdio":
		parts := strings.Fields(cfg.Command)
		if len(parts) == 0 {
			return nil, fmt.Errorf("stdio transport requires mcp.command")
		}
		return mcp.NewClientWithStdioProtocol(parts[0], parts[1:], cfg.ProtocolVersion, opts...)
	default:
		return nil, fmt.Errorf("unknown mcp transport: %s", cfg.Transport)
	}
}
