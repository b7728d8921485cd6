package main

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/edabox/agent"
	"github.com/isdmx/edabox/codegen"
	"github.com/isdmx/edabox/config"
	"github.com/isdmx/edabox/logger"
	"github.com/isdmx/edabox/mcpserver"
	"github.com/isdmx/edabox/memory"
	"github.com/isdmx/edabox/metrics"
	"github.com/isdmx/edabox/sandbox"
)

func main() {
	app := fx.New(
		appOptions(),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}

func appOptions() fx.Option {
	return fx.Options(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Prometheus collector, also the engine's observer
			metrics.NewCollector,

			// Execution engine
			newExecutor,

			// Per-dataset memory on the configured backend
			memory.NewFromConfig,

			// Question answering, nil without an API key
			newAgent,

			// MCP Server
			newMCPServer,
		),

		fx.Invoke(
			registerStore,
			registerMetricsServer,
			registerTransport,
		),
	)
}

func newExecutor(log *zap.Logger, cfg *config.Config, collector *metrics.Collector) (sandbox.SandboxExecutor, error) {
	return sandbox.NewExecutor(log, cfg, sandbox.WithObserver(collector))
}

func newAgent(log *zap.Logger, cfg *config.Config, executor sandbox.SandboxExecutor, store *memory.Store) *agent.Agent {
	if !cfg.LLMEnabled() {
		log.Info("llm.api_key not set, ask_dataset disabled")
		return nil
	}
	llm := codegen.NewOpenAIClient(log, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model)
	return agent.New(log, llm, executor, store, agent.ConfigFrom(cfg))
}

func newMCPServer(
	cfg *config.Config,
	log *zap.Logger,
	executor sandbox.SandboxExecutor,
	store *memory.Store,
	ag *agent.Agent,
	collector *metrics.Collector,
) (*mcpserver.MCPServer, error) {
	return mcpserver.New(cfg, log, executor, store,
		mcpserver.WithAgent(ag),
		mcpserver.WithToolObserver(collector),
	)
}

func registerStore(lc fx.Lifecycle, store *memory.Store) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return store.Close()
		},
	})
}

func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, collector *metrics.Collector) {
	if !cfg.Metrics.Enabled {
		return
	}
	srv := metrics.NewServer(collector, cfg.Metrics.Port)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return srv.Start()
		},
		OnStop: srv.Shutdown,
	})
}

// registerTransport starts the configured transport in the background. The
// application stops when the transport ends.
func registerTransport(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, server *mcpserver.MCPServer, log *zap.Logger) {
	var serve func() error
	switch cfg.Server.Transport {
	case "stdio":
		serve = server.ServeStdio
	case "http":
		serve = server.ServeHTTP
	default:
		panic("unsupported transport: " + cfg.Server.Transport)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := serve(); err != nil {
					log.Error("transport stopped", zap.String("transport", cfg.Server.Transport), zap.Error(err))
				}
				_ = shutdowner.Shutdown()
			}()
			return nil
		},
		OnStop: server.Shutdown,
	})
}
