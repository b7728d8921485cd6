package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/edabox/agent"
	"github.com/isdmx/edabox/config"
	"github.com/isdmx/edabox/memory"
	"github.com/isdmx/edabox/sandbox"
)

// Tool names
const (
	ToolLoadDataset          = "load_dataset"
	ToolDescribeDataset      = "describe_dataset"
	ToolExecuteAnalysisCode  = "execute_analysis_code"
	ToolAskDataset           = "ask_dataset"
	ToolSummarizeDataset     = "summarize_dataset"
	ToolAddConclusion        = "add_conclusion"
	ToolListConclusions      = "list_conclusions"
	ToolClearConclusions     = "clear_conclusions"
	ToolRecentTurns          = "recent_turns"
	defaultRecentTurns       = 5
	serverName               = "edabox"
	serverVersion            = "0.1.0"
	serverInstructions       = "Load a CSV with load_dataset, then run Starlark analysis code against it as df with execute_analysis_code."
	executeToolDescription   = "Run Starlark analysis code against a loaded dataset. The scope holds df (the table), np (numeric helpers) and plt (charts). Set RESULT_TEXT to a one-line conclusion; print output and figures are returned."
	askToolDescription       = "Ask a question about a loaded dataset. Analysis code is generated, checked and executed, and the conclusion is kept in the dataset memory."
	summarizeToolDescription = "Write an executive summary from the dataset memory without running code."
)

// ToolObserver is notified after every tool call
type ToolObserver interface {
	ObserveTool(tool string, failed bool)
}

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	executor   sandbox.SandboxExecutor
	store      *memory.Store
	agent      *agent.Agent
	observer   ToolObserver
	datasets   *Datasets
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// Option defines a functional option for MCPServer
type Option func(*MCPServer)

// WithAgent enables the ask_dataset and summarize_dataset tools. A nil
// agent leaves them unregistered.
func WithAgent(a *agent.Agent) Option {
	return func(s *MCPServer) {
		s.agent = a
	}
}

// WithToolObserver sets the observer notified after each tool call
func WithToolObserver(o ToolObserver) Option {
	return func(s *MCPServer) {
		s.observer = o
	}
}

// WithDatasets shares a dataset registry with the server
func WithDatasets(d *Datasets) Option {
	return func(s *MCPServer) {
		s.datasets = d
	}
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.SandboxExecutor, store *memory.Store, opts ...Option) (*MCPServer, error) {
	if executor == nil {
		return nil, errors.New("sandbox executor is required")
	}
	if store == nil {
		return nil, errors.New("memory store is required")
	}

	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
		store:    store,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.datasets == nil {
		s.datasets = NewDatasets()
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("server.max_dataset_mb", cfg.Server.MaxDatasetMB),
		zap.String("sandbox.result_binding", cfg.Sandbox.ResultBinding),
		zap.Int("sandbox.timeout_sec", cfg.Sandbox.TimeoutSec),
		zap.Uint64("sandbox.max_steps", cfg.Sandbox.MaxSteps),
		zap.Int("sandbox.max_stdout_kb", cfg.Sandbox.MaxStdoutKB),
		zap.Int("chart.max_figures", cfg.Chart.MaxFigures),
		zap.String("memory.backend", cfg.Memory.Backend),
		zap.Bool("llm.enabled", s.agent != nil),
		zap.String("llm.model", cfg.LLM.Model),
	)

	s.mcpServer = server.NewMCPServer(serverName, serverVersion,
		server.WithToolCapabilities(false),
		server.WithInstructions(serverInstructions),
		server.WithToolHandlerMiddleware(s.observe),
		server.WithRecovery(),
	)
	s.registerTools()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)

	return s, nil
}

// registerTools registers the dataset, execution and memory tools
func (s *MCPServer) registerTools() {
	datasetID := mcp.WithString("dataset_id",
		mcp.Required(),
		mcp.Description("Id returned by load_dataset"),
	)

	s.mcpServer.AddTool(mcp.NewTool(ToolLoadDataset,
		mcp.WithDescription("Load CSV data for analysis. Separator (',' or ';') and encoding (UTF-8 or Windows-1252) are detected."),
		mcp.WithString("csv", mcp.Description("CSV text")),
		mcp.WithString("csv_base64", mcp.Description("Base64-encoded CSV bytes, for non UTF-8 files")),
		mcp.WithString("name", mcp.Description("Display name of the dataset")),
		mcp.WithIdempotentHintAnnotation(true),
	), s.handleLoadDataset)

	s.mcpServer.AddTool(mcp.NewTool(ToolDescribeDataset,
		mcp.WithDescription("Show the schema, first rows, missing values and summary statistics of a dataset"),
		datasetID,
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleDescribeDataset)

	s.mcpServer.AddTool(mcp.NewTool(ToolExecuteAnalysisCode,
		mcp.WithDescription(executeToolDescription),
		datasetID,
		mcp.WithString("code", mcp.Required(), mcp.Description("Starlark source")),
		mcp.WithString("question", mcp.Description("When set, the run is recorded in the dataset memory as the answer to this question")),
	), s.handleExecuteAnalysisCode)

	if s.agent != nil {
		s.mcpServer.AddTool(mcp.NewTool(ToolAskDataset,
			mcp.WithDescription(askToolDescription),
			datasetID,
			mcp.WithString("question", mcp.Required(), mcp.Description("Question about the data")),
		), s.handleAskDataset)

		s.mcpServer.AddTool(mcp.NewTool(ToolSummarizeDataset,
			mcp.WithDescription(summarizeToolDescription),
			datasetID,
		), s.handleSummarizeDataset)
	}

	s.mcpServer.AddTool(mcp.NewTool(ToolAddConclusion,
		mcp.WithDescription("Save a conclusion in the dataset memory"),
		datasetID,
		mcp.WithString("text", mcp.Required(), mcp.Description("Conclusion text")),
	), s.handleAddConclusion)

	s.mcpServer.AddTool(mcp.NewTool(ToolListConclusions,
		mcp.WithDescription("List the saved conclusions and summaries of a dataset"),
		datasetID,
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleListConclusions)

	s.mcpServer.AddTool(mcp.NewTool(ToolClearConclusions,
		mcp.WithDescription("Forget the saved conclusions of a dataset"),
		datasetID,
		mcp.WithDestructiveHintAnnotation(true),
	), s.handleClearConclusions)

	s.mcpServer.AddTool(mcp.NewTool(ToolRecentTurns,
		mcp.WithDescription("List the most recent questions asked about a dataset, oldest first"),
		datasetID,
		mcp.WithNumber("k", mcp.Description("Number of turns"), mcp.DefaultNumber(defaultRecentTurns), mcp.Min(1)),
		mcp.WithReadOnlyHintAnnotation(true),
	), s.handleRecentTurns)
}

// observe reports every tool call to the observer
func (s *MCPServer) observe(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := next(ctx, request)
		if s.observer != nil {
			s.observer.ObserveTool(request.Params.Name, err != nil || (result != nil && result.IsError))
		}
		return result, err
	}
}

// Datasets returns the dataset registry
func (s *MCPServer) Datasets() *Datasets {
	return s.datasets
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP. It returns nil after Shutdown.
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	err := s.httpServer.Start(fmt.Sprintf(":%d", port))
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP transport
func (s *MCPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
