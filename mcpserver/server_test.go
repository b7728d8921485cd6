package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/edabox/agent"
	"github.com/isdmx/edabox/codegen"
	"github.com/isdmx/edabox/config"
	"github.com/isdmx/edabox/memory"
	"github.com/isdmx/edabox/sandbox"
)

const salesCSV = "region;units;price\nnorth;10;2.5\nsouth;20;3.0\nnorth;;4.0\n"

// MockSandboxExecutor implements sandbox.SandboxExecutor for testing
type MockSandboxExecutor struct {
	executeResult sandbox.ExecuteResult
	executeError  error
	requests      []sandbox.ExecuteRequest
}

func (m *MockSandboxExecutor) Execute(_ context.Context, req sandbox.ExecuteRequest) (sandbox.ExecuteResult, error) { //nolint:gocritic // Mock implementation requires full parameter signature
	m.requests = append(m.requests, req)
	return m.executeResult, m.executeError
}

type recordingObserver struct {
	calls map[string][]bool
}

func (r *recordingObserver) ObserveTool(tool string, failed bool) {
	r.calls[tool] = append(r.calls[tool], failed)
}

// scriptedLLM replies to code requests with code and to summary requests
// with a fixed text
type scriptedLLM struct {
	code    string
	summary string
}

func (l *scriptedLLM) Complete(_ context.Context, system, _ string, _ float64) (string, error) {
	switch system {
	case codegen.SystemPrompt:
		return "```python\n" + l.code + "\n```", nil
	case codegen.SummarySystemPrompt:
		return l.summary, nil
	default:
		return "", errors.New("unexpected prompt")
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport:    "stdio",
			HTTPPort:     8080,
			MaxDatasetMB: 1,
		},
		Sandbox: config.SandboxConfig{
			ResultBinding: "RESULT_TEXT",
			TimeoutSec:    5,
			MaxStdoutKB:   64,
		},
		Chart: config.ChartConfig{
			WidthInch:  4,
			HeightInch: 3,
			MaxFigures: 4,
		},
		Memory: config.MemoryConfig{
			Backend:        "memory",
			MaxTurns:       50,
			CodePreviewLen: 2000,
		},
		Logging: config.LoggingConfig{
			Mode:  "development",
			Level: "debug",
		},
	}
}

func newTestServer(t *testing.T, executor sandbox.SandboxExecutor, opts ...Option) (*MCPServer, *memory.Store) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := memory.NewStore(logger, memory.NewMemoryBackend())
	t.Cleanup(func() { _ = store.Close() })

	s, err := New(testConfig(), logger, executor, store, opts...)
	require.NoError(t, err)
	return s, store
}

func newEngine(t *testing.T) *sandbox.Engine {
	return sandbox.NewEngine(zaptest.NewLogger(t), &sandbox.Config{})
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var request mcp.CallToolRequest
	request.Params.Name = name
	request.Params.Arguments = args
	return request
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "first content is %T", result.Content[0])
	return text.Text
}

func decode[T any](t *testing.T, result *mcp.CallToolResult) T {
	t.Helper()
	require.False(t, result.IsError, textOf(t, result))
	var out T
	require.NoError(t, json.Unmarshal([]byte(textOf(t, result)), &out))
	return out
}

func load(t *testing.T, s *MCPServer, content string) string {
	t.Helper()
	result, err := s.handleLoadDataset(context.Background(), call(ToolLoadDataset, map[string]any{
		"csv":  content,
		"name": "sales",
	}))
	require.NoError(t, err)
	return decode[DatasetInfo](t, result).DatasetID
}

func TestNewMCPServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := memory.NewStore(logger, memory.NewMemoryBackend())

	t.Run("requires executor and store", func(t *testing.T) {
		_, err := New(testConfig(), logger, nil, store)
		assert.Error(t, err)

		_, err = New(testConfig(), logger, &MockSandboxExecutor{}, nil)
		assert.Error(t, err)
	})

	t.Run("tools without agent", func(t *testing.T) {
		s, err := New(testConfig(), logger, &MockSandboxExecutor{}, store)
		require.NoError(t, err)
		require.NotNil(t, s.GetMCPServer())

		tools := s.GetMCPServer().ListTools()
		for _, name := range []string{
			ToolLoadDataset, ToolDescribeDataset, ToolExecuteAnalysisCode,
			ToolAddConclusion, ToolListConclusions, ToolClearConclusions, ToolRecentTurns,
		} {
			assert.Contains(t, tools, name)
		}
		assert.NotContains(t, tools, ToolAskDataset)
		assert.NotContains(t, tools, ToolSummarizeDataset)
	})

	t.Run("tools with agent", func(t *testing.T) {
		ag := agent.New(logger, &scriptedLLM{}, &MockSandboxExecutor{}, store, agent.Config{})
		s, err := New(testConfig(), logger, &MockSandboxExecutor{}, store, WithAgent(ag))
		require.NoError(t, err)

		tools := s.GetMCPServer().ListTools()
		assert.Contains(t, tools, ToolAskDataset)
		assert.Contains(t, tools, ToolSummarizeDataset)
	})
}

func TestLoadDataset(t *testing.T) {
	s, _ := newTestServer(t, &MockSandboxExecutor{})
	ctx := context.Background()

	t.Run("csv text", func(t *testing.T) {
		result, err := s.handleLoadDataset(ctx, call(ToolLoadDataset, map[string]any{"csv": salesCSV, "name": "sales"}))
		require.NoError(t, err)

		info := decode[DatasetInfo](t, result)
		assert.Equal(t, memory.DatasetID([]byte(salesCSV)), info.DatasetID)
		assert.Equal(t, "sales", info.Name)
		assert.Equal(t, 3, info.Rows)
		assert.Equal(t, []string{"region", "units", "price"}, info.Columns)
		assert.Equal(t, "float64", info.DTypes["price"])
		assert.NotNil(t, result.StructuredContent)
	})

	t.Run("base64 bytes", func(t *testing.T) {
		raw := []byte("city,n\nS\xe3o Paulo,1\n")
		result, err := s.handleLoadDataset(ctx, call(ToolLoadDataset, map[string]any{
			"csv_base64": base64.StdEncoding.EncodeToString(raw),
		}))
		require.NoError(t, err)

		info := decode[DatasetInfo](t, result)
		assert.Equal(t, memory.DatasetID(raw), info.DatasetID)
		assert.Equal(t, info.DatasetID, info.Name)
		assert.Equal(t, 1, info.Rows)
	})

	failures := []struct {
		name string
		args map[string]any
		want string
	}{
		{"no content", map[string]any{}, "required"},
		{"bad base64", map[string]any{"csv_base64": "%%%"}, "csv_base64"},
		{"too large", map[string]any{"csv": "a\n" + strings.Repeat("1\n", 1<<19) + "1"}, "limit"},
		{"empty csv", map[string]any{"csv": "\n\n"}, "failed to load"},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleLoadDataset(ctx, call(ToolLoadDataset, tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, textOf(t, result), tt.want)
		})
	}

	assert.Equal(t, 2, s.Datasets().Len())
}

func TestDescribeDataset(t *testing.T) {
	s, _ := newTestServer(t, &MockSandboxExecutor{})
	id := load(t, s, salesCSV)

	result, err := s.handleDescribeDataset(context.Background(), call(ToolDescribeDataset, map[string]any{"dataset_id": id}))
	require.NoError(t, err)

	desc := decode[DatasetDescription](t, result)
	assert.Equal(t, id, desc.DatasetID)
	assert.Equal(t, 1, desc.Missing["units"])
	assert.Equal(t, 0, desc.Missing["region"])
	assert.Contains(t, desc.Head, "north")
	assert.Contains(t, desc.Describe, "mean")

	result, err = s.handleDescribeDataset(context.Background(), call(ToolDescribeDataset, map[string]any{"dataset_id": "0123456789abcdef"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), ToolLoadDataset)
}

func TestExecuteAnalysisCode(t *testing.T) {
	ctx := context.Background()

	t.Run("passes fresh bindings", func(t *testing.T) {
		mock := &MockSandboxExecutor{executeResult: sandbox.ExecuteResult{ResultText: "ok"}}
		s, _ := newTestServer(t, mock)
		id := load(t, s, salesCSV)

		for range 2 {
			result, err := s.handleExecuteAnalysisCode(ctx, call(ToolExecuteAnalysisCode, map[string]any{
				"dataset_id": id,
				"code":       "RESULT_TEXT = 'ok'",
			}))
			require.NoError(t, err)
			assert.Equal(t, "ok", decode[ExecutionReport](t, result).ResultText)
		}

		require.Len(t, mock.requests, 2)
		for _, req := range mock.requests {
			assert.Equal(t, "RESULT_TEXT = 'ok'", req.Code)
			assert.Contains(t, req.Bindings, agent.DataBinding)
			assert.Contains(t, req.Bindings, "np")
			assert.Contains(t, req.Bindings, "plt")
		}
		assert.NotSame(t, mock.requests[0].Bindings["plt"], mock.requests[1].Bindings["plt"])
	})

	t.Run("result with chart", func(t *testing.T) {
		s, _ := newTestServer(t, newEngine(t))
		id := load(t, s, salesCSV)

		code := `
print("rows", len(df))
plt.bar(["north", "south"], [10, 20])
plt.title("units")
RESULT_TEXT = "South sold more units"
`
		result, err := s.handleExecuteAnalysisCode(ctx, call(ToolExecuteAnalysisCode, map[string]any{"dataset_id": id, "code": code}))
		require.NoError(t, err)

		report := decode[ExecutionReport](t, result)
		assert.NotEmpty(t, report.ExecutionID)
		assert.Equal(t, "South sold more units", report.ResultText)
		assert.Equal(t, "rows 3\n", report.Stdout)
		assert.Equal(t, []string{"figure-1.png"}, report.Artifacts)

		require.Len(t, result.Content, 2)
		image, ok := result.Content[1].(mcp.ImageContent)
		require.True(t, ok)
		assert.Equal(t, "image/png", image.MIMEType)
		data, err := base64.StdEncoding.DecodeString(image.Data)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "\x89PNG"))
	})

	t.Run("records the turn when a question is given", func(t *testing.T) {
		s, store := newTestServer(t, newEngine(t))
		id := load(t, s, salesCSV)

		result, err := s.handleExecuteAnalysisCode(ctx, call(ToolExecuteAnalysisCode, map[string]any{
			"dataset_id": id,
			"code":       `RESULT_TEXT = "Mean units: %s" % df["units"].mean()`,
			"question":   "average units?",
		}))
		require.NoError(t, err)
		assert.Equal(t, []string{"Mean units: 15.0"}, decode[ExecutionReport](t, result).Saved)

		turns, err := store.RecentTurns(ctx, id, 5)
		require.NoError(t, err)
		require.Len(t, turns, 1)
		assert.Equal(t, "average units?", turns[0].Question)
		assert.Equal(t, "Mean units: 15.0", turns[0].ResultText)

		conclusions, err := store.Conclusions(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{"Mean units: 15.0"}, conclusions)
	})

	failures := []struct {
		name  string
		code  string
		stage string
	}{
		{"syntax", "x = (", sandbox.StageSyntax},
		{"safety", "import os", sandbox.StageSafety},
		{"runtime", "x = 1 / 0", sandbox.StageExecution},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestServer(t, newEngine(t))
			id := load(t, s, salesCSV)

			result, err := s.handleExecuteAnalysisCode(ctx, call(ToolExecuteAnalysisCode, map[string]any{
				"dataset_id": id,
				"code":       tt.code,
				"question":   "q",
			}))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, textOf(t, result), tt.stage+" stage")

			turns, err := store.RecentTurns(ctx, id, 5)
			require.NoError(t, err)
			assert.Empty(t, turns)
		})
	}
}

func TestAskDataset(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := memory.NewStore(logger, memory.NewMemoryBackend())
	engine := newEngine(t)
	llm := &scriptedLLM{
		code:    `RESULT_TEXT = "%d regions" % len(df["region"].unique())`,
		summary: "- Two regions were observed",
	}
	ag := agent.New(logger, llm, engine, store, agent.Config{HistoryTurns: 3, SummaryTurns: 8})

	s, err := New(testConfig(), logger, engine, store, WithAgent(ag))
	require.NoError(t, err)
	id := load(t, s, salesCSV)

	result, err := s.handleAskDataset(ctx, call(ToolAskDataset, map[string]any{
		"dataset_id": id,
		"question":   "how many regions?",
	}))
	require.NoError(t, err)

	report := decode[ExecutionReport](t, result)
	assert.Equal(t, "2 regions", report.ResultText)
	assert.Equal(t, llm.code, report.Code)
	assert.Equal(t, []string{"2 regions"}, report.Saved)

	result, err = s.handleAskDataset(ctx, call(ToolAskDataset, map[string]any{
		"dataset_id": id,
		"question":   "Give me an executive summary",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, llm.summary, textOf(t, result))

	summaries, err := store.Summaries(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, llm.summary, summaries[agent.ExecutiveSummary])

	llm.code = "import os"
	result, err = s.handleAskDataset(ctx, call(ToolAskDataset, map[string]any{
		"dataset_id": id,
		"question":   "list files",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textOf(t, result), "safety stage")
	require.Len(t, result.Content, 2)
	assert.Equal(t, "import os", result.Content[1].(mcp.TextContent).Text)
}

func TestMemoryTools(t *testing.T) {
	s, _ := newTestServer(t, &MockSandboxExecutor{})
	ctx := context.Background()
	id := load(t, s, salesCSV)

	result, err := s.handleAddConclusion(ctx, call(ToolAddConclusion, map[string]any{"dataset_id": id, "text": "  north leads  "}))
	require.NoError(t, err)
	assert.Equal(t, []string{"north leads"}, decode[MemoryReport](t, result).Conclusions)

	result, err = s.handleAddConclusion(ctx, call(ToolAddConclusion, map[string]any{"dataset_id": id, "text": "prices vary"}))
	require.NoError(t, err)
	assert.Len(t, decode[MemoryReport](t, result).Conclusions, 2)

	result, err = s.handleListConclusions(ctx, call(ToolListConclusions, map[string]any{"dataset_id": id}))
	require.NoError(t, err)
	report := decode[MemoryReport](t, result)
	assert.Equal(t, []string{"north leads", "prices vary"}, report.Conclusions)
	assert.Empty(t, report.Summaries)

	result, err = s.handleClearConclusions(ctx, call(ToolClearConclusions, map[string]any{"dataset_id": id}))
	require.NoError(t, err)
	assert.Empty(t, decode[MemoryReport](t, result).Conclusions)

	result, err = s.handleRecentTurns(ctx, call(ToolRecentTurns, map[string]any{"dataset_id": id, "k": 3}))
	require.NoError(t, err)
	assert.Empty(t, decode[TurnsReport](t, result).Turns)

	t.Run("invalid id", func(t *testing.T) {
		for _, handler := range []func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
			s.handleListConclusions, s.handleClearConclusions, s.handleRecentTurns,
		} {
			result, err := handler(ctx, call("", map[string]any{"dataset_id": "../etc"}))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		}
	})

	t.Run("missing arguments", func(t *testing.T) {
		result, err := s.handleAddConclusion(ctx, call(ToolAddConclusion, map[string]any{"dataset_id": id}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestObserveToolCalls(t *testing.T) {
	observer := &recordingObserver{calls: make(map[string][]bool)}
	s, _ := newTestServer(t, &MockSandboxExecutor{}, WithToolObserver(observer))
	ctx := context.Background()

	handler := s.observe(s.handleLoadDataset)
	_, err := handler(ctx, call(ToolLoadDataset, map[string]any{"csv": salesCSV}))
	require.NoError(t, err)
	_, err = handler(ctx, call(ToolLoadDataset, map[string]any{}))
	require.NoError(t, err)

	assert.Equal(t, []bool{false, true}, observer.calls[ToolLoadDataset])
}

func TestShutdownBeforeServe(t *testing.T) {
	s, _ := newTestServer(t, &MockSandboxExecutor{})
	assert.NoError(t, s.Shutdown(context.Background()))
}
