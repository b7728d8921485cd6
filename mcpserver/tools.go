package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/isdmx/edabox/agent"
	"github.com/isdmx/edabox/codegen"
	"github.com/isdmx/edabox/logger"
	"github.com/isdmx/edabox/memory"
	"github.com/isdmx/edabox/sandbox"
)

const (
	describeHeadRows = 5
	bytesPerMB       = 1 << 20
)

// DatasetInfo describes a loaded dataset
type DatasetInfo struct {
	DatasetID string            `json:"dataset_id"`
	Name      string            `json:"name"`
	Rows      int               `json:"rows"`
	Columns   []string          `json:"columns"`
	DTypes    map[string]string `json:"dtypes"`
}

// DatasetDescription is the describe_dataset payload
type DatasetDescription struct {
	DatasetInfo
	Missing  map[string]int `json:"missing"`
	Head     string         `json:"head"`
	Describe string         `json:"describe"`
}

// ExecutionReport is the payload of execute_analysis_code and ask_dataset.
// Chart images travel as separate image contents in the same order as
// Artifacts.
type ExecutionReport struct {
	ExecutionID string   `json:"execution_id"`
	ResultText  string   `json:"result_text"`
	Stdout      string   `json:"stdout"`
	Artifacts   []string `json:"artifacts"`
	Code        string   `json:"code,omitempty"`
	Critique    string   `json:"critique,omitempty"`
	Saved       []string `json:"saved,omitempty"`
}

// MemoryReport is the list_conclusions payload
type MemoryReport struct {
	DatasetID   string            `json:"dataset_id"`
	Conclusions []string          `json:"conclusions"`
	Summaries   map[string]string `json:"summaries"`
}

// TurnsReport is the recent_turns payload
type TurnsReport struct {
	DatasetID string        `json:"dataset_id"`
	Turns     []memory.Turn `json:"turns"`
}

func (s *MCPServer) handleLoadDataset(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := []byte(request.GetString("csv", ""))
	if encoded := request.GetString("csv_base64", ""); encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return mcp.NewToolResultErrorf("failed to decode csv_base64: %v", err), nil
		}
		content = decoded
	}
	if len(content) == 0 {
		return mcp.NewToolResultError("one of csv or csv_base64 is required"), nil
	}
	if limit := s.config.Server.MaxDatasetMB * bytesPerMB; len(content) > limit {
		return mcp.NewToolResultErrorf("dataset is %d bytes, larger than the %d MB limit", len(content), s.config.Server.MaxDatasetMB), nil
	}

	ds, err := s.datasets.Load(request.GetString("name", ""), content)
	if err != nil {
		s.logger.Info("dataset rejected", zap.Error(err))
		return mcp.NewToolResultErrorf("failed to load dataset: %v", err), nil
	}

	s.logger.Info("dataset loaded",
		zap.String("dataset_id", ds.ID),
		zap.String("name", ds.Name),
		zap.Int("rows", ds.Frame.Rows()),
		zap.Int("columns", len(ds.Frame.Columns())))

	return structured(datasetInfo(ds))
}

func (s *MCPServer) handleDescribeDataset(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ds, failure := s.dataset(request)
	if failure != nil {
		return failure, nil
	}

	df := ds.Frame
	missing := make(map[string]int, len(df.Columns()))
	for _, c := range df.Columns() {
		missing[c.Name] = c.MissingCount()
	}

	return structured(DatasetDescription{
		DatasetInfo: datasetInfo(ds),
		Missing:     missing,
		Head:        df.Head(describeHeadRows).Format(describeHeadRows),
		Describe:    df.Describe().Format(0),
	})
}

func (s *MCPServer) handleExecuteAnalysisCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ds, failure := s.dataset(request)
	if failure != nil {
		return failure, nil
	}
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question := request.GetString("question", "")

	executionID := uuid.NewString()
	log := logger.ForExecution(s.logger, executionID, ds.ID)
	log.Info("code execution requested", zap.Int("code_bytes", len(code)))

	result, err := s.executor.Execute(ctx, sandbox.ExecuteRequest{
		Code:     code,
		Bindings: agent.Bindings(ds.Frame, agent.ChartConfig(s.config)),
	})
	if err != nil {
		log.Info("code execution failed", zap.String("stage", sandbox.Stage(err)), zap.Error(err))
		return executionFailure(err), nil
	}

	report := ExecutionReport{
		ExecutionID: executionID,
		ResultText:  result.ResultText,
		Stdout:      result.Stdout,
	}

	if question != "" {
		if result.ResultText != "" {
			if err := s.store.AppendConclusion(ctx, ds.ID, result.ResultText); err != nil {
				return mcp.NewToolResultErrorf("failed to save conclusion: %v", err), nil
			}
			report.Saved = []string{result.ResultText}
		}
		if err := s.store.AppendTurn(ctx, ds.ID, question, result.ResultText, code); err != nil {
			return mcp.NewToolResultErrorf("failed to record turn: %v", err), nil
		}
	}

	log.Info("code execution completed",
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("artifacts", len(result.Artifacts)))

	return executionResult(report, result.Artifacts)
}

func (s *MCPServer) handleAskDataset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ds, failure := s.dataset(request)
	if failure != nil {
		return failure, nil
	}
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if codegen.WantsSummary(question) {
		return s.summarize(ctx, ds.ID)
	}

	executionID := uuid.NewString()
	log := logger.ForExecution(s.logger, executionID, ds.ID)
	log.Info("question received", zap.String("question", question))

	answer, err := s.agent.Ask(ctx, ds.ID, ds.Frame, question)
	if err != nil {
		log.Info("question failed", zap.String("stage", sandbox.Stage(err)), zap.Error(err))
		result := executionFailure(err)
		if answer != nil && answer.Code != "" {
			result.Content = append(result.Content, mcp.NewTextContent(answer.Code))
		}
		return result, nil
	}

	return executionResult(ExecutionReport{
		ExecutionID: executionID,
		ResultText:  answer.Result.ResultText,
		Stdout:      answer.Result.Stdout,
		Code:        answer.Code,
		Critique:    answer.Critique,
		Saved:       answer.Saved,
	}, answer.Result.Artifacts)
}

func (s *MCPServer) handleSummarizeDataset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("dataset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.summarize(ctx, id)
}

func (s *MCPServer) summarize(ctx context.Context, id string) (*mcp.CallToolResult, error) {
	text, err := s.agent.Summarize(ctx, id)
	if err != nil {
		s.logger.Warn("summary failed", zap.String("dataset_id", id), zap.Error(err))
		return mcp.NewToolResultErrorf("failed to summarize: %v", err), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *MCPServer) handleAddConclusion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("dataset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.store.AppendConclusion(ctx, id, text); err != nil {
		return mcp.NewToolResultErrorf("failed to save conclusion: %v", err), nil
	}
	return s.conclusions(ctx, id)
}

func (s *MCPServer) handleListConclusions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("dataset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return s.conclusions(ctx, id)
}

func (s *MCPServer) handleClearConclusions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("dataset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.store.ClearConclusions(ctx, id); err != nil {
		return mcp.NewToolResultErrorf("failed to clear conclusions: %v", err), nil
	}
	s.logger.Info("conclusions cleared", zap.String("dataset_id", id))
	return s.conclusions(ctx, id)
}

func (s *MCPServer) handleRecentTurns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("dataset_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	turns, err := s.store.RecentTurns(ctx, id, request.GetInt("k", defaultRecentTurns))
	if err != nil {
		return mcp.NewToolResultErrorf("failed to read turns: %v", err), nil
	}
	return structured(TurnsReport{DatasetID: id, Turns: turns})
}

func (s *MCPServer) conclusions(ctx context.Context, id string) (*mcp.CallToolResult, error) {
	conclusions, err := s.store.Conclusions(ctx, id)
	if err != nil {
		return mcp.NewToolResultErrorf("failed to read conclusions: %v", err), nil
	}
	summaries, err := s.store.Summaries(ctx, id)
	if err != nil {
		return mcp.NewToolResultErrorf("failed to read summaries: %v", err), nil
	}
	return structured(MemoryReport{DatasetID: id, Conclusions: conclusions, Summaries: summaries})
}

// dataset resolves the dataset_id argument. The second value is the tool
// error to return when it cannot.
func (s *MCPServer) dataset(request mcp.CallToolRequest) (*Dataset, *mcp.CallToolResult) {
	id, err := request.RequireString("dataset_id")
	if err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	ds, err := s.datasets.Get(id)
	if err != nil {
		return nil, mcp.NewToolResultErrorf("%v; call %s first", err, ToolLoadDataset)
	}
	return ds, nil
}

func datasetInfo(ds *Dataset) DatasetInfo {
	return DatasetInfo{
		DatasetID: ds.ID,
		Name:      ds.Name,
		Rows:      ds.Frame.Rows(),
		Columns:   ds.Frame.Names(),
		DTypes:    ds.Frame.DTypes(),
	}
}

// executionFailure reports a pipeline error with its stage
func executionFailure(err error) *mcp.CallToolResult {
	stage := sandbox.Stage(err)
	if stage == "" {
		return mcp.NewToolResultErrorf("Execution failed: %v", err)
	}
	return mcp.NewToolResultErrorf("Execution failed at %s stage: %v", stage, err)
}

// executionResult returns the report as JSON text followed by one image
// content per artifact
func executionResult(report ExecutionReport, artifacts []sandbox.Artifact) (*mcp.CallToolResult, error) {
	report.Artifacts = make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		report.Artifacts = append(report.Artifacts, a.Name)
	}

	result, err := structured(report)
	if err != nil {
		return nil, err
	}
	for _, a := range artifacts {
		result.Content = append(result.Content,
			mcp.NewImageContent(base64.StdEncoding.EncodeToString(a.Data), a.MIMEType))
	}
	return result, nil
}

func structured(payload any) (*mcp.CallToolResult, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultStructured(payload, string(text)), nil
}
