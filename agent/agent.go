// Package agent answers questions about a dataset: it asks a chat model for
// analysis code, runs that code in the sandbox, and keeps what was learned
// in the dataset's memory.
package agent

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
	"go.uber.org/zap"

	"github.com/isdmx/edabox/chart"
	"github.com/isdmx/edabox/codegen"
	"github.com/isdmx/edabox/config"
	"github.com/isdmx/edabox/frame"
	"github.com/isdmx/edabox/memory"
	"github.com/isdmx/edabox/numeric"
	"github.com/isdmx/edabox/sandbox"
)

// DataBinding is the scope name of the dataset handle
const DataBinding = "df"

// ExecutiveSummary is the summary name used by Summarize
const ExecutiveSummary = "executive"

// Temperatures of the critic and summary passes
const (
	criticTemperature  = 0.2
	summaryTemperature = 0.2
)

// Config tunes the agent
type Config struct {
	Temperature        float64
	HistoryTurns       int
	EnableCritic       bool
	CriticMaxChars     int
	SummaryTurns       int
	SummaryConclusions int
	Chart              chart.Config
}

// ConfigFrom maps the application configuration onto the agent's
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Temperature:        cfg.LLM.Temperature,
		HistoryTurns:       cfg.LLM.HistoryTurns,
		EnableCritic:       cfg.LLM.EnableCritic,
		CriticMaxChars:     cfg.LLM.CriticMaxChars,
		SummaryTurns:       8,
		SummaryConclusions: 30,
		Chart:              ChartConfig(cfg),
	}
}

// ChartConfig maps the chart section of the application configuration
func ChartConfig(cfg *config.Config) chart.Config {
	return chart.Config{
		WidthInch:  cfg.Chart.WidthInch,
		HeightInch: cfg.Chart.HeightInch,
		MaxFigures: cfg.Chart.MaxFigures,
	}
}

// Bindings returns fresh execution handles for df. The chart handle is new
// on every call, so each run gets its own figure registry.
func Bindings(df *frame.DataFrame, cfg chart.Config) starlark.StringDict {
	return starlark.StringDict{
		DataBinding:         df,
		numeric.BindingName: numeric.Module,
		chart.BindingName:   chart.New(cfg),
	}
}

// Answer is the outcome of Ask
type Answer struct {
	Code     string
	Result   sandbox.ExecuteResult
	Critique string
	// Saved lists the conclusions persisted for this answer
	Saved []string
}

// Agent is safe for concurrent use
type Agent struct {
	logger   *zap.Logger
	llm      codegen.Completer
	executor sandbox.SandboxExecutor
	store    *memory.Store
	config   Config
}

// New creates an agent
func New(logger *zap.Logger, llm codegen.Completer, executor sandbox.SandboxExecutor, store *memory.Store, config Config) *Agent {
	return &Agent{
		logger:   logger,
		llm:      llm,
		executor: executor,
		store:    store,
		config:   config,
	}
}

// Ask generates code for question, runs it against df and records the
// turn. Nothing is recorded when generation or execution fails; the
// execution error keeps its sandbox type.
func (a *Agent) Ask(ctx context.Context, datasetID string, df *frame.DataFrame, question string) (*Answer, error) {
	turns, err := a.store.RecentTurns(ctx, datasetID, a.config.HistoryTurns)
	if err != nil {
		return nil, err
	}
	schema := codegen.SchemaOf(df)

	reply, err := a.llm.Complete(ctx, codegen.SystemPrompt,
		codegen.CodePrompt(question, schema, codegen.FormatHistory(turns)), a.config.Temperature)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	answer := &Answer{Code: codegen.ExtractCode(reply)}

	result, err := a.executor.Execute(ctx, sandbox.ExecuteRequest{
		Code:     answer.Code,
		Bindings: Bindings(df, a.config.Chart),
	})
	if err != nil {
		return answer, fmt.Errorf("generated code was rejected or failed: %w", err)
	}
	answer.Result = result

	if result.ResultText != "" {
		if err := a.store.AppendConclusion(ctx, datasetID, result.ResultText); err != nil {
			return answer, err
		}
		answer.Saved = append(answer.Saved, result.ResultText)
	}
	if err := a.store.AppendTurn(ctx, datasetID, question, result.ResultText, answer.Code); err != nil {
		return answer, err
	}

	if a.config.EnableCritic {
		a.critique(ctx, datasetID, question, schema, answer)
	}
	return answer, nil
}

// critique runs the critic pass and saves its bullets. A failed pass is
// logged and leaves the answer as it is.
func (a *Agent) critique(ctx context.Context, datasetID, question string, schema codegen.Schema, answer *Answer) {
	turns, err := a.store.RecentTurns(ctx, datasetID, a.config.HistoryTurns)
	if err != nil {
		a.logger.Warn("Critic skipped", zap.String("dataset_id", datasetID), zap.Error(err))
		return
	}
	prompt := codegen.CriticPrompt(question, codegen.FormatHistory(turns), schema,
		answer.Result.ResultText, answer.Result.Stdout, a.config.CriticMaxChars)

	text, err := a.llm.Complete(ctx, codegen.CriticSystemPrompt, prompt, criticTemperature)
	if err != nil {
		a.logger.Warn("Critic pass failed", zap.String("dataset_id", datasetID), zap.Error(err))
		return
	}
	answer.Critique = text

	bullets := codegen.Bullets(text)
	if err := a.store.AppendConclusions(ctx, datasetID, bullets); err != nil {
		a.logger.Warn("Critic conclusions not saved", zap.String("dataset_id", datasetID), zap.Error(err))
		return
	}
	answer.Saved = append(answer.Saved, bullets...)
}

// Summarize writes an executive summary from the recent turns and saved
// conclusions without running any code. The summary is stored under
// ExecutiveSummary.
func (a *Agent) Summarize(ctx context.Context, datasetID string) (string, error) {
	turns, err := a.store.RecentTurns(ctx, datasetID, a.config.SummaryTurns)
	if err != nil {
		return "", err
	}
	conclusions, err := a.store.Conclusions(ctx, datasetID)
	if err != nil {
		return "", err
	}
	if n := len(conclusions); n > a.config.SummaryConclusions && a.config.SummaryConclusions > 0 {
		conclusions = conclusions[n-a.config.SummaryConclusions:]
	}

	text, err := a.llm.Complete(ctx, codegen.SummarySystemPrompt,
		codegen.SummaryPrompt(turns, conclusions), summaryTemperature)
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}
	if err := a.store.SetSummary(ctx, datasetID, ExecutiveSummary, text); err != nil {
		return "", err
	}
	return text, nil
}
