package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.uber.org/zap"
)

// Config holds execution engine settings
type Config struct {
	// ResultBinding is the global read back as the result text.
	ResultBinding string
	// TimeoutSec bounds one execution. Zero means only the caller's context.
	TimeoutSec int
	// MaxSteps bounds interpreter steps. Zero means unlimited.
	MaxSteps uint64
	// MaxStdoutBytes bounds captured output. Zero means unlimited.
	MaxStdoutBytes int
}

// Observer receives the outcome of every execution
type Observer interface {
	ObserveExecution(stage string, kind ViolationKind, duration time.Duration)
}

// Engine runs SourceText through parse, analyze and restricted execution.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	logger   *zap.Logger
	config   *Config
	observer Observer
}

// EngineOption defines a functional option for Engine
type EngineOption func(*Engine)

// WithObserver sets the Observer notified after each execution
func WithObserver(observer Observer) EngineOption {
	return func(e *Engine) {
		e.observer = observer
	}
}

// NewEngine creates a new Engine
func NewEngine(logger *zap.Logger, config *Config, opts ...EngineOption) *Engine {
	if config.ResultBinding == "" {
		config.ResultBinding = DefaultResultBinding
	}

	engine := &Engine{
		logger: logger,
		config: config,
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// Execute runs req.Code. On failure the error is a *SyntaxError, a
// *SafetyViolation or an *ExecutionError and the result is empty.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	start := time.Now()

	// Artifact registries are emptied whatever the outcome.
	sources := artifactSources(req.Bindings)
	defer func() {
		for _, s := range sources {
			s.Reset()
		}
	}()

	result, err := e.execute(ctx, req, sources)
	e.observe(err, time.Since(start))
	if err != nil {
		return ExecuteResult{}, err
	}
	return result, nil
}

func (e *Engine) execute(ctx context.Context, req ExecuteRequest, sources []boundSource) (ExecuteResult, error) {
	tree, err := Check(req.Code)
	if err != nil {
		e.logger.Info("code rejected", zap.String("stage", Stage(err)), zap.Error(err))
		return ExecuteResult{}, err
	}

	if e.config.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.config.TimeoutSec)*time.Second)
		defer cancel()
	}

	globals, stdout, err := e.run(ctx, tree, req.Bindings)
	if err != nil {
		e.logger.Info("execution failed", zap.Error(err))
		return ExecuteResult{}, err
	}

	artifacts, err := collectArtifacts(sources)
	if err != nil {
		return ExecuteResult{}, &ExecutionError{
			Message: fmt.Sprintf("failed to render artifacts: %v", err),
			cause:   err,
		}
	}

	result := ExecuteResult{
		ResultText: resultText(globals, e.config.ResultBinding),
		Stdout:     stdout,
		Artifacts:  artifacts,
	}

	e.logger.Debug("execution completed",
		zap.Int("stdout_bytes", len(result.Stdout)),
		zap.Int("result_bytes", len(result.ResultText)),
		zap.Int("artifacts", len(result.Artifacts)))

	return result, nil
}

// run executes a vetted tree in a fresh scope and returns its globals and
// captured output.
func (e *Engine) run(ctx context.Context, tree *SyntaxTree, bindings starlark.StringDict) (globals starlark.StringDict, stdout string, err error) {
	if err := ctx.Err(); err != nil {
		return nil, "", &ExecutionError{Message: "execution cancelled: " + err.Error(), cause: err}
	}

	scope := NewScope(bindings)
	prog, err := starlark.FileProgram(tree.File, scope.Has)
	if err != nil {
		return nil, "", &ExecutionError{Message: err.Error(), cause: err}
	}

	out := newOutputBuffer(e.config.MaxStdoutBytes)
	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg + "\n")
		},
	}
	thread.SetLocal(outputKey, out)
	thread.SetLocal(contextKey, ctx)
	if e.config.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(e.config.MaxSteps)
	}

	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("interpreter panic", zap.Any("panic", r))
			globals, stdout = nil, ""
			err = &ExecutionError{Message: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	globals, err = prog.Init(thread, scope)
	if err != nil {
		return nil, "", newExecutionError(err)
	}
	return globals, out.String(), nil
}

func newExecutionError(err error) *ExecutionError {
	execErr := &ExecutionError{Message: err.Error(), cause: err}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		execErr.Message = evalErr.Msg
		execErr.Backtrace = evalErr.Backtrace()
	}
	return execErr
}

// resultText returns the string bound to name, or "" when it is absent or
// not a string.
func resultText(globals starlark.StringDict, name string) string {
	if s, ok := globals[name].(starlark.String); ok {
		return string(s)
	}
	return ""
}

func (e *Engine) observe(err error, d time.Duration) {
	if e.observer == nil {
		return
	}
	var kind ViolationKind
	var violation *SafetyViolation
	if errors.As(err, &violation) {
		kind = violation.Kind
	}
	e.observer.ObserveExecution(Stage(err), kind, d)
}
