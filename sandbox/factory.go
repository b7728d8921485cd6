package sandbox

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/isdmx/edabox/config"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NewExecutor creates the execution engine from the application configuration
func NewExecutor(logger *zap.Logger, cfg *config.Config, opts ...EngineOption) (SandboxExecutor, error) {
	if !identifierPattern.MatchString(cfg.Sandbox.ResultBinding) {
		return nil, fmt.Errorf("result binding %q is not a valid identifier", cfg.Sandbox.ResultBinding)
	}

	engineConfig := Config{
		ResultBinding:  cfg.Sandbox.ResultBinding,
		TimeoutSec:     cfg.Sandbox.TimeoutSec,
		MaxSteps:       cfg.Sandbox.MaxSteps,
		MaxStdoutBytes: cfg.Sandbox.MaxStdoutKB * BytesPerKB,
	}

	return NewEngine(logger, &engineConfig, opts...), nil
}
