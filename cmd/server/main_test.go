package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/edabox/config"
	"github.com/isdmx/edabox/memory"
	"github.com/isdmx/edabox/metrics"
)

func TestAppGraph(t *testing.T) {
	require.NoError(t, fx.ValidateApp(appOptions()))
}

func TestNewAgent(t *testing.T) {
	log := zaptest.NewLogger(t)
	store := memory.NewStore(log, memory.NewMemoryBackend())
	cfg := &config.Config{
		Sandbox: config.SandboxConfig{ResultBinding: "RESULT_TEXT", TimeoutSec: 5},
		LLM:     config.LLMConfig{BaseURL: "http://localhost:1/v1/", Model: "test"},
	}

	executor, err := newExecutor(log, cfg, metrics.NewCollector(zap.NewNop()))
	require.NoError(t, err)

	assert.Nil(t, newAgent(log, cfg, executor, store))

	cfg.LLM.APIKey = "sk-test"
	assert.NotNil(t, newAgent(log, cfg, executor, store))
}

func TestNewExecutorRejectsBadBinding(t *testing.T) {
	cfg := &config.Config{Sandbox: config.SandboxConfig{ResultBinding: "not an identifier"}}
	_, err := newExecutor(zap.NewNop(), cfg, metrics.NewCollector(zap.NewNop()))
	assert.Error(t, err)
}
