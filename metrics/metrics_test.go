package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/edabox/sandbox"
)

func TestCollector_ObserveExecution(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t))

	c.ObserveExecution("", "", 10*time.Millisecond)
	c.ObserveExecution("", "", 20*time.Millisecond)
	c.ObserveExecution(sandbox.StageSafety, sandbox.ViolationImport, time.Millisecond)
	c.ObserveExecution(sandbox.StageExecution, "", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.executions.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executions.WithLabelValues(sandbox.StageSafety)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.violations.WithLabelValues(string(sandbox.ViolationImport))))
	assert.Equal(t, 1, testutil.CollectAndCount(c.violations))
	assert.Equal(t, 3, testutil.CollectAndCount(c.duration))
}

func TestCollector_WithEngine(t *testing.T) {
	c := NewCollector(zap.NewNop())
	engine := sandbox.NewEngine(zap.NewNop(), &sandbox.Config{}, sandbox.WithObserver(c))

	_, err := engine.Execute(context.Background(), sandbox.ExecuteRequest{Code: "x = eval(\"1\")"})
	require.Error(t, err)
	_, err = engine.Execute(context.Background(), sandbox.ExecuteRequest{Code: "RESULT_TEXT = \"ok\""})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.violations.WithLabelValues(string(sandbox.ViolationCall))))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.executions.WithLabelValues(OutcomeSuccess)))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(zap.NewNop())
	c.ObserveTool("execute_analysis_code", false)
	c.ObserveTool("execute_analysis_code", true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `edabox_tool_calls_total{status="error",tool="execute_analysis_code"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestServer_StartShutdown(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t))
	s := NewServer(c, 0)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	port := s.Addr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/metrics", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "process_")
}
