// Package metrics exposes Prometheus metrics for executions and tool calls.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/isdmx/edabox/sandbox"
)

const namespace = "edabox"

// OutcomeSuccess labels executions that produced a result
const OutcomeSuccess = "success"

// Collector records execution outcomes on its own registry
type Collector struct {
	registry   *prometheus.Registry
	executions *prometheus.CounterVec
	violations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	toolCalls  *prometheus.CounterVec
	logger     *zap.Logger
}

var _ sandbox.Observer = (*Collector)(nil)

// NewCollector creates a collector with Go runtime and process metrics
func NewCollector(logger *zap.Logger) *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		executions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Executions by outcome (success, syntax, safety, execution)",
			},
			[]string{"outcome"},
		),
		violations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "safety_violations_total",
				Help:      "Rejected programs by violation kind",
			},
			[]string{"kind"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Execution duration in seconds, analysis included",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"outcome"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "MCP tool calls by tool and status",
			},
			[]string{"tool", "status"},
		),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// ObserveExecution implements sandbox.Observer
func (c *Collector) ObserveExecution(stage string, kind sandbox.ViolationKind, d time.Duration) {
	outcome := stage
	if outcome == "" {
		outcome = OutcomeSuccess
	}
	c.executions.WithLabelValues(outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(d.Seconds())
	if kind != "" {
		c.violations.WithLabelValues(string(kind)).Inc()
	}
}

// ObserveTool counts one tool call
func (c *Collector) ObserveTool(tool string, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	c.toolCalls.WithLabelValues(tool, status).Inc()
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics on its own listener
type Server struct {
	http   *http.Server
	addr   net.Addr
	logger *zap.Logger
}

// NewServer creates a metrics server for port
func NewServer(c *Collector, port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: c.logger,
	}
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	s.addr = ln.Addr()
	s.logger.Info("Metrics server listening", zap.String("addr", s.addr.String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
