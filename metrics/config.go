// Package metrics sets up the process-wide tally.Scope, grounded on the
// teacher's common/metrics package: a Prometheus reporter when enabled,
// tally.NoopScope otherwise, plus an HTTP mux exposing /metrics and
// /health for whoever owns the process's debug listener.
package metrics

import (
	"fmt"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/uber-go/tally"
	tallyprom "github.com/uber-go/tally/prometheus"
)

// Config selects the metrics reporter (spec.md's ambient
// observability stack, not a spec.md module in its own right). It is
// not part of server.Config; cmd/gcs builds it from the
// --enable-prometheus flag.
type Config struct {
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// PrometheusConfig toggles the Prometheus exposition reporter.
type PrometheusConfig struct {
	Enable bool `yaml:"enable"`
}

// Closer flushes and releases whatever backs the root scope.
type Closer interface {
	Close() error
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// InitMetricScope builds the root tally.Scope for rootMetricScope,
// flushed every flushInterval, plus an HTTP mux carrying /metrics (when
// Prometheus is enabled) and /health.
func InitMetricScope(cfg Config, rootMetricScope string, flushInterval time.Duration) (tally.Scope, Closer, *nethttp.ServeMux) {
	mux := nethttp.NewServeMux()
	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		w.WriteHeader(nethttp.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	if !cfg.Prometheus.Enable {
		return tally.NoopScope, noopCloser{}, mux
	}

	// tally panics on scope names containing "-".
	rootMetricScope = strings.Replace(rootMetricScope, "-", "_", -1)
	reporter := tallyprom.NewReporter(tallyprom.Options{})
	mux.Handle("/metrics", reporter.HTTPHandler())

	scope, closer := tally.NewRootScope(
		tally.ScopeOptions{
			Prefix:         rootMetricScope,
			Tags:           map[string]string{},
			CachedReporter: reporter,
			Separator:      "_",
		},
		flushInterval,
	)
	return scope, closer, mux
}
