// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package instrumentation

import (
	"strings"
	"sync"
	"time"

	"contrib.go.opencensus.io/exporter/prometheus"
	pclient "github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
	"go.opencensus.io/stats/view"

	"github.com/intel/segmgr/pkg/instrumentation/http"
	"github.com/intel/segmgr/pkg/metrics"
)

const (
	// PrometheusMetricsPath is the URL path for exposing metrics to Prometheus.
	PrometheusMetricsPath = "/metrics"
)

// dynamically registered prometheus gatherers
var dynamicGatherers = &gatherers{gatherers: pclient.Gatherers{}}

// RegisterGatherer registers a new prometheus Gatherer.
func RegisterGatherer(g pclient.Gatherer) {
	dynamicGatherers.Register(g)
}

// metricsExporter is the state of our Prometheus exporter.
type metricsExporter struct {
	exporter *prometheus.Exporter
	mux      *http.ServeMux
	period   time.Duration
}

// start creates and starts the exporter if it is enabled.
func (m *metricsExporter) start(mux *http.ServeMux, period time.Duration, enabled bool) error {
	if !enabled {
		log.Info("metrics exporter is disabled")
		return nil
	}

	log.Info("starting metrics exporter...")

	collected, err := metrics.NewMetricGatherer()
	if err != nil {
		return instrumentationError("failed to create metrics gatherer: %v", err)
	}

	cfg := prometheus.Options{
		Namespace: prometheusNamespace(ServiceName),
		Gatherer:  pclient.Gatherers{collected, dynamicGatherers},
		OnError:   func(err error) { log.Error("prometheus export error: %v", err) },
	}
	exp, err := prometheus.NewExporter(cfg)
	if err != nil {
		return instrumentationError("failed to create prometheus exporter: %v", err)
	}

	mux.Handle(PrometheusMetricsPath, exp)
	view.RegisterExporter(exp)
	view.SetReportingPeriod(period)

	m.exporter = exp
	m.mux = mux
	m.period = period

	return nil
}

// stop stops the exporter.
func (m *metricsExporter) stop() {
	if m.exporter == nil {
		return
	}

	log.Info("stopping metrics exporter...")

	view.UnregisterExporter(m.exporter)
	m.mux.Unregister(PrometheusMetricsPath)
	*m = metricsExporter{}
}

// reconfigure restarts the exporter with the given configuration.
func (m *metricsExporter) reconfigure(mux *http.ServeMux, period time.Duration, enabled bool) error {
	log.Info("reconfiguring metrics exporter...")

	m.stop()
	return m.start(mux, period, enabled)
}

// prometheusNamespace mutates the service name into a valid Prometheus namespace.
func prometheusNamespace(service string) string {
	return strings.ReplaceAll(strings.ToLower(service), "-", "_")
}

// gatherers is a trivial wrapper around prometheus Gatherers.
type gatherers struct {
	sync.RWMutex
	gatherers pclient.Gatherers
}

// Register registers a new gatherer.
func (g *gatherers) Register(gatherer pclient.Gatherer) {
	g.Lock()
	defer g.Unlock()
	g.gatherers = append(g.gatherers, gatherer)
}

// Gather implements the pclient.Gatherer interface.
func (g *gatherers) Gather() ([]*model.MetricFamily, error) {
	g.RLock()
	defer g.RUnlock()
	return g.gatherers.Gather()
}
