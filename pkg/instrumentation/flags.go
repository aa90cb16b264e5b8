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
	"os"
	"time"

	"github.com/intel/segmgr/pkg/config"
	"github.com/intel/segmgr/pkg/utils"
)

const (
	// defaultReportPeriod is the default report period
	defaultReportPeriod = "15s"
	// defaultHTTPEndpoint is the default HTTP endpoint serving Prometheus /metrics.
	defaultHTTPEndpoint = ""
	// defaultPrometheusExport is the default state for Prometheus exporting.
	defaultPrometheusExport = "false"
)

// options encapsulates our configurable instrumentation parameters.
type options struct {
	// ReportPeriod is the OpenCensus view reporting period.
	ReportPeriod config.Duration `json:"reportPeriod,omitempty"`
	// HTTPEndpoint is our HTTP endpoint, used among others to export Prometheus /metrics.
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
	// PrometheusExport defines whether we export /metrics to/for Prometheus.
	PrometheusExport bool `json:"prometheusExport,omitempty"`
}

// Our instrumentation options.
var opt = defaultOptions().(*options)

// parseEnv parses the environment for default values.
func parseEnv(name, defval string, parsefn func(string) error) {
	if envval := os.Getenv(name); envval != "" {
		err := parsefn(envval)
		if err == nil {
			return
		}
		log.Error("invalid environment %s=%q: %v, using default %q", name, envval, err, defval)
	}
	if err := parsefn(defval); err != nil {
		log.Error("invalid default %s=%q: %v", name, defval, err)
	}
}

// defaultOptions returns a new options instance, all initialized to defaults.
func defaultOptions() interface{} {
	o := &options{}

	type param struct {
		defval  string
		parsefn func(string) error
	}

	params := map[string]param{
		"SEGMGR_HTTP_ENDPOINT": {
			defaultHTTPEndpoint,
			func(v string) error { o.HTTPEndpoint = v; return nil },
		},
		"SEGMGR_PROMETHEUS_EXPORT": {
			defaultPrometheusExport,
			func(v string) error {
				enabled, err := utils.ParseEnabled(v)
				if err != nil {
					return err
				}
				o.PrometheusExport = enabled
				return nil
			},
		},
		"SEGMGR_REPORT_PERIOD": {
			defaultReportPeriod,
			func(v string) error {
				d, err := time.ParseDuration(v)
				if err != nil {
					return err
				}
				o.ReportPeriod = config.Duration(d)
				return nil
			},
		},
	}

	for envvar, p := range params {
		parseEnv(envvar, p.defval, p.parsefn)
	}

	return o
}

// Validate checks the instrumentation configuration.
func (o *options) Validate() error {
	if o.ReportPeriod < config.Duration(time.Second) {
		return instrumentationError("report period %s too short", o.ReportPeriod)
	}
	return nil
}

// configNotify is our configuration update notification handler.
func configNotify(event config.Event, _ config.Source) error {
	log.Info("instrumentation configuration %s", event)

	if err := svc.reconfigure(); err != nil {
		log.Error("failed to reconfigure instrumentation: %v", err)
	}

	return nil
}

// Register us for for configuration handling.
func init() {
	config.Register("instrumentation", "Instrumentation for metrics.",
		opt, defaultOptions, config.WithNotify(configNotify))
}
