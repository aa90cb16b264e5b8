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
	"sync"
	"time"

	"github.com/intel/segmgr/pkg/instrumentation/http"
)

// service is the state of our instrumentation services: HTTP endpoint and metrics exporter.
type service struct {
	sync.RWMutex
	http    *http.Server
	metrics *metricsExporter
	running bool
}

// newService creates an instance of our instrumentation services.
func newService() *service {
	return &service{
		http:    http.NewServer(),
		metrics: &metricsExporter{},
	}
}

// Start starts instrumentation services.
func (s *service) Start() error {
	log.Info("starting instrumentation services...")

	s.Lock()
	defer s.Unlock()

	if s.running {
		return nil
	}

	if err := s.http.Start(opt.HTTPEndpoint); err != nil {
		return instrumentationError("failed to start HTTP server: %v", err)
	}
	err := s.metrics.start(s.http.GetMux(), time.Duration(opt.ReportPeriod), opt.PrometheusExport)
	if err != nil {
		s.http.Stop()
		return instrumentationError("failed to start metrics: %v", err)
	}
	if err := registerGrpcViews(); err != nil {
		s.metrics.stop()
		s.http.Stop()
		return err
	}
	s.running = true

	return nil
}

// Stop stops instrumentation services.
func (s *service) Stop() {
	s.Lock()
	defer s.Unlock()

	if !s.running {
		return
	}

	unregisterGrpcViews()
	s.metrics.stop()
	s.http.Stop()
	s.running = false
}

// reconfigure reconfigures instrumentation services.
func (s *service) reconfigure() error {
	s.Lock()
	defer s.Unlock()

	if !s.running {
		return nil
	}

	if err := s.http.Reconfigure(opt.HTTPEndpoint); err != nil {
		return instrumentationError("failed to reconfigure HTTP server: %v", err)
	}
	err := s.metrics.reconfigure(s.http.GetMux(), time.Duration(opt.ReportPeriod), opt.PrometheusExport)
	if err != nil {
		return instrumentationError("failed to reconfigure metrics: %v", err)
	}
	return nil
}

// Restart restarts instrumentation services.
func (s *service) Restart() error {
	s.Stop()
	return s.Start()
}
