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
package metrics

import (
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/intel/segmgr/pkg/log"
)

// InitCollector is the type for functions that initialize collectors.
type InitCollector func() (prometheus.Collector, error)

var (
	lock                  sync.Mutex
	builtInCollectors     = make(map[string]InitCollector)
	initializedCollectors = make(map[string]prometheus.Collector)
	log                   = logger.NewLogger("collectors")
)

// RegisterCollector registers the named prometheus.Collector for metrics collection.
func RegisterCollector(name string, init InitCollector) error {
	lock.Lock()
	defer lock.Unlock()

	log.Info("registering collector %s...", name)

	if _, found := builtInCollectors[name]; found {
		return metricsError("collector %s already registered", name)
	}

	builtInCollectors[name] = init

	return nil
}

// UnregisterCollector removes the named collector.
func UnregisterCollector(name string) {
	lock.Lock()
	defer lock.Unlock()

	log.Info("unregistering collector %s...", name)

	delete(builtInCollectors, name)
	delete(initializedCollectors, name)
}

// NewMetricGatherer creates a new prometheus.Gatherer with all registered collectors.
func NewMetricGatherer() (prometheus.Gatherer, error) {
	lock.Lock()
	defer lock.Unlock()

	reg := prometheus.NewPedanticRegistry()

	names := make([]string, 0, len(builtInCollectors))
	for name := range builtInCollectors {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c, ok := initializedCollectors[name]
		if !ok {
			var err error
			if c, err = builtInCollectors[name](); err != nil {
				log.Error("failed to initialize collector '%s': %v, skipping it", name, err)
				continue
			}
			initializedCollectors[name] = c
		}
		if err := reg.Register(c); err != nil {
			return nil, metricsError("failed to register collector %s: %v", name, err)
		}
	}

	return reg, nil
}

func metricsError(format string, args ...interface{}) error {
	return fmt.Errorf("metrics: "+format, args...)
}
