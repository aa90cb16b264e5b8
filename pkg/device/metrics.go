// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package device

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats counts device activity.
type Stats struct {
	sync.Mutex
	registrations int
	posted        map[Opcode]uint64
	completed     map[Status]uint64
}

// NewStats creates a new set of device counters.
func NewStats() *Stats {
	return &Stats{
		posted:    make(map[Opcode]uint64),
		completed: make(map[Status]uint64),
	}
}

// Registered counts a registration (delta 1) or unregistration (delta -1).
func (s *Stats) Registered(delta int) {
	s.Lock()
	defer s.Unlock()
	s.registrations += delta
}

// Posted counts a posted work request.
func (s *Stats) Posted(op Opcode) {
	s.Lock()
	defer s.Unlock()
	s.posted[op]++
}

// Completed counts a polled completion.
func (s *Stats) Completed(status Status) {
	s.Lock()
	defer s.Unlock()
	s.completed[status]++
}

// collector exposes device Stats to prometheus.
type collector struct {
	stats         *Stats
	registrations *prometheus.Desc
	posted        *prometheus.Desc
	completed     *prometheus.Desc
}

// NewCollector creates a prometheus collector for the stats of the named device.
func NewCollector(name string, stats *Stats) prometheus.Collector {
	labels := prometheus.Labels{"device": name}
	return &collector{
		stats: stats,
		registrations: prometheus.NewDesc(
			"segmgr_device_memory_registrations",
			"Number of memory regions registered with the device.",
			nil, labels,
		),
		posted: prometheus.NewDesc(
			"segmgr_device_posted_total",
			"Number of work requests posted to the device.",
			[]string{"op"}, labels,
		),
		completed: prometheus.NewDesc(
			"segmgr_device_completions_total",
			"Number of work completions polled from the device.",
			[]string{"status"}, labels,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.registrations
	ch <- c.posted
	ch <- c.completed
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	c.stats.Lock()
	defer c.stats.Unlock()

	ch <- prometheus.MustNewConstMetric(c.registrations, prometheus.GaugeValue,
		float64(c.stats.registrations))
	for op, cnt := range c.stats.posted {
		ch <- prometheus.MustNewConstMetric(c.posted, prometheus.CounterValue,
			float64(cnt), op.String())
	}
	for status, cnt := range c.stats.completed {
		ch <- prometheus.MustNewConstMetric(c.completed, prometheus.CounterValue,
			float64(cnt), status.String())
	}
}
