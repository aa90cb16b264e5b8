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

package segment

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// collector exposes the segment table of a Manager to prometheus.
type collector struct {
	m          *Manager
	segments   *prometheus.Desc
	size       *prometheus.Desc
	registered *prometheus.Desc
}

// NewCollector creates a prometheus collector for the segments of m.
func NewCollector(m *Manager) prometheus.Collector {
	labels := prometheus.Labels{"rank": strconv.Itoa(m.rank)}
	return &collector{
		m: m,
		segments: prometheus.NewDesc(
			"segmgr_segments",
			"Number of local segments.",
			nil, labels,
		),
		size: prometheus.NewDesc(
			"segmgr_segment_size_bytes",
			"Size of the data area of a local segment.",
			[]string{"segment", "backing"}, labels,
		),
		registered: prometheus.NewDesc(
			"segmgr_segment_registered_ranks",
			"Number of ranks a local segment is registered with.",
			[]string{"segment"}, labels,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.segments
	ch <- c.size
	ch <- c.registered
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	m := c.m
	ch <- prometheus.MustNewConstMetric(c.segments, prometheus.GaugeValue, float64(m.Num()))

	for i := 0; i < m.maxSegments; i++ {
		d := m.local(ID(i))
		if d == nil {
			continue
		}
		id := strconv.Itoa(i)
		ch <- prometheus.MustNewConstMetric(c.size, prometheus.GaugeValue,
			float64(d.Size), id, d.Backing.String())

		cnt := 0
		r := m.rows[i].Load()
		for rank := range r.registered {
			if r.registered[rank].Load() {
				cnt++
			}
		}
		ch <- prometheus.MustNewConstMetric(c.registered, prometheus.GaugeValue, float64(cnt), id)
	}
}
