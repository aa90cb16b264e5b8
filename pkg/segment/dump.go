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
	"fmt"
	"strconv"
	"strings"
)

// DumpFn emits a multiline message, such as Logger.InfoBlock.
type DumpFn func(prefix string, format string, args ...interface{})

// Dump dumps the local view of the segment table using fn.
func (m *Manager) Dump(fn DumpFn) {
	lines := []string{}
	for i := 0; i < m.maxSegments; i++ {
		r := m.rows[i].Load()
		if r == nil {
			continue
		}
		for rank := range r.descs {
			d := r.descs[rank].Load()
			if d == nil || d.Size == 0 {
				continue
			}
			line := fmt.Sprintf("segment #%d @ rank %d: %s", i, rank, d)
			if rank == m.rank {
				line += ", registered with " + m.registeredWith(r)
			}
			lines = append(lines, line)
		}
	}

	fn("  ", "rank %d: %d/%d segments\n%s", m.rank, m.Num(), m.maxSegments,
		strings.Join(lines, "\n"))
}

func (m *Manager) registeredWith(r *row) string {
	ranks := []string{}
	for rank := range r.registered {
		if r.registered[rank].Load() {
			ranks = append(ranks, strconv.Itoa(rank))
		}
	}
	if len(ranks) == 0 {
		return "none"
	}
	return "[" + strings.Join(ranks, ",") + "]"
}
