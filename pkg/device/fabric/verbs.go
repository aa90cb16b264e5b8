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

// Package fabric implements a transport device on top of a verbs-style
// fabric provider: memory regions, one queue pair per destination rank and
// a single send completion queue.
package fabric

import (
	"github.com/intel/segmgr/pkg/device"
)

// Provider is the verbs interface of a fabric adapter.
type Provider interface {
	// Rank returns the rank the adapter is attached as.
	Rank() int
	// RegMR registers a memory region.
	RegMR(buf []byte) (*device.MemoryRegion, error)
	// DeregMR deregisters a memory region.
	DeregMR(mr *device.MemoryRegion) error
	// CreateQP creates a queue pair connected to the given rank.
	CreateQP(dest int) (*QueuePair, error)
	// PostSend posts a work request on a queue pair.
	PostSend(qp *QueuePair, wr *SendWR) error
	// PollCQ polls the send completion queue for up to len(wc) completions.
	PollCQ(wc []WorkCompletion) (int, error)
	// Close detaches the adapter.
	Close() error
}

// QueuePair is a connected queue pair.
type QueuePair struct {
	Num  uint32
	Dest int
}

// SGE is a scatter-gather element.
type SGE struct {
	Addr   uint64
	Length uint32
	LKey   uint32
}

// SendWR is a send work request.
type SendWR struct {
	WRID       uint64
	Opcode     device.Opcode
	Signaled   bool
	SGE        SGE
	RemoteAddr uint64
	RKey       uint32
	CompareAdd uint64
	Swap       uint64
}

// WorkCompletion is a send completion queue entry.
type WorkCompletion struct {
	WRID   uint64
	Status device.Status
	Opcode device.Opcode
	QPNum  uint32
}
