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

// Package atomics issues remote atomic operations against segments of other ranks.
package atomics

import (
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/segmgr/pkg/device"
	logger "github.com/intel/segmgr/pkg/log"
	"github.com/intel/segmgr/pkg/segment"
	"github.com/intel/segmgr/pkg/status"
)

const (
	// pollLogInterval is the interval of messages while waiting for completions.
	pollLogInterval = time.Second
)

// Our logger instance.
var log = logger.NewLogger("atomics")

// Engine issues atomic operations through the device of a segment manager.
// Operations are synchronous: each one is completed before it returns.
// There should be a single Engine per device as the Engine consumes all
// completions of the device.
type Engine struct {
	logger.Logger
	m       *segment.Manager
	dev     device.Device
	waitlog logger.Logger
	ops     *prometheus.CounterVec

	lock    sync.Mutex
	scratch []byte
	mr      *device.MemoryRegion
	pending int
}

// NewEngine creates an atomic operation engine for the segments of m.
func NewEngine(m *segment.Manager) (*Engine, error) {
	dev := m.Device()
	scratch := make([]byte, device.AtomicSize)
	mr, err := dev.RegisterMemory(scratch)
	if err != nil {
		return nil, status.Wrap(status.KindDeviceError, err, "failed to register scratch buffer")
	}

	return &Engine{
		Logger:  log,
		m:       m,
		dev:     dev,
		waitlog: logger.RateLimit(log, logger.Interval(pollLogInterval)),
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "segmgr_atomic_operations_total",
				Help:        "Number of atomic operations issued.",
				ConstLabels: prometheus.Labels{"rank": strconv.Itoa(m.Rank())},
			},
			[]string{"op", "result"},
		),
		scratch: scratch,
		mr:      mr,
	}, nil
}

// Collector returns the prometheus collector of the operations counters.
func (e *Engine) Collector() prometheus.Collector {
	return e.ops
}

// Close releases the resources of the engine.
func (e *Engine) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.mr == nil {
		return nil
	}
	if err := e.dev.UnregisterMemory(e.mr); err != nil {
		return status.Wrap(status.KindDeviceError, err, "failed to unregister scratch buffer")
	}
	e.mr = nil

	return nil
}

// FetchAdd atomically adds add to the word at offset of segment id at rank,
// returning the previous value of the word.
func (e *Engine) FetchAdd(id segment.ID, offset uint64, rank int, add uint64) (uint64, error) {
	return e.execute(device.OpFetchAdd, id, offset, rank, add, 0)
}

// CompareSwap atomically replaces the word at offset of segment id at rank
// with swap if it equals cmp, returning the previous value of the word.
func (e *Engine) CompareSwap(id segment.ID, offset uint64, rank int, cmp, swap uint64) (uint64, error) {
	return e.execute(device.OpCompareSwap, id, offset, rank, cmp, swap)
}

func (e *Engine) execute(op device.Opcode, id segment.ID, offset uint64, rank int, arg0, arg1 uint64) (uint64, error) {
	old, err := e.issue(op, id, offset, rank, arg0, arg1)

	result := "success"
	if err != nil {
		result = status.KindOf(err).String()
	}
	e.ops.WithLabelValues(op.String(), result).Inc()

	return old, err
}

func (e *Engine) issue(op device.Opcode, id segment.ID, offset uint64, rank int, arg0, arg1 uint64) (uint64, error) {
	d, err := e.m.Descriptor(id, rank)
	if err != nil {
		return 0, err
	}
	if offset > d.Size || d.Size-offset < device.AtomicSize {
		return 0, status.New(status.KindInvalidArgument,
			"offset %d out of range for segment %d of %d bytes at rank %d", offset, id, d.Size, rank)
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	if e.mr == nil {
		return 0, status.New(status.KindNotInitialized, "atomic engine closed")
	}

	addr := d.Addr + offset
	switch op {
	case device.OpFetchAdd:
		_, err = e.dev.AtomicFetchAdd(e.mr, addr, d.Keys.Remote, arg0, rank)
	case device.OpCompareSwap:
		_, err = e.dev.AtomicCompareSwap(e.mr, addr, d.Keys.Remote, arg0, arg1, rank)
	default:
		return 0, status.New(status.KindInvalidArgument, "invalid atomic operation %s", op)
	}
	if err != nil {
		return 0, status.Wrap(status.KindDeviceError, err, "failed to post %s to rank %d", op, rank)
	}
	e.pending++

	if err := e.drain(); err != nil {
		return 0, err
	}

	return device.LoadWord(e.scratch, 0), nil
}

// drain polls for the completions of all pending operations.
func (e *Engine) drain() error {
	for e.pending > 0 {
		c, ok, err := e.dev.PollCompletion()
		if err != nil {
			e.pending = 0
			return status.Wrap(status.KindCommunicationError, err, "failed to poll for completions")
		}
		if !ok {
			e.waitlog.Debug("waiting for %d pending completions", e.pending)
			runtime.Gosched()
			continue
		}

		e.pending--
		if c.Status != device.StatusSuccess {
			e.pending = 0
			return status.New(status.KindCommunicationError, "%s to rank %d failed: %s",
				c.Opcode, c.Dest, c.Status)
		}
	}

	return nil
}
