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
	"sync/atomic"

	"github.com/intel/segmgr/pkg/control"
	"github.com/intel/segmgr/pkg/device"
	"github.com/intel/segmgr/pkg/group"
	logger "github.com/intel/segmgr/pkg/log"
	"github.com/intel/segmgr/pkg/status"
)

// Our logger instance.
var log = logger.NewLogger("segment")

// Manager is the segment table of a rank and implements segment lifecycle operations.
type Manager struct {
	logger.Logger
	rank         int
	ranks        int
	maxSegments  int
	notifyOffset uint64
	dev          device.Device
	channel      control.Channel
	groups       group.Groups
	host         Allocator
	allocators   map[int]Allocator
	rows         []atomic.Pointer[row]
	segLocks     []timedMutex
	ctrlLock     timedMutex
	count        atomic.Int32
}

// row is the view of a segment at all ranks.
type row struct {
	descs []atomic.Pointer[Descriptor]
	// registered[r] is set once rank r has been told about our segment
	registered []atomic.Bool
}

// Option is an option for a Manager.
type Option func(*Manager) error

// WithMaxSegments overrides the configured maximum number of segments.
func WithMaxSegments(max int) Option {
	return func(m *Manager) error {
		if max < 1 || max > MaxSegmentsLimit {
			return status.New(status.KindInvalidArgument, "invalid maximum segment count %d", max)
		}
		m.maxSegments = max
		return nil
	}
}

// WithNotifyOffset overrides the configured size of notification areas.
func WithNotifyOffset(offset uint64) Option {
	return func(m *Manager) error {
		if offset == 0 || offset%device.AtomicSize != 0 {
			return status.New(status.KindInvalidArgument, "invalid notification area size %d", offset)
		}
		m.notifyOffset = offset
		return nil
	}
}

// WithAllocator sets the allocator for the memory of accelerator device dev.
func WithAllocator(dev int, a Allocator) Option {
	return func(m *Manager) error {
		m.allocators[dev] = a
		return nil
	}
}

// WithHostAllocator overrides the allocator for host memory.
func WithHostAllocator(a Allocator) Option {
	return func(m *Manager) error {
		m.host = a
		return nil
	}
}

// NewManager creates the segment manager of rank out of ranks.
func NewManager(rank, ranks int, dev device.Device, channel control.Channel, groups group.Groups, options ...Option) (*Manager, error) {
	if ranks < 1 || rank < 0 || rank >= ranks {
		return nil, status.New(status.KindInvalidArgument, "invalid rank %d of %d", rank, ranks)
	}
	if dev == nil || channel == nil || groups == nil {
		return nil, status.New(status.KindNotInitialized, "rank %d: missing device, channel or groups", rank)
	}

	m := &Manager{
		Logger:       log,
		rank:         rank,
		ranks:        ranks,
		maxSegments:  opt.MaxSegments,
		notifyOffset: opt.NotifyOffset,
		dev:          dev,
		channel:      channel,
		groups:       groups,
		host:         HostAllocator(),
		allocators:   make(map[int]Allocator),
		ctrlLock:     newTimedMutex(),
	}
	for _, o := range options {
		if err := o(m); err != nil {
			return nil, err
		}
	}

	m.rows = make([]atomic.Pointer[row], m.maxSegments)
	m.segLocks = make([]timedMutex, m.maxSegments)
	for i := range m.segLocks {
		m.segLocks[i] = newTimedMutex()
	}

	m.Info("rank %d/%d: segment table for %d segments on %s device",
		rank, ranks, m.maxSegments, dev.Name())

	return m, nil
}

// Rank returns the rank of the manager.
func (m *Manager) Rank() int {
	return m.rank
}

// Ranks returns the total number of ranks.
func (m *Manager) Ranks() int {
	return m.ranks
}

// Device returns the transport device of the manager.
func (m *Manager) Device() device.Device {
	return m.dev
}

// Max returns the maximum number of segments.
func (m *Manager) Max() int {
	return m.maxSegments
}

// Num returns the number of local segments.
func (m *Manager) Num() int {
	return int(m.count.Load())
}

// List returns the ids of all local segments.
func (m *Manager) List() ([]ID, error) {
	ids := make([]ID, 0, m.Num())
	for i := 0; i < m.maxSegments; i++ {
		if d := m.local(ID(i)); d != nil {
			ids = append(ids, ID(i))
		}
	}
	if cnt := m.Num(); cnt != len(ids) {
		return nil, status.New(status.KindGeneric, "found %d segments, expected %d", len(ids), cnt)
	}
	return ids, nil
}

// AvailLocal returns the lowest unused segment id.
func (m *Manager) AvailLocal() (ID, error) {
	for i := 0; i < m.maxSegments; i++ {
		if m.local(ID(i)) == nil {
			return ID(i), nil
		}
	}
	return 0, status.New(status.KindCapacityExceeded, "all %d segments in use", m.maxSegments)
}

// Size returns the size of segment id as known at rank.
func (m *Manager) Size(id ID, rank int) (uint64, error) {
	d, err := m.Descriptor(id, rank)
	if err != nil {
		return 0, err
	}
	return d.Size, nil
}

// Pointer returns the data area of the local segment id.
func (m *Manager) Pointer(id ID) ([]byte, error) {
	d, err := m.Descriptor(id, m.rank)
	if err != nil {
		return nil, err
	}
	return d.data, nil
}

// Registered returns true if rank has been told about our segment id.
func (m *Manager) Registered(id ID, rank int) bool {
	if m.checkID(id) != nil || m.checkRank(rank) != nil {
		return false
	}
	r := m.rows[id].Load()
	if r == nil {
		return false
	}
	return r.registered[rank].Load()
}

// Descriptor returns the descriptor of segment id at rank.
func (m *Manager) Descriptor(id ID, rank int) (*Descriptor, error) {
	if err := m.checkID(id); err != nil {
		return nil, err
	}
	if err := m.checkRank(rank); err != nil {
		return nil, err
	}
	r := m.rows[id].Load()
	if r == nil {
		return nil, status.New(status.KindNotInitialized, "segment %d does not exist", id)
	}
	d := r.descs[rank].Load()
	if d == nil || d.Size == 0 {
		return nil, status.New(status.KindNotInitialized, "segment %d does not exist at rank %d", id, rank)
	}
	return d, nil
}

// local returns the local descriptor of segment id, nil if it does not exist.
func (m *Manager) local(id ID) *Descriptor {
	r := m.rows[id].Load()
	if r == nil {
		return nil
	}
	d := r.descs[m.rank].Load()
	if d == nil || d.Size == 0 {
		return nil
	}
	return d
}

// row returns the row for segment id, creating it if necessary. The caller
// must hold the lock of the segment.
func (m *Manager) row(id ID) *row {
	if r := m.rows[id].Load(); r != nil {
		return r
	}
	r := &row{
		descs:      make([]atomic.Pointer[Descriptor], m.ranks),
		registered: make([]atomic.Bool, m.ranks),
	}
	m.rows[id].Store(r)
	return r
}

func (m *Manager) checkID(id ID) error {
	if int(id) >= m.maxSegments {
		return status.New(status.KindInvalidArgument, "invalid segment id %d (max. %d)",
			id, m.maxSegments)
	}
	return nil
}

func (m *Manager) checkRank(rank int) error {
	if rank < 0 || rank >= m.ranks {
		return status.New(status.KindInvalidArgument, "invalid rank %d (%d ranks)", rank, m.ranks)
	}
	return nil
}

// full returns true if the maximum number of segments are in use.
func (m *Manager) full() bool {
	return m.Num() >= m.maxSegments
}
