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
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/segmgr/pkg/control"
	"github.com/intel/segmgr/pkg/device"
	"github.com/intel/segmgr/pkg/group"
	"github.com/intel/segmgr/pkg/status"
)

var _ control.Handler = &Manager{}

// Allocate allocates segment id of size bytes in host memory.
func (m *Manager) Allocate(id ID, size uint64, policy Policy) error {
	return m.AllocateOn(id, size, policy, Host)
}

// AllocateOn allocates segment id of size bytes in the given backing memory.
// Allocating an existing segment is a no-op.
func (m *Manager) AllocateOn(id ID, size uint64, policy Policy, backing Backing) error {
	if err := m.checkNew(id, size); err != nil {
		return err
	}
	alloc, err := m.allocator(backing)
	if err != nil {
		return err
	}

	lock := m.segLocks[id]
	if err := lock.Lock(context.Background()); err != nil {
		return err
	}
	defer lock.Unlock()

	r := m.row(id)
	if d := r.descs[m.rank].Load(); d != nil && d.Size != 0 {
		m.Debug("segment %d already allocated (%d bytes)", id, d.Size)
		return nil
	}

	if !m.reserve() {
		return status.New(status.KindCapacityExceeded, "can't create segment %d, all %d in use",
			id, m.maxSegments)
	}

	mem, err := alloc.Allocate(size + m.notifyOffset)
	if err != nil {
		m.count.Add(-1)
		return status.Wrap(status.KindAllocationFailure, err, "segment %d", id)
	}
	if policy == MemInitialized {
		zero(mem)
	} else {
		zero(mem[:m.notifyOffset])
	}

	mr, err := m.dev.RegisterMemory(mem)
	if err != nil {
		m.release(id, mem, alloc)
		return status.Wrap(status.KindDeviceError, err, "segment %d: failed to register memory", id)
	}

	d := &Descriptor{
		Size:       size,
		Addr:       mr.Addr + m.notifyOffset,
		NotifyAddr: mr.Addr,
		NotifySize: m.notifyOffset,
		Keys:       mr.Keys,
		NotifyKeys: mr.Keys,
		Handles:    [2]*device.MemoryRegion{mr, nil},
		Backing:    backing,
		mem:        mem,
		data:       mem[m.notifyOffset:],
	}
	r.descs[m.rank].Store(d)

	m.Debug("allocated segment %d: %s", id, d)

	return nil
}

// Bind binds segment id to the caller-supplied memory buf. Only the
// notification area is allocated. Binding an existing segment is a no-op.
func (m *Manager) Bind(id ID, buf []byte, memDesc uint32) error {
	if err := m.checkNew(id, uint64(len(buf))); err != nil {
		return err
	}

	lock := m.segLocks[id]
	if err := lock.Lock(context.Background()); err != nil {
		return err
	}
	defer lock.Unlock()

	r := m.row(id)
	if d := r.descs[m.rank].Load(); d != nil && d.Size != 0 {
		m.Debug("segment %d already exists (%d bytes)", id, d.Size)
		return nil
	}

	if !m.reserve() {
		return status.New(status.KindCapacityExceeded, "can't create segment %d, all %d in use",
			id, m.maxSegments)
	}

	notify, err := m.host.Allocate(m.notifyOffset)
	if err != nil {
		m.count.Add(-1)
		return status.Wrap(status.KindAllocationFailure, err, "segment %d", id)
	}
	zero(notify)

	dataMR, err := m.dev.RegisterMemory(buf)
	if err != nil {
		m.release(id, notify, m.host)
		return status.Wrap(status.KindDeviceError, err, "segment %d: failed to register memory", id)
	}
	notifyMR, err := m.dev.RegisterMemory(notify)
	if err != nil {
		if uerr := m.dev.UnregisterMemory(dataMR); uerr != nil {
			m.Error("segment %d: failed to unregister memory: %v", id, uerr)
		}
		m.release(id, notify, m.host)
		return status.Wrap(status.KindDeviceError, err, "segment %d: failed to register memory", id)
	}

	d := &Descriptor{
		Size:         uint64(len(buf)),
		Addr:         dataMR.Addr,
		NotifyAddr:   notifyMR.Addr,
		NotifySize:   m.notifyOffset,
		Keys:         dataMR.Keys,
		NotifyKeys:   notifyMR.Keys,
		Handles:      [2]*device.MemoryRegion{dataMR, notifyMR},
		UserProvided: true,
		Backing:      Host,
		MemDesc:      memDesc,
		mem:          notify,
		data:         buf,
	}
	r.descs[m.rank].Store(d)

	m.Debug("bound segment %d: %s", id, d)

	return nil
}

// Use binds segment id to buf then registers it with all members of group g.
func (m *Manager) Use(ctx context.Context, id ID, buf []byte, g group.ID, memDesc uint32) error {
	if err := m.checkGroup(g); err != nil {
		return err
	}
	if err := m.Bind(id, buf, memDesc); err != nil {
		return err
	}
	return m.registerGroup(ctx, id, g)
}

// Create allocates segment id, registers it with all members of group g,
// then waits for all members to do the same.
func (m *Manager) Create(ctx context.Context, id ID, size uint64, g group.ID, policy Policy) error {
	if err := m.checkGroup(g); err != nil {
		return err
	}
	if err := m.Allocate(id, size, policy); err != nil {
		return err
	}
	return m.registerGroup(ctx, id, g)
}

// registerGroup registers segment id with each member of group g, starting
// with the member following us, then enters the barrier of the group.
func (m *Manager) registerGroup(ctx context.Context, id ID, g group.ID) error {
	ranks, err := m.groups.Ranks(g)
	if err != nil {
		return err
	}
	pos, err := m.groups.Position(g)
	if err != nil {
		return err
	}

	n := len(ranks)
	for i := 1; i <= n; i++ {
		if err := m.Register(ctx, id, ranks[(pos+i)%n]); err != nil {
			return err
		}
	}

	return m.groups.Barrier(ctx, g)
}

// Register tells rank about our segment id. Registering with ourselves
// only marks the segment registered locally.
func (m *Manager) Register(ctx context.Context, id ID, rank int) error {
	if err := m.checkID(id); err != nil {
		return err
	}
	if err := m.checkRank(rank); err != nil {
		return err
	}
	d := m.local(id)
	if d == nil {
		return status.New(status.KindNotInitialized, "can't register unallocated segment %d", id)
	}
	r := m.rows[id].Load()

	if rank == m.rank {
		r.registered[rank].Store(true)
		return nil
	}

	if err := m.ctrlLock.Lock(ctx); err != nil {
		return err
	}
	defer m.ctrlLock.Unlock()

	err := m.channel.RegisterSegment(ctx, rank, uint8(id), control.SegmentInfo{
		Size:       d.Size,
		DataAddr:   d.Addr,
		NotifyAddr: d.NotifyAddr,
		NotifySize: d.NotifySize,
		DataKey:    d.Keys.Remote,
		NotifyKey:  d.NotifyKeys.Remote,
	})
	r.registered[rank].Store(true)

	if err != nil {
		m.Error("segment %d: registration with rank %d failed: %v", id, rank, err)
		return err
	}

	m.Debug("segment %d registered with rank %d", id, rank)

	return nil
}

// SegmentRegistered records segment id of rank from.
func (m *Manager) SegmentRegistered(id uint8, from int, info control.SegmentInfo) error {
	if err := m.checkID(ID(id)); err != nil {
		return err
	}
	if err := m.checkRank(from); err != nil {
		return err
	}
	if from == m.rank || info.Size == 0 {
		return status.New(status.KindInvalidArgument, "invalid registration of segment %d by rank %d",
			id, from)
	}

	lock := m.segLocks[id]
	if err := lock.Lock(context.Background()); err != nil {
		return err
	}
	defer lock.Unlock()

	m.row(ID(id)).descs[from].Store(&Descriptor{
		Size:       info.Size,
		Addr:       info.DataAddr,
		NotifyAddr: info.NotifyAddr,
		NotifySize: info.NotifySize,
		Keys:       device.Keys{Remote: info.DataKey},
		NotifyKeys: device.Keys{Remote: info.NotifyKey},
	})

	m.Debug("rank %d registered its segment %d: %s", from, id, info)

	return nil
}

// Delete deletes the local segment id. Other ranks are not notified.
func (m *Manager) Delete(id ID) error {
	if err := m.checkID(id); err != nil {
		return err
	}

	lock := m.segLocks[id]
	if err := lock.Lock(context.Background()); err != nil {
		return err
	}
	defer lock.Unlock()

	d := m.local(id)
	if d == nil {
		return status.New(status.KindNotInitialized, "can't delete unallocated segment %d", id)
	}

	alloc := m.host
	if !d.UserProvided {
		a, err := m.allocator(d.Backing)
		if err != nil {
			return err
		}
		alloc = a
	}

	var errors *multierror.Error
	left := *d
	for i, mr := range d.Handles {
		if mr == nil {
			continue
		}
		if err := m.dev.UnregisterMemory(mr); err != nil {
			errors = multierror.Append(errors, err)
			continue
		}
		left.Handles[i] = nil
	}
	if err := errors.ErrorOrNil(); err != nil {
		// keep only the registrations a retry still has to revoke
		r := m.rows[id].Load()
		r.descs[m.rank].Store(&left)
		return status.Wrap(status.KindDeviceError, err, "segment %d: failed to unregister memory", id)
	}

	ferr := alloc.Free(d.mem)

	r := m.rows[id].Load()
	r.descs[m.rank].Store(nil)
	for i := range r.registered {
		r.registered[i].Store(false)
	}
	m.count.Add(-1)

	m.Debug("deleted segment %d", id)

	if ferr != nil {
		return status.Wrap(status.KindGeneric, ferr, "segment %d", id)
	}
	return nil
}

// checkNew checks if segment id of size can be created.
func (m *Manager) checkNew(id ID, size uint64) error {
	if err := m.checkID(id); err != nil {
		return err
	}
	if size == 0 || size > uint64(maxInt) || m.notifyOffset > uint64(maxInt)-size {
		return status.New(status.KindInvalidArgument, "invalid size %d for segment %d", size, id)
	}
	if m.full() && m.local(id) == nil {
		return status.New(status.KindCapacityExceeded, "can't create segment %d, all %d in use",
			id, m.maxSegments)
	}
	return nil
}

func (m *Manager) checkGroup(g group.ID) error {
	if _, err := m.groups.Size(g); err != nil {
		return err
	}
	_, err := m.groups.Position(g)
	return err
}

// allocator returns the allocator for the given backing memory.
func (m *Manager) allocator(backing Backing) (Allocator, error) {
	if backing.Kind == HostMemory {
		return m.host, nil
	}
	alloc, ok := m.allocators[backing.Device]
	if !ok {
		return nil, status.New(status.KindInvalidArgument, "no allocator for %s", backing)
	}
	return alloc, nil
}

// reserve reserves a slot in the segment count, if there is one left.
func (m *Manager) reserve() bool {
	for {
		cnt := m.count.Load()
		if int(cnt) >= m.maxSegments {
			return false
		}
		if m.count.CompareAndSwap(cnt, cnt+1) {
			return true
		}
	}
}

// release frees memory of a segment that could not be created, giving up its count slot.
func (m *Manager) release(id ID, mem []byte, alloc Allocator) {
	m.count.Add(-1)
	if err := alloc.Free(mem); err != nil {
		m.Error("segment %d: failed to free memory: %v", id, err)
	}
}
