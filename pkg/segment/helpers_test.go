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
	"fmt"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/intel/segmgr/pkg/control"
	"github.com/intel/segmgr/pkg/device"
	"github.com/intel/segmgr/pkg/device/fabric"
	"github.com/intel/segmgr/pkg/group"
	"github.com/intel/segmgr/pkg/status"
)

// newCluster creates the segment managers of ranks interconnected by a
// simulated fabric and a loopback control channel.
func newCluster(t *testing.T, ranks int, options ...Option) []*Manager {
	f := fabric.NewFabric()
	hub := control.NewHub()

	managers := make([]*Manager, 0, ranks)
	for r := 0; r < ranks; r++ {
		a, err := f.Attach(r)
		require.NoError(t, err)
		dev := fabric.NewDevice(a)
		t.Cleanup(func() { require.NoError(t, dev.Close()) })

		lb, err := hub.Attach(r)
		require.NoError(t, err)
		groups, err := group.NewTable(r, ranks, lb)
		require.NoError(t, err)

		m, err := NewManager(r, ranks, dev, lb, groups, options...)
		require.NoError(t, err)
		lb.SetHandler(m)

		managers = append(managers, m)
	}

	return managers
}

// newLocal creates a single-rank segment manager.
func newLocal(t *testing.T, options ...Option) *Manager {
	return newCluster(t, 1, options...)[0]
}

// words returns an 8-byte aligned buffer of n words.
func words(n int) []byte {
	w := make([]uint64, n)
	return unsafe.Slice((*byte)(unsafe.Pointer(&w[0])), n*device.AtomicSize)
}

// testAllocator allocates garbage-filled heap memory and counts allocations.
type testAllocator struct {
	sync.Mutex
	allocated int
	freed     int
	fail      bool
}

func (a *testAllocator) Allocate(size uint64) ([]byte, error) {
	a.Lock()
	defer a.Unlock()
	if a.fail {
		return nil, fmt.Errorf("out of test memory")
	}
	a.allocated++
	buf := words(int((size + device.AtomicSize - 1) / device.AtomicSize))[:size]
	for i := range buf {
		buf[i] = 0xa5
	}
	return buf, nil
}

func (a *testAllocator) Free([]byte) error {
	a.Lock()
	defer a.Unlock()
	a.freed++
	return nil
}

func (a *testAllocator) live() int {
	a.Lock()
	defer a.Unlock()
	return a.allocated - a.freed
}

// failingDevice fails memory registration after a number of successful ones,
// and unregistration of the stuck region.
type failingDevice struct {
	device.Device
	sync.Mutex
	succeed int
	stuck   *device.MemoryRegion
}

func (d *failingDevice) UnregisterMemory(mr *device.MemoryRegion) error {
	d.Lock()
	defer d.Unlock()
	if mr == d.stuck {
		return fmt.Errorf("test device can't unregister %s", mr)
	}
	return d.Device.UnregisterMemory(mr)
}

func (d *failingDevice) RegisterMemory(buf []byte) (*device.MemoryRegion, error) {
	d.Lock()
	defer d.Unlock()
	if d.succeed <= 0 {
		return nil, fmt.Errorf("test device out of registrations")
	}
	d.succeed--
	return d.Device.RegisterMemory(buf)
}

// failingChannel fails all segment registrations.
type failingChannel struct {
	control.Channel
	calls int
}

func (c *failingChannel) RegisterSegment(ctx context.Context, rank int, id uint8, info control.SegmentInfo) error {
	c.calls++
	return status.New(status.KindGeneric, "rank %d rejected segment %d", rank, id)
}

func isZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
