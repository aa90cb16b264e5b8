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

package fabric

import (
	"sync"

	"github.com/intel/segmgr/pkg/device"
	logger "github.com/intel/segmgr/pkg/log"
)

const (
	// DeviceName is the name of fabric devices.
	DeviceName = "fabric"
)

// Device is a transport device on top of a fabric Provider.
type Device struct {
	logger.Logger
	sync.Mutex
	provider Provider
	qps      map[int]*QueuePair // queue pairs by destination rank
	dests    map[uint32]int     // destination ranks by queue pair number
	stats    *device.Stats
	wc       [1]WorkCompletion
}

var _ device.Device = &Device{}

// NewDevice creates a device on top of the given provider.
func NewDevice(p Provider) *Device {
	return &Device{
		Logger:   logger.NewLogger("fabric"),
		provider: p,
		qps:      make(map[int]*QueuePair),
		dests:    make(map[uint32]int),
		stats:    device.NewStats(),
	}
}

// Name returns the name of the device.
func (d *Device) Name() string {
	return DeviceName
}

// Stats returns the activity counters of the device.
func (d *Device) Stats() *device.Stats {
	return d.stats
}

// RegisterMemory registers buf with the provider.
func (d *Device) RegisterMemory(buf []byte) (*device.MemoryRegion, error) {
	mr, err := d.provider.RegMR(buf)
	if err != nil {
		return nil, err
	}
	d.stats.Registered(1)
	d.Debug("rank %d: registered %s", d.provider.Rank(), mr)
	return mr, nil
}

// UnregisterMemory deregisters a memory region.
func (d *Device) UnregisterMemory(mr *device.MemoryRegion) error {
	if err := d.provider.DeregMR(mr); err != nil {
		return err
	}
	d.stats.Registered(-1)
	d.Debug("rank %d: unregistered %s", d.provider.Rank(), mr)
	return nil
}

// AtomicFetchAdd posts a signaled fetch-and-add to rank dest.
func (d *Device) AtomicFetchAdd(local *device.MemoryRegion, remoteAddr uint64, rkey uint32, add uint64, dest int) (device.Token, error) {
	return d.post(local, dest, &SendWR{
		Opcode:     device.OpFetchAdd,
		RemoteAddr: remoteAddr,
		RKey:       rkey,
		CompareAdd: add,
	})
}

// AtomicCompareSwap posts a signaled compare-and-swap to rank dest.
func (d *Device) AtomicCompareSwap(local *device.MemoryRegion, remoteAddr uint64, rkey uint32, cmp, swap uint64, dest int) (device.Token, error) {
	return d.post(local, dest, &SendWR{
		Opcode:     device.OpCompareSwap,
		RemoteAddr: remoteAddr,
		RKey:       rkey,
		CompareAdd: cmp,
		Swap:       swap,
	})
}

// post fills in the local buffer and token of an atomic work request and posts it.
func (d *Device) post(local *device.MemoryRegion, dest int, wr *SendWR) (device.Token, error) {
	if local == nil || local.Length < device.AtomicSize {
		return 0, fabricError("invalid local buffer %s", local)
	}

	qp, err := d.queuePair(dest)
	if err != nil {
		return 0, err
	}

	wr.WRID = uint64(dest)
	wr.Signaled = true
	wr.SGE = SGE{
		Addr:   local.Addr,
		Length: device.AtomicSize,
		LKey:   local.Keys.Local,
	}

	if err := d.provider.PostSend(qp, wr); err != nil {
		return 0, err
	}
	d.stats.Posted(wr.Opcode)

	return device.Token(wr.WRID), nil
}

// queuePair returns the queue pair to dest, creating it if necessary.
func (d *Device) queuePair(dest int) (*QueuePair, error) {
	d.Lock()
	defer d.Unlock()

	if qp, ok := d.qps[dest]; ok {
		return qp, nil
	}

	qp, err := d.provider.CreateQP(dest)
	if err != nil {
		return nil, err
	}
	d.qps[dest] = qp
	d.dests[qp.Num] = dest

	return qp, nil
}

// PollCompletion polls the send completion queue for a single completion.
func (d *Device) PollCompletion() (device.Completion, bool, error) {
	d.Lock()
	defer d.Unlock()

	n, err := d.provider.PollCQ(d.wc[:])
	if err != nil || n == 0 {
		return device.Completion{}, false, err
	}

	wc := d.wc[0]
	d.stats.Completed(wc.Status)
	dest, ok := d.dests[wc.QPNum]
	if !ok {
		dest = -1
	}

	return device.Completion{
		Token:  device.Token(wc.WRID),
		Opcode: wc.Opcode,
		Status: wc.Status,
		Dest:   dest,
	}, true, nil
}

// Close closes the underlying provider.
func (d *Device) Close() error {
	return d.provider.Close()
}
