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
	"fmt"
	"sync"

	"github.com/intel/segmgr/pkg/device"
	logger "github.com/intel/segmgr/pkg/log"
)

const (
	// DefaultQueueDepth is the default send queue depth of a simulated adapter.
	DefaultQueueDepth = 1024
)

// Fabric is an in-process fabric interconnecting simulated adapters.
type Fabric struct {
	sync.RWMutex
	adapters map[int]*Adapter
	depth    int
}

// NewFabric creates a new simulated fabric.
func NewFabric() *Fabric {
	return &Fabric{
		adapters: make(map[int]*Adapter),
		depth:    DefaultQueueDepth,
	}
}

// Adapter is a simulated adapter attached to a Fabric. Posted work requests
// are executed asynchronously by the adapter against the target adapter's
// registered memory.
type Adapter struct {
	logger.Logger
	fabric *Fabric
	rank   int
	mrs    *device.Registry
	sq     chan *posted
	done   chan struct{}

	lock   sync.Mutex
	cq     []WorkCompletion
	nextQP uint32
	qps    map[uint32]*QueuePair
	closed bool
}

type posted struct {
	qp *QueuePair
	wr SendWR
}

// Attach attaches a new adapter to the fabric as the given rank.
func (f *Fabric) Attach(rank int) (*Adapter, error) {
	f.Lock()
	defer f.Unlock()

	if _, ok := f.adapters[rank]; ok {
		return nil, fabricError("rank %d already attached", rank)
	}

	a := &Adapter{
		Logger: logger.NewLogger("fabric"),
		fabric: f,
		rank:   rank,
		mrs:    device.NewRegistry(),
		sq:     make(chan *posted, f.depth),
		done:   make(chan struct{}),
		qps:    make(map[uint32]*QueuePair),
	}
	f.adapters[rank] = a
	go a.run()

	return a, nil
}

func (f *Fabric) adapter(rank int) *Adapter {
	f.RLock()
	defer f.RUnlock()
	return f.adapters[rank]
}

func (f *Fabric) detach(a *Adapter) {
	f.Lock()
	defer f.Unlock()
	if f.adapters[a.rank] == a {
		delete(f.adapters, a.rank)
	}
}

// Rank returns the rank of the adapter.
func (a *Adapter) Rank() int {
	return a.rank
}

// RegMR registers a memory region with the adapter.
func (a *Adapter) RegMR(buf []byte) (*device.MemoryRegion, error) {
	return a.mrs.Register(buf)
}

// DeregMR deregisters a memory region.
func (a *Adapter) DeregMR(mr *device.MemoryRegion) error {
	return a.mrs.Unregister(mr)
}

// CreateQP creates a queue pair to the given rank.
func (a *Adapter) CreateQP(dest int) (*QueuePair, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.closed {
		return nil, fabricError("adapter of rank %d closed", a.rank)
	}

	a.nextQP++
	qp := &QueuePair{Num: a.nextQP, Dest: dest}
	a.qps[qp.Num] = qp

	return qp, nil
}

// PostSend posts a work request on the given queue pair.
func (a *Adapter) PostSend(qp *QueuePair, wr *SendWR) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	if a.closed {
		return fabricError("adapter of rank %d closed", a.rank)
	}
	if qp == nil || a.qps[qp.Num] != qp {
		return fabricError("invalid queue pair %v", qp)
	}

	select {
	case a.sq <- &posted{qp: qp, wr: *wr}:
		return nil
	default:
		return fabricError("send queue of rank %d full", a.rank)
	}
}

// PollCQ polls for up to len(wc) completions.
func (a *Adapter) PollCQ(wc []WorkCompletion) (int, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	n := copy(wc, a.cq)
	a.cq = a.cq[n:]

	return n, nil
}

// Close detaches the adapter and stops its work request engine.
func (a *Adapter) Close() error {
	a.lock.Lock()
	if a.closed {
		a.lock.Unlock()
		return nil
	}
	a.closed = true
	close(a.sq)
	a.lock.Unlock()

	<-a.done
	a.fabric.detach(a)

	return nil
}

// run executes posted work requests until the adapter is closed.
func (a *Adapter) run() {
	defer close(a.done)

	for p := range a.sq {
		status := a.execute(p)
		if status != device.StatusSuccess {
			a.Debug("rank %d: %s to rank %d failed: %s", a.rank, p.wr.Opcode, p.qp.Dest, status)
		}
		if !p.wr.Signaled && status == device.StatusSuccess {
			continue
		}
		a.lock.Lock()
		a.cq = append(a.cq, WorkCompletion{
			WRID:   p.wr.WRID,
			Status: status,
			Opcode: p.wr.Opcode,
			QPNum:  p.qp.Num,
		})
		a.lock.Unlock()
	}
}

func (a *Adapter) execute(p *posted) device.Status {
	wr := &p.wr
	if wr.SGE.Length < device.AtomicSize {
		return device.StatusLocalLengthError
	}

	target := a.fabric.adapter(p.qp.Dest)
	if target == nil {
		return device.StatusGeneralError
	}

	old, status := target.mrs.Execute(wr.Opcode, wr.RKey, wr.RemoteAddr, wr.CompareAdd, wr.Swap)
	if status != device.StatusSuccess {
		return status
	}

	return a.mrs.Store(wr.SGE.LKey, wr.SGE.Addr, old)
}

func fabricError(format string, args ...interface{}) error {
	return fmt.Errorf("fabric: "+format, args...)
}
