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
	"sync/atomic"
	"unsafe"
)

// Registry keeps track of the memory registered with a device and executes
// atomic operations targeting it.
type Registry struct {
	sync.RWMutex
	next     uint32
	regions  map[uint64]*region
	byLocal  map[uint32]*region
	byRemote map[uint32]*region
}

type region struct {
	mr  MemoryRegion
	buf []byte
}

// NewRegistry creates a new, empty registry.
func NewRegistry() *Registry {
	return &Registry{
		regions:  make(map[uint64]*region),
		byLocal:  make(map[uint32]*region),
		byRemote: make(map[uint32]*region),
	}
}

// Address returns the address of the first byte of buf.
func Address(buf []byte) uint64 {
	if len(buf) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&buf[0])))
}

// Register registers buf, returning its memory region.
func (r *Registry) Register(buf []byte) (*MemoryRegion, error) {
	if len(buf) == 0 {
		return nil, deviceError("can't register empty buffer")
	}

	r.Lock()
	defer r.Unlock()

	r.next++
	id := r.next
	reg := &region{
		mr: MemoryRegion{
			Handle: uint64(id),
			Addr:   Address(buf),
			Length: uint64(len(buf)),
			Keys: Keys{
				Local:  id << 1,
				Remote: id<<1 | 1,
			},
		},
		buf: buf,
	}
	r.regions[reg.mr.Handle] = reg
	r.byLocal[reg.mr.Keys.Local] = reg
	r.byRemote[reg.mr.Keys.Remote] = reg

	mr := reg.mr
	return &mr, nil
}

// Unregister revokes the given registration.
func (r *Registry) Unregister(mr *MemoryRegion) error {
	if mr == nil {
		return deviceError("can't unregister nil memory region")
	}

	r.Lock()
	defer r.Unlock()

	reg, ok := r.regions[mr.Handle]
	if !ok || reg.mr.Keys != mr.Keys {
		return deviceError("unknown memory region %s", mr)
	}
	delete(r.regions, mr.Handle)
	delete(r.byLocal, mr.Keys.Local)
	delete(r.byRemote, mr.Keys.Remote)

	return nil
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.regions)
}

// Execute performs an atomic operation on the 8 bytes at addr, which must be
// covered by the registration with the given remote key. It returns the
// previous value of the target.
func (r *Registry) Execute(op Opcode, rkey uint32, addr, compareAdd, swap uint64) (uint64, Status) {
	r.RLock()
	defer r.RUnlock()

	word, status := lookup(r.byRemote[rkey], addr, StatusRemoteAccessError)
	if status != StatusSuccess {
		return 0, status
	}

	switch op {
	case OpFetchAdd:
		return atomic.AddUint64(word, compareAdd) - compareAdd, StatusSuccess
	case OpCompareSwap:
		for {
			old := atomic.LoadUint64(word)
			if old != compareAdd {
				return old, StatusSuccess
			}
			if atomic.CompareAndSwapUint64(word, old, swap) {
				return old, StatusSuccess
			}
		}
	}

	return 0, StatusRemoteInvalidRequest
}

// Store stores the result of an atomic operation at addr, which must be
// covered by the registration with the given local key.
func (r *Registry) Store(lkey uint32, addr, value uint64) Status {
	r.RLock()
	defer r.RUnlock()

	word, status := lookup(r.byLocal[lkey], addr, StatusLocalProtectionError)
	if status != StatusSuccess {
		return status
	}
	atomic.StoreUint64(word, value)

	return StatusSuccess
}

// lookup returns the word at addr within reg.
func lookup(reg *region, addr uint64, keyError Status) (*uint64, Status) {
	if reg == nil {
		return nil, keyError
	}
	if addr < reg.mr.Addr || addr+AtomicSize > reg.mr.Addr+reg.mr.Length {
		return nil, keyError
	}
	if addr%AtomicSize != 0 {
		return nil, StatusRemoteInvalidRequest
	}
	off := addr - reg.mr.Addr
	return (*uint64)(unsafe.Pointer(&reg.buf[off])), StatusSuccess
}

// LoadWord atomically loads the 8-byte word at offset of buf.
func LoadWord(buf []byte, offset uint64) uint64 {
	_ = buf[offset+AtomicSize-1]
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&buf[offset])))
}

// StoreWord atomically stores an 8-byte word at offset of buf.
func StoreWord(buf []byte, offset uint64, value uint64) {
	_ = buf[offset+AtomicSize-1]
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&buf[offset])), value)
}
