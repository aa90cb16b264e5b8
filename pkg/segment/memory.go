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
	"golang.org/x/sys/unix"

	"github.com/intel/segmgr/pkg/status"
	"github.com/intel/segmgr/pkg/utils"
)

// Allocator allocates memory backing segments.
type Allocator interface {
	// Allocate allocates size bytes of zeroed, page-aligned memory.
	Allocate(size uint64) ([]byte, error)
	// Free releases memory returned by Allocate.
	Free([]byte) error
}

// hostAllocator allocates anonymous host memory mappings.
type hostAllocator struct{}

// HostAllocator returns the allocator of host memory.
func HostAllocator() Allocator {
	return hostAllocator{}
}

func (hostAllocator) Allocate(size uint64) ([]byte, error) {
	if size == 0 || size > uint64(maxInt) {
		return nil, status.New(status.KindInvalidArgument, "invalid allocation size %d", size)
	}
	length := utils.RoundUp(size, uint64(unix.Getpagesize()))
	if length > uint64(maxInt) {
		return nil, status.New(status.KindInvalidArgument, "invalid allocation size %d", size)
	}

	mem, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, status.Wrap(status.KindAllocationFailure, err,
			"failed to allocate %d bytes", length)
	}

	return mem[:size], nil
}

func (hostAllocator) Free(mem []byte) error {
	if err := unix.Munmap(mem[:cap(mem)]); err != nil {
		return status.Wrap(status.KindGeneric, err, "failed to free memory")
	}
	return nil
}

const maxInt = int(^uint(0) >> 1)

// zero zeroes buf.
func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
