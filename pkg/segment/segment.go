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

// Package segment implements the segment table of a rank and the lifecycle
// of segments: allocation, binding, registration with peers, collective
// creation and deletion.
package segment

import (
	"fmt"

	"github.com/intel/segmgr/pkg/device"
)

// ID identifies a segment.
type ID uint8

// Policy controls the initialization of allocated segment memory.
type Policy int

const (
	// MemUninitialized leaves the data area of a segment as it is.
	MemUninitialized Policy = iota
	// MemInitialized zeroes the data area of a segment.
	MemInitialized
)

// String returns the name of the policy.
func (p Policy) String() string {
	switch p {
	case MemUninitialized:
		return "uninitialized"
	case MemInitialized:
		return "initialized"
	}
	return fmt.Sprintf("<policy %d>", int(p))
}

// BackingKind is the kind of memory backing a segment.
type BackingKind int

const (
	// HostMemory is ordinary host memory.
	HostMemory BackingKind = iota
	// DeviceMemory is memory of an accelerator device.
	DeviceMemory
)

// Backing describes the memory backing a segment.
type Backing struct {
	Kind BackingKind
	// Device is the accelerator device for DeviceMemory.
	Device int
}

// Host is the backing of segments in host memory.
var Host = Backing{Kind: HostMemory}

// OnDevice returns the backing for memory of the given accelerator device.
func OnDevice(dev int) Backing {
	return Backing{Kind: DeviceMemory, Device: dev}
}

// String returns a string representation of the backing.
func (b Backing) String() string {
	if b.Kind == HostMemory {
		return "host"
	}
	return fmt.Sprintf("device #%d", b.Device)
}

// Descriptor describes a segment as known at one rank.
type Descriptor struct {
	// Size is the size of the usable data area, 0 if the segment does not exist.
	Size uint64
	// Addr is the address of the data area.
	Addr uint64
	// NotifyAddr is the address of the notification area preceding the data.
	NotifyAddr uint64
	// NotifySize is the size of the notification area.
	NotifySize uint64
	// Keys are the access keys of the data area.
	Keys device.Keys
	// NotifyKeys are the access keys of the notification area.
	NotifyKeys device.Keys
	// Handles are the device registrations of the data and notification areas.
	Handles [2]*device.MemoryRegion
	// UserProvided is true for segments bound to caller-supplied memory.
	UserProvided bool
	// Backing is the memory backing the segment.
	Backing Backing
	// MemDesc is the opaque memory description given to Bind.
	MemDesc uint32

	mem  []byte // memory allocated for the segment
	data []byte // data area
}

// String returns a short description of the segment.
func (d *Descriptor) String() string {
	if d == nil || d.Size == 0 {
		return "<unallocated>"
	}
	kind := "allocated"
	if d.UserProvided {
		kind = "bound"
	}
	return fmt.Sprintf("<%s %s, data 0x%x+%d, rkey 0x%x, notify 0x%x+%d, rkey 0x%x>",
		kind, d.Backing, d.Addr, d.Size, d.Keys.Remote,
		d.NotifyAddr, d.NotifySize, d.NotifyKeys.Remote)
}
