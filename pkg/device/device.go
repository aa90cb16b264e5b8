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

// Package device defines the transport device capability used to register
// segment memory and to issue one-sided atomic operations to remote ranks.
package device

import (
	"fmt"
)

// Device is a transport device connecting the local rank to its peers.
type Device interface {
	// Name returns the name of the device.
	Name() string
	// RegisterMemory registers buf for local and remote access.
	RegisterMemory(buf []byte) (*MemoryRegion, error)
	// UnregisterMemory revokes a registration.
	UnregisterMemory(mr *MemoryRegion) error
	// AtomicFetchAdd posts a fetch-and-add of add to the 8 bytes at remoteAddr of rank dest.
	// The previous value is stored at the start of local once the operation completes.
	AtomicFetchAdd(local *MemoryRegion, remoteAddr uint64, rkey uint32, add uint64, dest int) (Token, error)
	// AtomicCompareSwap posts a compare-and-swap to the 8 bytes at remoteAddr of rank dest.
	// The previous value is stored at the start of local once the operation completes.
	AtomicCompareSwap(local *MemoryRegion, remoteAddr uint64, rkey uint32, cmp, swap uint64, dest int) (Token, error)
	// PollCompletion returns the next completion, if there is one.
	PollCompletion() (Completion, bool, error)
	// Close shuts the device down.
	Close() error
}

// Keys are the local and remote access keys of a registration.
type Keys struct {
	Local  uint32
	Remote uint32
}

// MemoryRegion is a registered range of memory.
type MemoryRegion struct {
	Handle uint64
	Addr   uint64
	Length uint64
	Keys   Keys
}

// String returns a string representation of the memory region.
func (mr *MemoryRegion) String() string {
	if mr == nil {
		return "<no memory region>"
	}
	return fmt.Sprintf("mr#%d{0x%x+%d, lkey 0x%x, rkey 0x%x}",
		mr.Handle, mr.Addr, mr.Length, mr.Keys.Local, mr.Keys.Remote)
}

// Token identifies a posted work request in its completion.
type Token uint64

// Opcode is the operation of a work request or completion.
type Opcode uint8

const (
	// OpFetchAdd is an atomic fetch-and-add.
	OpFetchAdd Opcode = iota + 1
	// OpCompareSwap is an atomic compare-and-swap.
	OpCompareSwap
)

// String returns the name of the opcode.
func (op Opcode) String() string {
	switch op {
	case OpFetchAdd:
		return "fetch-add"
	case OpCompareSwap:
		return "compare-swap"
	}
	return fmt.Sprintf("<opcode %d>", uint8(op))
}

// Status is the completion status of a work request.
type Status uint8

const (
	// StatusSuccess means that the operation completed.
	StatusSuccess Status = iota
	// StatusLocalLengthError means that the local buffer was too short.
	StatusLocalLengthError
	// StatusLocalProtectionError means that the local key was not valid.
	StatusLocalProtectionError
	// StatusRemoteInvalidRequest means that the target rejected the request (e.g. misaligned).
	StatusRemoteInvalidRequest
	// StatusRemoteAccessError means that the remote key or range was not valid.
	StatusRemoteAccessError
	// StatusFlushError means that the request was flushed without being executed.
	StatusFlushError
	// StatusGeneralError is any other failure.
	StatusGeneralError
)

var statusNames = map[Status]string{
	StatusSuccess:              "success",
	StatusLocalLengthError:     "local length error",
	StatusLocalProtectionError: "local protection error",
	StatusRemoteInvalidRequest: "remote invalid request",
	StatusRemoteAccessError:    "remote access error",
	StatusFlushError:           "flushed",
	StatusGeneralError:         "general error",
}

// String returns the name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("<status %d>", uint8(s))
}

// Completion is the completion of a signaled work request.
type Completion struct {
	Token  Token
	Opcode Opcode
	Status Status
	// Dest is the rank the work request was posted to.
	Dest int
}

// AtomicSize is the size of the target of an atomic operation.
const AtomicSize = 8

func deviceError(format string, args ...interface{}) error {
	return fmt.Errorf("device: "+format, args...)
}
