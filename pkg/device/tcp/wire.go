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

// Package tcp implements a transport device emulating one-sided atomics
// over TCP connections. Every rank runs a device server that executes
// incoming work requests against its registered memory and replies with
// work completions.
package tcp

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/intel/segmgr/pkg/device"
)

// MaxRank is the largest rank that fits the source and target fields.
const MaxRank = math.MaxUint16

// Work request layout (64 bytes, little-endian):
//   uint64 seq         // per-device sequence number, echoed in the completion
//   uint64 localAddr   // address of the local result buffer
//   uint64 remoteAddr  // address of the remote target
//   uint64 compareAdd  // value to add, or value to compare with
//   uint64 swap        // value to swap in
//   uint32 rkey        // remote key of the target
//   uint32 lkey        // local key of the result buffer
//   uint16 source      // rank posting the request
//   uint16 target      // rank executing the request
//   uint32 length      // length of the target
//   uint8  opcode
//   uint8  version     // wireVersion
//   uint16 reserved
//   uint32 reserved2
const wrSize = 64

// Work completion layout (24 bytes, little-endian):
//   uint64 seq         // sequence number of the request
//   uint64 value       // previous value of the target
//   uint8  status
//   uint8  opcode
//   uint16 source      // rank that executed the request
//   uint32 reserved
const wcSize = 24

const wireVersion = 1

type workRequest struct {
	Seq        uint64
	LocalAddr  uint64
	RemoteAddr uint64
	CompareAdd uint64
	Swap       uint64
	RKey       uint32
	LKey       uint32
	Source     uint16
	Target     uint16
	Length     uint32
	Opcode     device.Opcode
}

type workCompletion struct {
	Seq    uint64
	Value  uint64
	Status device.Status
	Opcode device.Opcode
	Source uint16
}

func (wr *workRequest) encode(b *[wrSize]byte) {
	binary.LittleEndian.PutUint64(b[0:8], wr.Seq)
	binary.LittleEndian.PutUint64(b[8:16], wr.LocalAddr)
	binary.LittleEndian.PutUint64(b[16:24], wr.RemoteAddr)
	binary.LittleEndian.PutUint64(b[24:32], wr.CompareAdd)
	binary.LittleEndian.PutUint64(b[32:40], wr.Swap)
	binary.LittleEndian.PutUint32(b[40:44], wr.RKey)
	binary.LittleEndian.PutUint32(b[44:48], wr.LKey)
	binary.LittleEndian.PutUint16(b[48:50], wr.Source)
	binary.LittleEndian.PutUint16(b[50:52], wr.Target)
	binary.LittleEndian.PutUint32(b[52:56], wr.Length)
	b[56] = byte(wr.Opcode)
	b[57] = wireVersion
	binary.LittleEndian.PutUint16(b[58:60], 0)
	binary.LittleEndian.PutUint32(b[60:64], 0)
}

func (wr *workRequest) decode(b *[wrSize]byte) error {
	if b[57] != wireVersion {
		return tcpError("unsupported work request version %d", b[57])
	}
	wr.Seq = binary.LittleEndian.Uint64(b[0:8])
	wr.LocalAddr = binary.LittleEndian.Uint64(b[8:16])
	wr.RemoteAddr = binary.LittleEndian.Uint64(b[16:24])
	wr.CompareAdd = binary.LittleEndian.Uint64(b[24:32])
	wr.Swap = binary.LittleEndian.Uint64(b[32:40])
	wr.RKey = binary.LittleEndian.Uint32(b[40:44])
	wr.LKey = binary.LittleEndian.Uint32(b[44:48])
	wr.Source = binary.LittleEndian.Uint16(b[48:50])
	wr.Target = binary.LittleEndian.Uint16(b[50:52])
	wr.Length = binary.LittleEndian.Uint32(b[52:56])
	wr.Opcode = device.Opcode(b[56])
	return nil
}

func (wc *workCompletion) encode(b *[wcSize]byte) {
	binary.LittleEndian.PutUint64(b[0:8], wc.Seq)
	binary.LittleEndian.PutUint64(b[8:16], wc.Value)
	b[16] = byte(wc.Status)
	b[17] = byte(wc.Opcode)
	binary.LittleEndian.PutUint16(b[18:20], wc.Source)
	binary.LittleEndian.PutUint32(b[20:24], 0)
}

func (wc *workCompletion) decode(b *[wcSize]byte) {
	wc.Seq = binary.LittleEndian.Uint64(b[0:8])
	wc.Value = binary.LittleEndian.Uint64(b[8:16])
	wc.Status = device.Status(b[16])
	wc.Opcode = device.Opcode(b[17])
	wc.Source = binary.LittleEndian.Uint16(b[18:20])
}

func readWorkRequest(r io.Reader, wr *workRequest) error {
	var b [wrSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	return wr.decode(&b)
}

func writeWorkRequest(w io.Writer, wr *workRequest) error {
	var b [wrSize]byte
	wr.encode(&b)
	_, err := w.Write(b[:])
	return err
}

func readWorkCompletion(r io.Reader, wc *workCompletion) error {
	var b [wcSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	wc.decode(&b)
	return nil
}

func writeWorkCompletion(w io.Writer, wc *workCompletion) error {
	var b [wcSize]byte
	wc.encode(&b)
	_, err := w.Write(b[:])
	return err
}
