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

package control

import (
	"encoding/binary"
	"math"

	"github.com/intel/segmgr/pkg/group"
	"github.com/intel/segmgr/pkg/status"
)

const (
	// MaxRank is the largest rank control messages can carry.
	MaxRank = math.MaxUint16
	// wireVersion is the version of the control message encoding.
	wireVersion = 1
	// registerSize is the encoded size of a segment registration request.
	registerSize = 48
	// arrivalSize is the encoded size of a barrier arrival.
	arrivalSize = 16
)

// registerRequest asks a rank to record one of our segments.
type registerRequest struct {
	id   uint8
	from int
	info SegmentInfo
}

// arrival announces that a rank has entered a barrier.
type arrival struct {
	group group.ID
	from  int
	epoch uint64
}

func (r *registerRequest) encode() []byte {
	b := make([]byte, registerSize)
	b[0] = wireVersion
	b[1] = r.id
	binary.LittleEndian.PutUint16(b[2:], uint16(r.from))
	binary.LittleEndian.PutUint64(b[8:], r.info.Size)
	binary.LittleEndian.PutUint64(b[16:], r.info.DataAddr)
	binary.LittleEndian.PutUint64(b[24:], r.info.NotifyAddr)
	binary.LittleEndian.PutUint64(b[32:], r.info.NotifySize)
	binary.LittleEndian.PutUint32(b[40:], r.info.DataKey)
	binary.LittleEndian.PutUint32(b[44:], r.info.NotifyKey)
	return b
}

func (r *registerRequest) decode(b []byte) error {
	if err := checkMessage(b, registerSize); err != nil {
		return err
	}
	r.id = b[1]
	r.from = int(binary.LittleEndian.Uint16(b[2:]))
	r.info = SegmentInfo{
		Size:       binary.LittleEndian.Uint64(b[8:]),
		DataAddr:   binary.LittleEndian.Uint64(b[16:]),
		NotifyAddr: binary.LittleEndian.Uint64(b[24:]),
		NotifySize: binary.LittleEndian.Uint64(b[32:]),
		DataKey:    binary.LittleEndian.Uint32(b[40:]),
		NotifyKey:  binary.LittleEndian.Uint32(b[44:]),
	}
	return nil
}

func (a *arrival) encode() []byte {
	b := make([]byte, arrivalSize)
	b[0] = wireVersion
	binary.LittleEndian.PutUint16(b[2:], uint16(a.group))
	binary.LittleEndian.PutUint16(b[4:], uint16(a.from))
	binary.LittleEndian.PutUint64(b[8:], a.epoch)
	return b
}

func (a *arrival) decode(b []byte) error {
	if err := checkMessage(b, arrivalSize); err != nil {
		return err
	}
	a.group = group.ID(binary.LittleEndian.Uint16(b[2:]))
	a.from = int(binary.LittleEndian.Uint16(b[4:]))
	a.epoch = binary.LittleEndian.Uint64(b[8:])
	return nil
}

func checkRank(rank int) error {
	if rank < 0 || rank > MaxRank {
		return status.New(status.KindInvalidArgument, "invalid rank %d", rank)
	}
	return nil
}

func checkMessage(b []byte, size int) error {
	if len(b) != size {
		return status.New(status.KindInvalidArgument, "invalid message size %d, expected %d",
			len(b), size)
	}
	if b[0] != wireVersion {
		return status.New(status.KindInvalidArgument, "unsupported message version %d", b[0])
	}
	return nil
}
