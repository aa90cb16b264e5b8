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

// Package control implements the out-of-band control channel between ranks:
// segment registration requests and group barriers.
package control

import (
	"context"
	"fmt"

	"github.com/intel/segmgr/pkg/group"
	logger "github.com/intel/segmgr/pkg/log"
)

// SegmentInfo describes a segment as seen by its owner.
type SegmentInfo struct {
	// Size is the usable size of the segment.
	Size uint64
	// DataAddr is the address of the first usable byte.
	DataAddr uint64
	// NotifyAddr is the address of the notification area.
	NotifyAddr uint64
	// NotifySize is the size of the notification area.
	NotifySize uint64
	// DataKey is the remote access key of the data area.
	DataKey uint32
	// NotifyKey is the remote access key of the notification area.
	NotifyKey uint32
}

// String returns a short description of the segment.
func (si SegmentInfo) String() string {
	return fmt.Sprintf("<data 0x%x+%d (rkey 0x%x), notify 0x%x+%d (rkey 0x%x)>",
		si.DataAddr, si.Size, si.DataKey, si.NotifyAddr, si.NotifySize, si.NotifyKey)
}

// Channel sends control requests to other ranks.
type Channel interface {
	// Rank returns the rank of the local end of the channel.
	Rank() int
	// RegisterSegment asks rank to record our segment id, blocking until it has.
	RegisterSegment(ctx context.Context, rank int, id uint8, info SegmentInfo) error
	// Barrier blocks until all members have entered the barrier for group id.
	Barrier(ctx context.Context, id group.ID, members []int) error
}

// Handler serves control requests received from other ranks.
type Handler interface {
	// SegmentRegistered records segment id of rank from.
	SegmentRegistered(id uint8, from int, info SegmentInfo) error
}

// Our logger instance.
var log = logger.NewLogger("control")
