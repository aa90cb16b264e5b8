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
	"context"
	"sync"

	"github.com/intel/segmgr/pkg/group"
	"github.com/intel/segmgr/pkg/status"
)

// Hub connects the loopback channels of ranks living in the same process.
type Hub struct {
	sync.RWMutex
	ends map[int]*Loopback
}

// Loopback is a control channel delivering requests by direct calls.
type Loopback struct {
	hub      *Hub
	rank     int
	barriers *barriers

	lock    sync.RWMutex
	handler Handler
}

var _ Channel = &Loopback{}

// NewHub creates a new loopback hub.
func NewHub() *Hub {
	return &Hub{
		ends: make(map[int]*Loopback),
	}
}

// Attach creates the loopback channel for rank.
func (h *Hub) Attach(rank int) (*Loopback, error) {
	if err := checkRank(rank); err != nil {
		return nil, err
	}

	h.Lock()
	defer h.Unlock()

	if _, ok := h.ends[rank]; ok {
		return nil, status.New(status.KindInvalidArgument, "rank %d already attached", rank)
	}

	l := &Loopback{
		hub:      h,
		rank:     rank,
		barriers: newBarriers(rank),
	}
	h.ends[rank] = l

	return l, nil
}

func (h *Hub) peer(rank int) (*Loopback, error) {
	h.RLock()
	defer h.RUnlock()

	l, ok := h.ends[rank]
	if !ok {
		return nil, status.New(status.KindCommunicationError, "rank %d not attached", rank)
	}
	return l, nil
}

// SetHandler sets the handler for requests sent to this rank.
func (l *Loopback) SetHandler(h Handler) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.handler = h
}

// Rank returns the rank of this channel.
func (l *Loopback) Rank() int {
	return l.rank
}

// RegisterSegment asks rank to record our segment id.
func (l *Loopback) RegisterSegment(ctx context.Context, rank int, id uint8, info SegmentInfo) error {
	if ctx.Err() != nil {
		return contextError(ctx, "registering segment %d with rank %d", id, rank)
	}

	peer, err := l.hub.peer(rank)
	if err != nil {
		return err
	}

	err = peer.serve(&registerRequest{id: id, from: l.rank, info: info})
	if err != nil {
		return status.Wrap(status.KindGeneric, err,
			"rank %d rejected segment %d", rank, id)
	}

	return nil
}

// Barrier blocks until all members have entered the barrier for the group.
func (l *Loopback) Barrier(ctx context.Context, id group.ID, members []int) error {
	return l.barriers.run(ctx, id, members,
		func(_ context.Context, to int, a *arrival) error {
			peer, err := l.hub.peer(to)
			if err != nil {
				return err
			}
			peer.barriers.arrive(a)
			return nil
		})
}

// Close detaches the channel from its hub.
func (l *Loopback) Close() error {
	l.hub.Lock()
	defer l.hub.Unlock()
	delete(l.hub.ends, l.rank)
	return nil
}

func (l *Loopback) serve(req *registerRequest) error {
	l.lock.RLock()
	h := l.handler
	l.lock.RUnlock()

	return serveRegister(h, req)
}

// serveRegister passes a registration request to the handler.
func serveRegister(h Handler, req *registerRequest) error {
	if h == nil {
		return status.New(status.KindNotInitialized, "no handler for segment registration")
	}

	log.Debug("rank %d registering segment %d: %s", req.from, req.id, req.info)

	return h.SegmentRegistered(req.id, req.from, req.info)
}
