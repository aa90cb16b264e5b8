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

	"golang.org/x/sync/errgroup"

	"github.com/intel/segmgr/pkg/group"
	"github.com/intel/segmgr/pkg/status"
)

// barrierKey identifies one instance of a barrier for a group.
type barrierKey struct {
	group group.ID
	epoch uint64
}

// barriers tracks barrier epochs and arrivals of other ranks.
type barriers struct {
	sync.Mutex
	rank    int
	epochs  map[group.ID]uint64
	arrived map[barrierKey]map[int]struct{}
	changed chan struct{}
}

// sendFn delivers our arrival to another rank.
type sendFn func(ctx context.Context, to int, a *arrival) error

func newBarriers(rank int) *barriers {
	return &barriers{
		rank:    rank,
		epochs:  make(map[group.ID]uint64),
		arrived: make(map[barrierKey]map[int]struct{}),
		changed: make(chan struct{}),
	}
}

// run enters the next barrier epoch of the group, announces our arrival
// to all other members and waits for theirs.
func (b *barriers) run(ctx context.Context, id group.ID, members []int, send sendFn) error {
	others := make([]int, 0, len(members))
	member := false
	for _, r := range members {
		if r == b.rank {
			member = true
		} else {
			others = append(others, r)
		}
	}
	if !member {
		return status.New(status.KindInvalidArgument,
			"rank %d is not a member of group %d", b.rank, id)
	}

	a := &arrival{group: id, from: b.rank, epoch: b.enter(id)}

	log.Debug("rank %d entering barrier %d/%d", b.rank, id, a.epoch)

	eg, ectx := errgroup.WithContext(ctx)
	for _, r := range others {
		to := r
		eg.Go(func() error {
			return send(ectx, to, a)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	return b.wait(ctx, barrierKey{group: id, epoch: a.epoch}, others)
}

// enter returns the next epoch of the group.
func (b *barriers) enter(id group.ID) uint64 {
	b.Lock()
	defer b.Unlock()
	b.epochs[id]++
	return b.epochs[id]
}

// arrive records the arrival of another rank.
func (b *barriers) arrive(a *arrival) {
	b.Lock()
	defer b.Unlock()

	key := barrierKey{group: a.group, epoch: a.epoch}
	ranks, ok := b.arrived[key]
	if !ok {
		ranks = make(map[int]struct{})
		b.arrived[key] = ranks
	}
	ranks[a.from] = struct{}{}

	close(b.changed)
	b.changed = make(chan struct{})
}

// wait waits until all the given ranks have arrived.
func (b *barriers) wait(ctx context.Context, key barrierKey, ranks []int) error {
	for {
		b.Lock()
		if b.complete(key, ranks) {
			delete(b.arrived, key)
			b.Unlock()
			log.Debug("rank %d passed barrier %d/%d", b.rank, key.group, key.epoch)
			return nil
		}
		changed := b.changed
		b.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return contextError(ctx, "barrier %d/%d", key.group, key.epoch)
		}
	}
}

func (b *barriers) complete(key barrierKey, ranks []int) bool {
	arrived := b.arrived[key]
	for _, r := range ranks {
		if _, ok := arrived[r]; !ok {
			return false
		}
	}
	return true
}

// contextError classifies the error of a done context.
func contextError(ctx context.Context, format string, args ...interface{}) error {
	if ctx.Err() == context.DeadlineExceeded {
		return status.Wrap(status.KindTimeout, ctx.Err(), format, args...)
	}
	return status.Wrap(status.KindGeneric, ctx.Err(), format, args...)
}
