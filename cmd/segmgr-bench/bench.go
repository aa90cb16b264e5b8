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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/intel/segmgr/pkg/device"
	"github.com/intel/segmgr/pkg/group"
	"github.com/intel/segmgr/pkg/segment"

	logger "github.com/intel/segmgr/pkg/log"
)

// Word offsets within the benchmark segment at rank 0.
const (
	counterWord = 0
	lockWord    = device.AtomicSize
	guardedWord = 2 * device.AtomicSize
)

// bench runs the benchmarks on a cluster.
type bench struct {
	logger.Logger
	cluster *cluster
	id      segment.ID
	size    uint64
	rounds  int
}

// setup creates the benchmark segment collectively on all ranks.
func (b *bench) setup(ctx context.Context) error {
	if b.size < guardedWord+device.AtomicSize {
		return fmt.Errorf("segment size %d too small, need at least %d bytes",
			b.size, guardedWord+device.AtomicSize)
	}
	return b.cluster.collectively(ctx, func(ctx context.Context, r *rank) error {
		return r.m.Create(ctx, b.id, b.size, group.All, segment.MemInitialized)
	})
}

// teardown deletes the benchmark segment on all ranks.
func (b *bench) teardown() error {
	return b.cluster.collectively(context.Background(), func(_ context.Context, r *rank) error {
		return r.m.Delete(b.id)
	})
}

// counter has all ranks increment a shared counter, checking that every
// fetched value is seen exactly once.
func (b *bench) counter() error {
	n := len(b.cluster.ranks)
	fetched := make([][]uint64, n)

	start := time.Now()
	err := b.cluster.collectively(context.Background(), func(_ context.Context, r *rank) error {
		values := make([]uint64, 0, b.rounds)
		for i := 0; i < b.rounds; i++ {
			old, err := r.e.FetchAdd(b.id, counterWord, 0, 1)
			if err != nil {
				return err
			}
			values = append(values, old)
		}
		fetched[r.id] = values
		return nil
	})
	if err != nil {
		return err
	}
	b.report("fetch-add", n*b.rounds, time.Since(start))

	total := uint64(n * b.rounds)
	seen := make([]bool, total)
	for id, values := range fetched {
		for _, v := range values {
			if v >= total || seen[v] {
				return fmt.Errorf("rank %d fetched unexpected counter value %d", id, v)
			}
			seen[v] = true
		}
	}

	return b.expect(counterWord, total)
}

// lock has all ranks update a non-atomically incremented word under a
// compare-and-swap spinlock.
func (b *bench) lock() error {
	n := len(b.cluster.ranks)

	start := time.Now()
	err := b.cluster.collectively(context.Background(), func(_ context.Context, r *rank) error {
		owner := uint64(r.id + 1)
		for i := 0; i < b.rounds; i++ {
			for {
				old, err := r.e.CompareSwap(b.id, lockWord, 0, 0, owner)
				if err != nil {
					return err
				}
				if old == 0 {
					break
				}
			}

			value, err := r.e.FetchAdd(b.id, guardedWord, 0, 0)
			if err != nil {
				return err
			}
			old, err := r.e.CompareSwap(b.id, guardedWord, 0, value, value+1)
			if err != nil {
				return err
			}
			if old != value {
				return fmt.Errorf("guarded word changed under lock (%d != %d)", old, value)
			}

			old, err = r.e.CompareSwap(b.id, lockWord, 0, owner, 0)
			if err != nil {
				return err
			}
			if old != owner {
				return fmt.Errorf("lock owned by %d while held by %d", old, owner)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.report("compare-swap lock", n*b.rounds, time.Since(start))

	return b.expect(guardedWord, uint64(n*b.rounds))
}

// expect checks the value of a word in the benchmark segment at rank 0.
func (b *bench) expect(offset, value uint64) error {
	r := b.cluster.ranks[len(b.cluster.ranks)-1]
	v, err := r.e.FetchAdd(b.id, offset, 0, 0)
	if err != nil {
		return err
	}
	if v != value {
		return fmt.Errorf("word at offset %d is %d, expected %d", offset, v, value)
	}
	return nil
}

func (b *bench) report(name string, ops int, elapsed time.Duration) {
	rate := float64(ops) / elapsed.Seconds()
	b.Info("%s: %d operations in %v (%.0f ops/s)", name, ops, elapsed, rate)
}

func (b *bench) dump() {
	for _, r := range b.cluster.ranks {
		r.m.Dump(b.InfoBlock)
	}
}
