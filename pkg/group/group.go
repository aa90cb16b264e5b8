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

// Package group keeps track of groups of ranks and synchronizes them.
package group

import (
	"context"
	"sort"
	"sync"

	"github.com/intel/segmgr/pkg/status"
)

// ID identifies a group.
type ID uint16

const (
	// All is the group of all ranks.
	All ID = 0
)

// Groups provides group membership and synchronization.
type Groups interface {
	// Size returns the number of members of the group.
	Size(ID) (int, error)
	// Position returns the position of the calling rank within the group.
	Position(ID) (int, error)
	// Ranks maps positions within the group to ranks.
	Ranks(ID) ([]int, error)
	// Barrier blocks until all members of the group have entered it.
	Barrier(context.Context, ID) error
}

// Barrierer implements a barrier among the given member ranks.
type Barrierer interface {
	Barrier(ctx context.Context, id ID, members []int) error
}

// Table is a static table of groups.
type Table struct {
	sync.RWMutex
	rank    int
	ranks   int
	groups  map[ID][]int
	barrier Barrierer
}

var _ Groups = &Table{}

// NewTable creates a group table for rank out of ranks, with the group All defined.
func NewTable(rank, ranks int, barrier Barrierer) (*Table, error) {
	if ranks < 1 || rank < 0 || rank >= ranks {
		return nil, status.New(status.KindInvalidArgument, "invalid rank %d of %d", rank, ranks)
	}

	all := make([]int, ranks)
	for i := range all {
		all[i] = i
	}

	return &Table{
		rank:    rank,
		ranks:   ranks,
		groups:  map[ID][]int{All: all},
		barrier: barrier,
	}, nil
}

// Add defines a group with the given member ranks.
func (t *Table) Add(id ID, ranks []int) error {
	t.Lock()
	defer t.Unlock()

	if _, ok := t.groups[id]; ok {
		return status.New(status.KindInvalidArgument, "group %d already exists", id)
	}
	if len(ranks) == 0 {
		return status.New(status.KindInvalidArgument, "group %d: no members", id)
	}

	members := append([]int{}, ranks...)
	sort.Ints(members)
	for i, r := range members {
		if r < 0 || r >= t.ranks {
			return status.New(status.KindInvalidArgument, "group %d: invalid rank %d", id, r)
		}
		if i > 0 && members[i-1] == r {
			return status.New(status.KindInvalidArgument, "group %d: duplicate rank %d", id, r)
		}
	}
	t.groups[id] = members

	return nil
}

// Delete deletes a group.
func (t *Table) Delete(id ID) error {
	t.Lock()
	defer t.Unlock()

	if id == All {
		return status.New(status.KindInvalidArgument, "can't delete group of all ranks")
	}
	if _, ok := t.groups[id]; !ok {
		return status.New(status.KindInvalidArgument, "unknown group %d", id)
	}
	delete(t.groups, id)

	return nil
}

// Size returns the number of members of the group.
func (t *Table) Size(id ID) (int, error) {
	members, err := t.members(id)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// Position returns the position of the calling rank within the group.
func (t *Table) Position(id ID) (int, error) {
	members, err := t.members(id)
	if err != nil {
		return 0, err
	}
	for pos, r := range members {
		if r == t.rank {
			return pos, nil
		}
	}
	return 0, status.New(status.KindInvalidArgument, "rank %d not in group %d", t.rank, id)
}

// Ranks maps positions within the group to ranks.
func (t *Table) Ranks(id ID) ([]int, error) {
	members, err := t.members(id)
	if err != nil {
		return nil, err
	}
	return append([]int{}, members...), nil
}

// Barrier blocks until all members of the group have entered the barrier.
func (t *Table) Barrier(ctx context.Context, id ID) error {
	if _, err := t.Position(id); err != nil {
		return err
	}
	members, err := t.members(id)
	if err != nil {
		return err
	}
	if t.barrier == nil || len(members) == 1 {
		return nil
	}
	return t.barrier.Barrier(ctx, id, members)
}

func (t *Table) members(id ID) ([]int, error) {
	t.RLock()
	defer t.RUnlock()

	members, ok := t.groups[id]
	if !ok {
		return nil, status.New(status.KindInvalidArgument, "unknown group %d", id)
	}
	return members, nil
}
