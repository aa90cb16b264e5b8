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

package group

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intel/segmgr/pkg/status"
)

type recorder struct {
	calls   int
	members []int
	err     error
}

func (r *recorder) Barrier(ctx context.Context, id ID, members []int) error {
	r.calls++
	r.members = members
	return r.err
}

func TestNewTable(t *testing.T) {
	_, err := NewTable(3, 3, nil)
	require.True(t, errors.Is(err, status.ErrInvalidArgument))
	_, err = NewTable(0, 0, nil)
	require.True(t, errors.Is(err, status.ErrInvalidArgument))

	tbl, err := NewTable(2, 4, nil)
	require.NoError(t, err)

	size, err := tbl.Size(All)
	require.NoError(t, err)
	require.Equal(t, 4, size)

	pos, err := tbl.Position(All)
	require.NoError(t, err)
	require.Equal(t, 2, pos)

	ranks, err := tbl.Ranks(All)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, ranks)
}

func TestAdd(t *testing.T) {
	tcs := []struct {
		name    string
		id      ID
		ranks   []int
		invalid bool
	}{
		{name: "valid group", id: 1, ranks: []int{3, 1}},
		{name: "group all is predefined", id: All, ranks: []int{0}, invalid: true},
		{name: "empty group", id: 2, invalid: true},
		{name: "rank out of range", id: 3, ranks: []int{0, 4}, invalid: true},
		{name: "duplicate rank", id: 4, ranks: []int{1, 1}, invalid: true},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			tbl, err := NewTable(1, 4, nil)
			require.NoError(t, err)
			err = tbl.Add(tc.id, tc.ranks)
			if tc.invalid {
				require.True(t, errors.Is(err, status.ErrInvalidArgument), "got %v", err)
				return
			}
			require.NoError(t, err)

			ranks, err := tbl.Ranks(tc.id)
			require.NoError(t, err)
			require.Equal(t, []int{1, 3}, ranks)
			pos, err := tbl.Position(tc.id)
			require.NoError(t, err)
			require.Equal(t, 0, pos)
		})
	}
}

func TestMembership(t *testing.T) {
	tbl, err := NewTable(0, 4, nil)
	require.NoError(t, err)
	require.NoError(t, tbl.Add(7, []int{1, 2}))

	_, err = tbl.Position(7)
	require.True(t, errors.Is(err, status.ErrInvalidArgument))
	_, err = tbl.Size(8)
	require.True(t, errors.Is(err, status.ErrInvalidArgument))

	require.NoError(t, tbl.Delete(7))
	_, err = tbl.Ranks(7)
	require.Error(t, err)
	require.Error(t, tbl.Delete(All))
}

func TestBarrier(t *testing.T) {
	rec := &recorder{}
	tbl, err := NewTable(1, 3, rec)
	require.NoError(t, err)
	require.NoError(t, tbl.Add(1, []int{1}))
	require.NoError(t, tbl.Add(2, []int{0, 2}))

	require.NoError(t, tbl.Barrier(context.Background(), All))
	require.Equal(t, 1, rec.calls)
	require.Equal(t, []int{0, 1, 2}, rec.members)

	require.NoError(t, tbl.Barrier(context.Background(), 1))
	require.Equal(t, 1, rec.calls, "single member groups need no synchronization")

	require.Error(t, tbl.Barrier(context.Background(), 2))
	require.Equal(t, 1, rec.calls)

	rec.err = status.New(status.KindTimeout, "too slow")
	err = tbl.Barrier(context.Background(), All)
	require.True(t, errors.Is(err, status.ErrTimeout))
}
