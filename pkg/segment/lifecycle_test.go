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

package segment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/intel/segmgr/pkg/control"
	"github.com/intel/segmgr/pkg/device"
	"github.com/intel/segmgr/pkg/group"
	"github.com/intel/segmgr/pkg/status"
)

// collectively runs fn for all managers in parallel.
func collectively(t *testing.T, managers []*Manager, fn func(*Manager) error) {
	var wg sync.WaitGroup
	errs := make([]error, len(managers))
	for i, m := range managers {
		wg.Add(1)
		go func(i int, m *Manager) {
			defer wg.Done()
			errs[i] = fn(m)
		}(i, m)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}
}

func TestCreate(t *testing.T) {
	const ranks = 4
	managers := newCluster(t, ranks)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collectively(t, managers, func(m *Manager) error {
		return m.Create(ctx, 2, uint64(1024*(m.Rank()+1)), group.All, MemInitialized)
	})

	for _, m := range managers {
		for peer, owner := range managers {
			require.True(t, m.Registered(2, peer), "rank %d registered with %d", m.Rank(), peer)

			want, err := owner.Descriptor(2, peer)
			require.NoError(t, err)
			got, err := m.Descriptor(2, peer)
			require.NoError(t, err, "rank %d knows segment of %d", m.Rank(), peer)

			require.Equal(t, uint64(1024*(peer+1)), got.Size)
			require.Equal(t, want.Addr, got.Addr)
			require.Equal(t, want.NotifyAddr, got.NotifyAddr)
			require.Equal(t, want.Keys.Remote, got.Keys.Remote)
			require.Equal(t, want.NotifyKeys.Remote, got.NotifyKeys.Remote)
		}
	}
}

func TestCreateSubgroup(t *testing.T) {
	managers := newCluster(t, 4)
	members := []*Manager{managers[1], managers[3]}
	for _, m := range managers {
		require.NoError(t, m.groups.(*group.Table).Add(1, []int{1, 3}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collectively(t, members, func(m *Manager) error {
		return m.Create(ctx, 0, 64, 1, MemInitialized)
	})

	_, err := managers[1].Descriptor(0, 3)
	require.NoError(t, err)
	_, err = managers[3].Descriptor(0, 1)
	require.NoError(t, err)
	require.False(t, managers[1].Registered(0, 0))
	require.False(t, managers[1].Registered(0, 2))

	err = managers[0].Create(ctx, 0, 64, 1, MemInitialized)
	require.True(t, errors.Is(err, status.ErrInvalidArgument), "not a member: %v", err)
	err = managers[0].Create(ctx, 0, 64, 9, MemInitialized)
	require.True(t, errors.Is(err, status.ErrInvalidArgument), "unknown group: %v", err)
	require.Equal(t, 0, managers[0].Num(), "nothing allocated for invalid groups")
}

func TestCreateTimeout(t *testing.T) {
	managers := newCluster(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := managers[0].Create(ctx, 0, 64, group.All, MemInitialized)
	require.True(t, errors.Is(err, status.ErrTimeout), "got %v", err)

	// allocation and registration happened before the barrier
	require.Equal(t, 1, managers[0].Num())
	require.True(t, managers[0].Registered(0, 1))
	_, err = managers[1].Descriptor(0, 0)
	require.NoError(t, err)
}

func TestRegister(t *testing.T) {
	managers := newCluster(t, 3)
	m := managers[0]
	ctx := context.Background()

	err := m.Register(ctx, 0, 1)
	require.True(t, errors.Is(err, status.ErrNotInitialized))
	require.NoError(t, m.Allocate(0, 64, MemInitialized))

	err = m.Register(ctx, 0, 3)
	require.True(t, errors.Is(err, status.ErrInvalidArgument))

	require.NoError(t, m.Register(ctx, 0, 0))
	require.True(t, m.Registered(0, 0))
	_, err = managers[1].Descriptor(0, 0)
	require.True(t, errors.Is(err, status.ErrNotInitialized), "self registration is local")

	require.NoError(t, m.Register(ctx, 0, 1))
	require.True(t, m.Registered(0, 1))
	require.False(t, m.Registered(0, 2))

	d, err := managers[1].Descriptor(0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(64), d.Size)
	require.Zero(t, d.Keys.Local, "local keys are not shared")
	require.Nil(t, d.Handles[0])

	t.Run("control lock timeout", func(t *testing.T) {
		require.NoError(t, m.ctrlLock.Lock(context.Background()))
		defer m.ctrlLock.Unlock()

		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		err := m.Register(tctx, 0, 2)
		require.True(t, errors.Is(err, status.ErrTimeout), "got %v", err)
		require.False(t, m.Registered(0, 2))
	})

	t.Run("rejected registration", func(t *testing.T) {
		channel := &failingChannel{Channel: m.channel}
		saved := m.channel
		m.channel = channel
		defer func() { m.channel = saved }()

		err := m.Register(ctx, 0, 2)
		require.True(t, errors.Is(err, status.ErrGenericError), "got %v", err)
		require.Equal(t, 1, channel.calls)
		require.True(t, m.Registered(0, 2), "dispatched registrations are recorded")
	})

	t.Run("deleted segments are unregistered", func(t *testing.T) {
		require.NoError(t, m.Delete(0))
		for r := 0; r < 3; r++ {
			require.False(t, m.Registered(0, r))
		}
		// peers keep what they were told
		_, err := managers[1].Descriptor(0, 0)
		require.NoError(t, err)
	})
}

func TestSegmentRegistered(t *testing.T) {
	m := newCluster(t, 2)[0]
	info := control.SegmentInfo{Size: 64, DataAddr: 0x1000}

	tcs := []struct {
		name string
		id   uint8
		from int
		info control.SegmentInfo
	}{
		{name: "invalid segment", id: DefaultMaxSegments, from: 1, info: info},
		{name: "invalid rank", id: 0, from: 2, info: info},
		{name: "registration by self", id: 0, from: 0, info: info},
		{name: "empty segment", id: 0, from: 1},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			err := m.SegmentRegistered(tc.id, tc.from, tc.info)
			require.True(t, errors.Is(err, status.ErrInvalidArgument), "got %v", err)
		})
	}

	require.NoError(t, m.SegmentRegistered(0, 1, info))
	size, err := m.Size(0, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(64), size)
	_, err = m.Size(0, 0)
	require.True(t, errors.Is(err, status.ErrNotInitialized))
}

func TestUse(t *testing.T) {
	managers := newCluster(t, 2)
	buf := words(8)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collectively(t, managers, func(m *Manager) error {
		if m.Rank() == 0 {
			return m.Use(ctx, 4, buf, group.All, 0xbeef)
		}
		return m.Create(ctx, 4, 64, group.All, MemInitialized)
	})

	d, err := managers[1].Descriptor(4, 0)
	require.NoError(t, err)
	require.Equal(t, device.Address(buf), d.Addr)
	require.Equal(t, uint64(len(buf)), d.Size)

	// a peer targets the bound memory directly
	dev := managers[1].Device()
	scratch := words(1)
	local, err := dev.RegisterMemory(scratch)
	require.NoError(t, err)
	device.StoreWord(buf, 16, 40)

	_, err = dev.AtomicFetchAdd(local, d.Addr+16, d.Keys.Remote, 2, 0)
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for {
		c, ok, err := dev.PollCompletion()
		require.NoError(t, err)
		if ok {
			require.Equal(t, device.StatusSuccess, c.Status)
			break
		}
		require.True(t, time.Now().Before(deadline), "completion timeout")
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, uint64(42), device.LoadWord(buf, 16))
	require.Equal(t, uint64(40), device.LoadWord(scratch, 0))
}

func TestCollector(t *testing.T) {
	managers := newCluster(t, 2)
	ctx := context.Background()
	for _, m := range managers {
		require.NoError(t, m.Allocate(1, 128, MemInitialized))
		require.NoError(t, m.Register(ctx, 1, m.Rank()))
	}
	require.NoError(t, managers[0].Register(ctx, 1, 1))

	reg := prometheus.NewPedanticRegistry()
	for _, m := range managers {
		require.NoError(t, reg.Register(NewCollector(m)))
	}

	families, err := reg.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			key := f.GetName()
			for _, l := range metric.GetLabel() {
				key += "," + l.GetName() + "=" + l.GetValue()
			}
			values[key] = metric.GetGauge().GetValue()
		}
	}

	require.Equal(t, map[string]float64{
		"segmgr_segments,rank=0":                                  1,
		"segmgr_segments,rank=1":                                  1,
		"segmgr_segment_size_bytes,backing=host,rank=0,segment=1": 128,
		"segmgr_segment_size_bytes,backing=host,rank=1,segment=1": 128,
		"segmgr_segment_registered_ranks,rank=0,segment=1":        2,
		"segmgr_segment_registered_ranks,rank=1,segment=1":        1,
	}, values)
}
