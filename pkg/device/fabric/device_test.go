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

package fabric

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/intel/segmgr/pkg/device"
)

func words(n int) []byte {
	w := make([]uint64, n)
	return unsafe.Slice((*byte)(unsafe.Pointer(&w[0])), n*device.AtomicSize)
}

func attach(t *testing.T, f *Fabric, rank int) *Device {
	a, err := f.Attach(rank)
	require.NoError(t, err)
	d := NewDevice(a)
	t.Cleanup(func() { require.NoError(t, d.Close()) })
	return d
}

func poll(t *testing.T, d device.Device) device.Completion {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, ok, err := d.PollCompletion()
		require.NoError(t, err)
		if ok {
			return c
		}
		time.Sleep(time.Millisecond)
	}
	require.FailNow(t, "timeout waiting for completion")
	return device.Completion{}
}

func TestAtomics(t *testing.T) {
	f := NewFabric()
	d0 := attach(t, f, 0)
	d1 := attach(t, f, 1)

	scratch := words(1)
	local, err := d0.RegisterMemory(scratch)
	require.NoError(t, err)

	target := words(4)
	remote, err := d1.RegisterMemory(target)
	require.NoError(t, err)
	device.StoreWord(target, 16, 10)

	token, err := d0.AtomicFetchAdd(local, remote.Addr+16, remote.Keys.Remote, 5, 1)
	require.NoError(t, err)
	require.Equal(t, device.Token(1), token)

	c := poll(t, d0)
	require.Equal(t, device.StatusSuccess, c.Status)
	require.Equal(t, device.OpFetchAdd, c.Opcode)
	require.Equal(t, 1, c.Dest)
	require.Equal(t, uint64(10), device.LoadWord(scratch, 0))
	require.Equal(t, uint64(15), device.LoadWord(target, 16))

	_, err = d0.AtomicCompareSwap(local, remote.Addr+16, remote.Keys.Remote, 15, 100, 1)
	require.NoError(t, err)
	c = poll(t, d0)
	require.Equal(t, device.StatusSuccess, c.Status)
	require.Equal(t, device.OpCompareSwap, c.Opcode)
	require.Equal(t, uint64(15), device.LoadWord(scratch, 0))
	require.Equal(t, uint64(100), device.LoadWord(target, 16))

	// loopback to self
	own, err := d0.RegisterMemory(words(1))
	require.NoError(t, err)
	_, err = d0.AtomicFetchAdd(local, own.Addr, own.Keys.Remote, 1, 0)
	require.NoError(t, err)
	require.Equal(t, device.StatusSuccess, poll(t, d0).Status)

	_, ok, err := d0.PollCompletion()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFailedCompletions(t *testing.T) {
	f := NewFabric()
	d0 := attach(t, f, 0)
	d1 := attach(t, f, 1)

	local, err := d0.RegisterMemory(words(1))
	require.NoError(t, err)
	remote, err := d1.RegisterMemory(words(1))
	require.NoError(t, err)

	tcs := []struct {
		name   string
		addr   uint64
		rkey   uint32
		dest   int
		status device.Status
	}{
		{"bad remote key", remote.Addr, remote.Keys.Remote + 2, 1, device.StatusRemoteAccessError},
		{"out of range", remote.Addr + 8, remote.Keys.Remote, 1, device.StatusRemoteAccessError},
		{"misaligned", remote.Addr + 1, remote.Keys.Remote, 1, device.StatusRemoteAccessError},
		{"unreachable rank", remote.Addr, remote.Keys.Remote, 7, device.StatusGeneralError},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := d0.AtomicFetchAdd(local, tc.addr, tc.rkey, 1, tc.dest)
			require.NoError(t, err)
			require.Equal(t, tc.status, poll(t, d0).Status)
		})
	}

	require.NoError(t, d1.UnregisterMemory(remote))
	_, err = d0.AtomicFetchAdd(local, remote.Addr, remote.Keys.Remote, 1, 1)
	require.NoError(t, err)
	require.Equal(t, device.StatusRemoteAccessError, poll(t, d0).Status)
}

func TestAttach(t *testing.T) {
	f := NewFabric()
	a, err := f.Attach(3)
	require.NoError(t, err)
	_, err = f.Attach(3)
	require.Error(t, err)

	require.NoError(t, a.Close())
	_, err = a.CreateQP(0)
	require.Error(t, err)

	b, err := f.Attach(3)
	require.NoError(t, err)
	require.NoError(t, b.Close())
}
