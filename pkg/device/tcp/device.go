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

package tcp

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	pkgerrors "github.com/pkg/errors"

	"github.com/intel/segmgr/pkg/device"
	logger "github.com/intel/segmgr/pkg/log"
)

const (
	// DeviceName is the name of TCP devices.
	DeviceName = "tcp"
	// DefaultDialTimeout is the default timeout for connecting to a peer.
	DefaultDialTimeout = 5 * time.Second
)

// Device is a transport device emulating atomics over TCP.
type Device struct {
	logger.Logger
	rank   int
	mrs    *device.Registry
	server *Server
	stats  *device.Stats
	dial   time.Duration
	wg     sync.WaitGroup

	lock   sync.Mutex
	peers  map[int]string
	conns  map[int]*conn
	seq    uint64
	cq     []device.Completion
	closed bool
}

// conn is a connection to a peer device server.
type conn struct {
	net.Conn
	dest    int
	wlock   sync.Mutex
	pending map[uint64]*pending // protected by Device.lock
}

// pending is a posted, not yet completed work request.
type pending struct {
	op    device.Opcode
	lkey  uint32
	laddr uint64
}

var _ device.Device = &Device{}

// NewDevice creates a device for rank, with its server listening on address.
func NewDevice(rank int, address string) (*Device, error) {
	mrs := device.NewRegistry()
	srv, err := NewServer(rank, address, mrs)
	if err != nil {
		return nil, err
	}

	return &Device{
		Logger: logger.NewLogger("tcp-device"),
		rank:   rank,
		mrs:    mrs,
		server: srv,
		stats:  device.NewStats(),
		dial:   DefaultDialTimeout,
		peers:  make(map[int]string),
		conns:  make(map[int]*conn),
	}, nil
}

// Name returns the name of the device.
func (d *Device) Name() string {
	return DeviceName
}

// Addr returns the address of the device server.
func (d *Device) Addr() string {
	return d.server.Addr()
}

// Stats returns the activity counters of the device.
func (d *Device) Stats() *device.Stats {
	return d.stats
}

// SetPeer sets the device server address of the given rank.
func (d *Device) SetPeer(rank int, address string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.peers[rank] = address
}

// RegisterMemory registers buf for remote access.
func (d *Device) RegisterMemory(buf []byte) (*device.MemoryRegion, error) {
	mr, err := d.mrs.Register(buf)
	if err != nil {
		return nil, err
	}
	d.stats.Registered(1)
	return mr, nil
}

// UnregisterMemory revokes a registration.
func (d *Device) UnregisterMemory(mr *device.MemoryRegion) error {
	if err := d.mrs.Unregister(mr); err != nil {
		return err
	}
	d.stats.Registered(-1)
	return nil
}

// AtomicFetchAdd sends a fetch-and-add work request to rank dest.
func (d *Device) AtomicFetchAdd(local *device.MemoryRegion, remoteAddr uint64, rkey uint32, add uint64, dest int) (device.Token, error) {
	return d.post(local, dest, &workRequest{
		Opcode:     device.OpFetchAdd,
		RemoteAddr: remoteAddr,
		RKey:       rkey,
		CompareAdd: add,
	})
}

// AtomicCompareSwap sends a compare-and-swap work request to rank dest.
func (d *Device) AtomicCompareSwap(local *device.MemoryRegion, remoteAddr uint64, rkey uint32, cmp, swap uint64, dest int) (device.Token, error) {
	return d.post(local, dest, &workRequest{
		Opcode:     device.OpCompareSwap,
		RemoteAddr: remoteAddr,
		RKey:       rkey,
		CompareAdd: cmp,
		Swap:       swap,
	})
}

func (d *Device) post(local *device.MemoryRegion, dest int, wr *workRequest) (device.Token, error) {
	if local == nil || local.Length < device.AtomicSize {
		return 0, tcpError("invalid local buffer %s", local)
	}
	if dest < 0 || dest > MaxRank {
		return 0, tcpError("invalid destination rank %d", dest)
	}

	d.lock.Lock()
	c, err := d.connect(dest)
	if err != nil {
		d.lock.Unlock()
		return 0, err
	}
	d.seq++
	wr.Seq = d.seq
	wr.LocalAddr = local.Addr
	wr.LKey = local.Keys.Local
	wr.Source = uint16(d.rank)
	wr.Target = uint16(dest)
	wr.Length = device.AtomicSize
	c.pending[wr.Seq] = &pending{op: wr.Opcode, lkey: wr.LKey, laddr: wr.LocalAddr}
	d.lock.Unlock()

	c.wlock.Lock()
	err = writeWorkRequest(c, wr)
	c.wlock.Unlock()

	if err != nil {
		c.Close()
		if d.withdraw(c, wr.Seq) {
			return 0, pkgerrors.Wrapf(err, "tcp: failed to post %s to rank %d", wr.Opcode, dest)
		}
		// Already flushed by disconnect, its completion is queued.
		d.Debug("rank %d: %s to rank %d flushed while posting: %v", d.rank, wr.Opcode, dest, err)
	}
	d.stats.Posted(wr.Opcode)

	return device.Token(dest), nil
}

// withdraw removes a pending request, returning false if it has already
// been completed or flushed.
func (d *Device) withdraw(c *conn, seq uint64) bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	if _, ok := c.pending[seq]; !ok {
		return false
	}
	delete(c.pending, seq)
	return true
}

// connect returns the connection to dest, dialing it if necessary. d.lock must be held.
func (d *Device) connect(dest int) (*conn, error) {
	if d.closed {
		return nil, tcpError("device of rank %d closed", d.rank)
	}
	if c, ok := d.conns[dest]; ok {
		return c, nil
	}

	address, ok := d.peers[dest]
	if !ok {
		return nil, tcpError("no address for rank %d", dest)
	}

	nc, err := net.DialTimeout("tcp", address, d.dial)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "tcp: failed to connect to rank %d", dest)
	}

	c := &conn{
		Conn:    nc,
		dest:    dest,
		pending: make(map[uint64]*pending),
	}
	d.conns[dest] = c
	d.wg.Add(1)
	go d.receive(c)

	d.Debug("rank %d: connected to rank %d at %s", d.rank, dest, address)

	return c, nil
}

// receive turns work completions from a peer into local completions.
func (d *Device) receive(c *conn) {
	defer d.wg.Done()

	for {
		wc := workCompletion{}
		if err := readWorkCompletion(c, &wc); err != nil {
			d.disconnect(c, err)
			return
		}

		d.lock.Lock()
		p, ok := c.pending[wc.Seq]
		if !ok {
			d.lock.Unlock()
			d.Warn("rank %d: unexpected completion #%d from rank %d", d.rank, wc.Seq, c.dest)
			continue
		}
		delete(c.pending, wc.Seq)

		status := wc.Status
		if status == device.StatusSuccess {
			status = d.mrs.Store(p.lkey, p.laddr, wc.Value)
		}
		d.complete(c.dest, p.op, status)
		d.lock.Unlock()
	}
}

// disconnect drops a failed connection, flushing its pending requests.
func (d *Device) disconnect(c *conn, err error) {
	c.Close()

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.conns[c.dest] == c {
		delete(d.conns, c.dest)
	}
	if len(c.pending) > 0 {
		d.Warn("rank %d: flushing %d requests to rank %d: %v", d.rank, len(c.pending), c.dest, err)
	}
	for seq, p := range c.pending {
		d.complete(c.dest, p.op, device.StatusFlushError)
		delete(c.pending, seq)
	}
}

// complete queues a completion. d.lock must be held.
func (d *Device) complete(dest int, op device.Opcode, status device.Status) {
	d.cq = append(d.cq, device.Completion{
		Token:  device.Token(dest),
		Opcode: op,
		Status: status,
		Dest:   dest,
	})
}

// PollCompletion returns the oldest queued completion, if any.
func (d *Device) PollCompletion() (device.Completion, bool, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if len(d.cq) == 0 {
		return device.Completion{}, false, nil
	}
	c := d.cq[0]
	d.cq = d.cq[1:]
	d.stats.Completed(c.Status)

	return c, true, nil
}

// Close closes all connections and the device server.
func (d *Device) Close() error {
	var errs *multierror.Error

	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return nil
	}
	d.closed = true
	for _, c := range d.conns {
		c.Close()
	}
	d.lock.Unlock()

	d.wg.Wait()
	if err := d.server.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs.ErrorOrNil()
}

func tcpError(format string, args ...interface{}) error {
	return fmt.Errorf("tcp: "+format, args...)
}
