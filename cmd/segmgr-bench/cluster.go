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

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/intel/segmgr/pkg/atomics"
	"github.com/intel/segmgr/pkg/control"
	"github.com/intel/segmgr/pkg/device"
	"github.com/intel/segmgr/pkg/device/fabric"
	"github.com/intel/segmgr/pkg/device/tcp"
	"github.com/intel/segmgr/pkg/group"
	"github.com/intel/segmgr/pkg/metrics"
	"github.com/intel/segmgr/pkg/segment"
)

// channel is a control channel of a rank.
type channel interface {
	control.Channel
	SetHandler(control.Handler)
	Close() error
}

// rank is one rank of the benchmark.
type rank struct {
	id     int
	dev    device.Device
	stats  *device.Stats
	ctrl   channel
	groups *group.Table
	m      *segment.Manager
	e      *atomics.Engine
}

// cluster is all the ranks of the benchmark, running in this process.
type cluster struct {
	ranks      []*rank
	collectors []string
}

func newCluster(n int, transport, ctrl string) (*cluster, error) {
	c := &cluster{}
	if err := c.createDevices(n, transport); err != nil {
		c.close()
		return nil, err
	}
	if err := c.createChannels(ctrl); err != nil {
		c.close()
		return nil, err
	}

	for _, r := range c.ranks {
		groups, err := group.NewTable(r.id, n, r.ctrl)
		if err != nil {
			c.close()
			return nil, err
		}
		r.groups = groups

		if r.m, err = segment.NewManager(r.id, n, r.dev, r.ctrl, r.groups); err != nil {
			c.close()
			return nil, err
		}
		r.ctrl.SetHandler(r.m)

		if r.e, err = atomics.NewEngine(r.m); err != nil {
			c.close()
			return nil, err
		}

		if err := c.registerCollectors(r); err != nil {
			c.close()
			return nil, err
		}
	}

	return c, nil
}

func (c *cluster) createDevices(n int, transport string) error {
	switch transport {
	case transportFabric:
		f := fabric.NewFabric()
		for i := 0; i < n; i++ {
			a, err := f.Attach(i)
			if err != nil {
				return err
			}
			dev := fabric.NewDevice(a)
			c.ranks = append(c.ranks, &rank{id: i, dev: dev, stats: dev.Stats()})
		}

	case transportTCP:
		devs := []*tcp.Device{}
		for i := 0; i < n; i++ {
			dev, err := tcp.NewDevice(i, "127.0.0.1:0")
			if err != nil {
				return err
			}
			devs = append(devs, dev)
			c.ranks = append(c.ranks, &rank{id: i, dev: dev, stats: dev.Stats()})
		}
		for _, dev := range devs {
			for i, peer := range devs {
				dev.SetPeer(i, peer.Addr())
			}
		}

	default:
		return fmt.Errorf("unknown transport %q", transport)
	}

	return nil
}

func (c *cluster) createChannels(ctrl string) error {
	switch ctrl {
	case controlLoopback:
		hub := control.NewHub()
		for _, r := range c.ranks {
			lb, err := hub.Attach(r.id)
			if err != nil {
				return err
			}
			r.ctrl = lb
		}

	case controlGrpc:
		nodes := []*control.Node{}
		for _, r := range c.ranks {
			node, err := control.NewNode(r.id, "127.0.0.1:0")
			if err != nil {
				return err
			}
			nodes = append(nodes, node)
			r.ctrl = node
		}
		for _, node := range nodes {
			for _, peer := range nodes {
				node.SetPeer(peer.Rank(), peer.Addr())
			}
		}

	default:
		return fmt.Errorf("unknown control channel %q", ctrl)
	}

	return nil
}

func (c *cluster) registerCollectors(r *rank) error {
	collectors := map[string]prometheus.Collector{
		fmt.Sprintf("segments-%d", r.id): segment.NewCollector(r.m),
		fmt.Sprintf("atomics-%d", r.id):  r.e.Collector(),
		fmt.Sprintf("device-%d", r.id):   device.NewCollector(fmt.Sprintf("%s-%d", r.dev.Name(), r.id), r.stats),
	}
	for name, collector := range collectors {
		collector := collector
		err := metrics.RegisterCollector(name, func() (prometheus.Collector, error) {
			return collector, nil
		})
		if err != nil {
			return err
		}
		c.collectors = append(c.collectors, name)
	}
	return nil
}

// collectively runs fn for all ranks in parallel.
func (c *cluster) collectively(ctx context.Context, fn func(context.Context, *rank) error) error {
	errs := make(chan error, len(c.ranks))
	for _, r := range c.ranks {
		go func(r *rank) {
			if err := fn(ctx, r); err != nil {
				errs <- fmt.Errorf("rank %d: %w", r.id, err)
				return
			}
			errs <- nil
		}(r)
	}

	var errors *multierror.Error
	for range c.ranks {
		if err := <-errs; err != nil {
			errors = multierror.Append(errors, err)
		}
	}
	return errors.ErrorOrNil()
}

func (c *cluster) close() error {
	var errors *multierror.Error

	for _, name := range c.collectors {
		metrics.UnregisterCollector(name)
	}
	for _, r := range c.ranks {
		if r.e != nil {
			if err := r.e.Close(); err != nil {
				errors = multierror.Append(errors, err)
			}
		}
		if r.ctrl != nil {
			if err := r.ctrl.Close(); err != nil {
				errors = multierror.Append(errors, err)
			}
		}
		if err := r.dev.Close(); err != nil {
			errors = multierror.Append(errors, err)
		}
	}

	return errors.ErrorOrNil()
}
