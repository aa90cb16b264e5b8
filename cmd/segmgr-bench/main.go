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
	"flag"
	"os"
	"strings"
	"time"

	"github.com/intel/segmgr/pkg/config"
	"github.com/intel/segmgr/pkg/grpclog"
	"github.com/intel/segmgr/pkg/instrumentation"
	"github.com/intel/segmgr/pkg/segment"
	_ "github.com/intel/segmgr/pkg/version"

	logger "github.com/intel/segmgr/pkg/log"
)

func main() {
	log := logger.Default()

	flag.Parse()

	if len(flag.Args()) != 0 {
		log.Error("unknown command-line arguments: %s", strings.Join(flag.Args(), ","))
		flag.Usage()
		os.Exit(1)
	}

	if opt.configFile != "" {
		if err := config.SetConfigFile(opt.configFile); err != nil {
			log.Fatal("failed to load configuration file %q: %v", opt.configFile, err)
		}
	}

	if opt.ranks < 1 || opt.segment >= segment.MaxSegmentsLimit || opt.rounds < 1 {
		log.Error("invalid ranks (%d), segment (%d) or rounds (%d)", opt.ranks, opt.segment, opt.rounds)
		flag.Usage()
		os.Exit(1)
	}

	if opt.control == controlGrpc {
		grpclog.SetLogger()
	}

	if err := instrumentation.Start(); err != nil {
		log.Fatal("failed to start instrumentation: %v", err)
	}
	defer instrumentation.Stop()

	c, err := newCluster(opt.ranks, opt.transport, opt.control)
	if err != nil {
		log.Fatal("failed to set up %d ranks: %v", opt.ranks, err)
	}
	defer func() {
		if err := c.close(); err != nil {
			log.Error("failed to shut down ranks: %v", err)
		}
	}()

	log.Info("running %d ranks over %s transport with %s control channel",
		opt.ranks, opt.transport, opt.control)

	b := &bench{
		Logger:  log,
		cluster: c,
		id:      segment.ID(opt.segment),
		size:    opt.size,
		rounds:  opt.rounds,
	}

	ctx, cancel := context.WithTimeout(context.Background(), opt.timeout)
	err = b.setup(ctx)
	cancel()
	if err != nil {
		log.Fatal("failed to create segment #%d: %v", b.id, err)
	}

	if err := b.counter(); err != nil {
		log.Fatal("counter benchmark failed: %v", err)
	}
	if err := b.lock(); err != nil {
		log.Fatal("lock benchmark failed: %v", err)
	}

	if opt.dump {
		b.dump()
	}

	if opt.linger > 0 {
		if addr := instrumentation.HTTPAddress(); addr != "" {
			log.Info("serving metrics at %s for %v", addr, opt.linger)
		}
		time.Sleep(opt.linger)
	}

	if err := b.teardown(); err != nil {
		log.Fatal("failed to delete segment #%d: %v", b.id, err)
	}
}
