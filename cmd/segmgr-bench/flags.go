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
	"flag"
	"time"
)

const (
	transportFabric = "fabric"
	transportTCP    = "tcp"
	controlLoopback = "loopback"
	controlGrpc     = "grpc"
)

// options captures our command line options.
type options struct {
	configFile string
	ranks      int
	transport  string
	control    string
	segment    uint
	size       uint64
	rounds     int
	timeout    time.Duration
	linger     time.Duration
	dump       bool
}

var opt = options{}

func init() {
	flag.StringVar(&opt.configFile, "config", "", "YAML file to read configuration from")
	flag.IntVar(&opt.ranks, "ranks", 4, "number of ranks to run")
	flag.StringVar(&opt.transport, "transport", transportFabric,
		"transport device to use ("+transportFabric+" or "+transportTCP+")")
	flag.StringVar(&opt.control, "control", controlLoopback,
		"control channel to use ("+controlLoopback+" or "+controlGrpc+")")
	flag.UintVar(&opt.segment, "segment", 0, "id of the segment to create")
	flag.Uint64Var(&opt.size, "size", 4096, "size of the segment to create")
	flag.IntVar(&opt.rounds, "rounds", 1000, "number of operations per rank")
	flag.DurationVar(&opt.timeout, "timeout", 30*time.Second, "timeout for collective operations")
	flag.DurationVar(&opt.linger, "linger", 0, "time to keep serving metrics after the run")
	flag.BoolVar(&opt.dump, "dump", false, "dump segment tables after the run")
}
