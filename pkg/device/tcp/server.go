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
	"errors"
	"io"
	"net"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/intel/segmgr/pkg/device"
	logger "github.com/intel/segmgr/pkg/log"
)

// Server executes work requests received from peers against a registry.
type Server struct {
	logger.Logger
	rank     int
	mrs      *device.Registry
	listener net.Listener
	wg       sync.WaitGroup

	lock   sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewServer creates a server listening on the given TCP address.
func NewServer(rank int, address string, mrs *device.Registry) (*Server, error) {
	if rank < 0 || rank > MaxRank {
		return nil, tcpError("invalid rank %d", rank)
	}

	lis, err := net.Listen("tcp", address)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "tcp: rank %d failed to listen on %s", rank, address)
	}

	s := &Server{
		Logger:   logger.NewLogger("tcp-device"),
		rank:     rank,
		mrs:      mrs,
		listener: lis,
		conns:    make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.accept()

	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops the server and closes all its connections.
func (s *Server) Close() error {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return nil
	}
	s.closed = true
	err := s.listener.Close()
	for c := range s.conns {
		c.Close()
	}
	s.lock.Unlock()

	s.wg.Wait()

	return err
}

func (s *Server) accept() {
	defer s.wg.Done()

	for {
		c, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.Error("rank %d: accept failed: %v", s.rank, err)
			}
			return
		}

		s.lock.Lock()
		if s.closed {
			s.lock.Unlock()
			c.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
		s.lock.Unlock()

		go s.serve(c)
	}
}

// serve executes work requests from a single peer connection.
func (s *Server) serve(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.lock.Lock()
		delete(s.conns, c)
		s.lock.Unlock()
		c.Close()
	}()

	for {
		wr := workRequest{}
		if err := readWorkRequest(c, &wr); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.Warn("rank %d: dropping connection from %s: %v", s.rank, c.RemoteAddr(), err)
			}
			return
		}

		wc := workCompletion{
			Seq:    wr.Seq,
			Opcode: wr.Opcode,
			Source: uint16(s.rank),
		}
		switch {
		case int(wr.Target) != s.rank:
			wc.Status = device.StatusRemoteInvalidRequest
		case wr.Length != device.AtomicSize:
			wc.Status = device.StatusRemoteInvalidRequest
		default:
			wc.Value, wc.Status = s.mrs.Execute(wr.Opcode, wr.RKey, wr.RemoteAddr, wr.CompareAdd, wr.Swap)
		}

		if err := writeWorkCompletion(c, &wc); err != nil {
			s.Warn("rank %d: failed to complete request of rank %d: %v", s.rank, wr.Source, err)
			return
		}
	}
}
