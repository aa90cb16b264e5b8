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

package control

import (
	"context"
	"net"
	"sync"

	"github.com/hashicorp/go-multierror"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/intel/segmgr/pkg/group"
	"github.com/intel/segmgr/pkg/instrumentation"
	"github.com/intel/segmgr/pkg/status"
)

const (
	// serviceName is the full name of our gRPC service.
	serviceName = "segmgr.control.v1.Control"
	// methods of the service
	methodRegisterSegment = "RegisterSegment"
	methodBarrier         = "Barrier"
)

// controlServer is the server API of our gRPC service.
type controlServer interface {
	RegisterSegment(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
	Barrier(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*controlServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: methodRegisterSegment,
			Handler:    unaryHandler(methodRegisterSegment, controlServer.RegisterSegment),
		},
		{
			MethodName: methodBarrier,
			Handler:    unaryHandler(methodBarrier, controlServer.Barrier),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "segmgr/control/v1/control.proto",
}

type unaryFn func(controlServer, context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)

// unaryHandler returns the gRPC method handler for fn.
func unaryHandler(method string, fn unaryFn) func(interface{}, context.Context, func(interface{}) error,
	grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(controlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(srv.(controlServer), ctx, req.(*wrapperspb.BytesValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Node is a control channel endpoint talking gRPC to other ranks.
type Node struct {
	rank     int
	listener net.Listener
	server   *grpc.Server
	barriers *barriers
	wg       sync.WaitGroup

	lock    sync.RWMutex
	handler Handler
	peers   map[int]string
	conns   map[int]*grpc.ClientConn
	closed  bool
}

// server serves gRPC requests on behalf of a Node.
type server struct {
	n *Node
}

var _ Channel = &Node{}

// NewNode creates a control node for rank, serving requests on address.
func NewNode(rank int, address string) (*Node, error) {
	if err := checkRank(rank); err != nil {
		return nil, err
	}

	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, status.Wrap(status.KindCommunicationError, err,
			"rank %d: failed to listen on %s", rank, address)
	}

	n := &Node{
		rank:     rank,
		listener: l,
		server:   grpc.NewServer(instrumentation.InjectGrpcServerTrace()...),
		barriers: newBarriers(rank),
		peers:    make(map[int]string),
		conns:    make(map[int]*grpc.ClientConn),
	}
	n.server.RegisterService(&serviceDesc, &server{n: n})

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.server.Serve(l); err != nil {
			log.Error("rank %d: control server failed: %v", rank, err)
		}
	}()

	log.Info("rank %d: control channel serving on %s", rank, l.Addr())

	return n, nil
}

// Addr returns the address the node is serving on.
func (n *Node) Addr() string {
	return n.listener.Addr().String()
}

// Rank returns the rank of the node.
func (n *Node) Rank() int {
	return n.rank
}

// SetPeer sets the control address of rank.
func (n *Node) SetPeer(rank int, address string) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.peers[rank] = address
}

// SetHandler sets the handler for requests sent to this node.
func (n *Node) SetHandler(h Handler) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.handler = h
}

// RegisterSegment asks rank to record our segment id.
func (n *Node) RegisterSegment(ctx context.Context, rank int, id uint8, info SegmentInfo) error {
	req := &registerRequest{id: id, from: n.rank, info: info}
	return n.invoke(ctx, rank, methodRegisterSegment, req.encode())
}

// Barrier blocks until all members have entered the barrier for the group.
func (n *Node) Barrier(ctx context.Context, id group.ID, members []int) error {
	return n.barriers.run(ctx, id, members,
		func(ctx context.Context, to int, a *arrival) error {
			return n.invoke(ctx, to, methodBarrier, a.encode())
		})
}

// Close stops the node and closes all client connections.
func (n *Node) Close() error {
	n.lock.Lock()
	if n.closed {
		n.lock.Unlock()
		return nil
	}
	n.closed = true
	conns := n.conns
	n.conns = nil
	n.lock.Unlock()

	var errors *multierror.Error
	for rank, cc := range conns {
		if err := cc.Close(); err != nil {
			errors = multierror.Append(errors,
				status.Wrap(status.KindCommunicationError, err, "closing connection to rank %d", rank))
		}
	}

	n.server.Stop()
	n.wg.Wait()

	return errors.ErrorOrNil()
}

// conn returns the client connection to rank, dialing it if necessary.
func (n *Node) conn(rank int) (*grpc.ClientConn, error) {
	n.lock.Lock()
	defer n.lock.Unlock()

	if n.closed {
		return nil, status.New(status.KindCommunicationError, "rank %d: node closed", n.rank)
	}
	if cc, ok := n.conns[rank]; ok {
		return cc, nil
	}

	addr, ok := n.peers[rank]
	if !ok {
		return nil, status.New(status.KindCommunicationError, "unknown peer rank %d", rank)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithInsecure(),
	}
	cc, err := grpc.Dial(addr, instrumentation.InjectGrpcClientTrace(dialOpts...)...)
	if err != nil {
		return nil, status.Wrap(status.KindCommunicationError, err,
			"failed to connect to rank %d at %s", rank, addr)
	}
	n.conns[rank] = cc

	return cc, nil
}

// invoke calls method of rank with the given payload.
func (n *Node) invoke(ctx context.Context, rank int, method string, payload []byte) error {
	cc, err := n.conn(rank)
	if err != nil {
		return err
	}

	err = cc.Invoke(ctx, "/"+serviceName+"/"+method, wrapperspb.Bytes(payload), &emptypb.Empty{},
		grpc.WaitForReady(true))
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return contextError(ctx, "%s with rank %d", method, rank)
	}

	switch st := grpcstatus.Convert(err); st.Code() {
	case codes.DeadlineExceeded:
		return status.Wrap(status.KindTimeout, err, "%s with rank %d", method, rank)
	case codes.Unavailable, codes.Canceled:
		return status.Wrap(status.KindCommunicationError, err, "%s with rank %d", method, rank)
	default:
		return status.New(status.KindGeneric, "rank %d rejected %s: %s", rank, method, st.Message())
	}
}

// RegisterSegment serves a segment registration request.
func (s *server) RegisterSegment(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	req := &registerRequest{}
	if err := req.decode(in.GetValue()); err != nil {
		return nil, grpcError(err)
	}

	s.n.lock.RLock()
	h := s.n.handler
	s.n.lock.RUnlock()

	if err := serveRegister(h, req); err != nil {
		return nil, grpcError(err)
	}

	return &emptypb.Empty{}, nil
}

// Barrier serves a barrier arrival.
func (s *server) Barrier(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	a := &arrival{}
	if err := a.decode(in.GetValue()); err != nil {
		return nil, grpcError(err)
	}

	s.n.barriers.arrive(a)

	return &emptypb.Empty{}, nil
}

// grpcError converts an error to a gRPC status error.
func grpcError(err error) error {
	code := codes.Internal
	switch status.KindOf(err) {
	case status.KindInvalidArgument:
		code = codes.InvalidArgument
	case status.KindNotInitialized:
		code = codes.FailedPrecondition
	}
	return grpcstatus.Error(code, err.Error())
}
