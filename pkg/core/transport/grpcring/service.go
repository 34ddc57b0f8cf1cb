// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package grpcring

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName   = "ringmm.Ring"
	deliverMethod = "/" + serviceName + "/Deliver"
)

// ringServer is the server side of the ringmm.Ring service.
type ringServer interface {
	// Deliver hands a message to the rank serving it.
	Deliver(ctx context.Context, msg *block) (*ack, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(block)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ringServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ringServer).Deliver(ctx, req.(*block))
	}
	return interceptor(ctx, in, info, handler)
}

// ringServiceDesc describes the ringmm.Ring service. Its messages are encoded with rawCodec.
var ringServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ringServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ringmm/ring",
}
