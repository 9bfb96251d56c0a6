package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

const DefaultRPCTimeout = 10 * time.Second

// UnaryTimeoutInterceptor applies DefaultRPCTimeout to calls without a deadline.
func UnaryTimeoutInterceptor(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	return NewUnaryTimeoutInterceptor(DefaultRPCTimeout)(ctx, method, req, reply, cc, invoker, opts...)
}

// NewUnaryTimeoutInterceptor applies d to calls without a deadline. A
// non-positive d means DefaultRPCTimeout.
func NewUnaryTimeoutInterceptor(d time.Duration) grpc.UnaryClientInterceptor {
	if d <= 0 {
		d = DefaultRPCTimeout
	}
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
