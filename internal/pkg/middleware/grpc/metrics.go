package grpc

import (
	"context"
	"path"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/autopeer-io/transitlive/internal/pkg/metrics"
)

// UnaryMetricsInterceptor records call latency by method and status code.
func UnaryMetricsInterceptor(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	start := time.Now()
	err := invoker(ctx, method, req, reply, cc, opts...)
	metrics.BackendLatency.
		WithLabelValues(path.Base(method), status.Code(err).String()).
		Observe(time.Since(start).Seconds())
	return err
}
