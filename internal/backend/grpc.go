package backend

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/Arrow-air/svc-telemetry/pkg/logger"
)

// GRPCConnector returns a connector that opens a plaintext channel and
// only hands it out once the standard health service reports SERVING.
// grpc.NewClient is lazy, so the health check is what proves the peer is
// reachable.
func GRPCConnector(timeout time.Duration) Connector[*grpc.ClientConn] {
	return func(ctx context.Context, address string) (*grpc.ClientConn, error) {
		conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, err
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("health check: %w", err)
		}
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			conn.Close()
			return nil, fmt.Errorf("health check: status %s", resp.GetStatus())
		}
		return conn, nil
	}
}

// NewGRPC creates a cache for a gRPC backend at host:port
func NewGRPC(name, host, port string, timeout time.Duration, log *logger.Logger) *Cache[*grpc.ClientConn] {
	return New(name, Address(host, port), GRPCConnector(timeout), log)
}

// Ping runs a health check over the cached channel, connecting if needed.
// A failed check invalidates the channel.
func Ping(ctx context.Context, c *Cache[*grpc.ClientConn]) error {
	conn, err := c.Get(ctx)
	if err != nil {
		return err
	}
	if _, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{}); err != nil {
		c.Invalidate(ctx, conn)
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, c.Name(), err)
	}
	return nil
}
