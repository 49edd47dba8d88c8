package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the service name reported by the gRPC health server.
const HealthServiceName = "paysettle.settled"

// Health serves the standard gRPC health protocol next to the HTTP API so
// orchestrators can probe the daemon without credentials.
type Health struct {
	grpc   *grpc.Server
	status *health.Server
	logger *slog.Logger
}

func NewHealth(logger *slog.Logger) *Health {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
	)
	status := health.NewServer()
	healthpb.RegisterHealthServer(srv, status)
	status.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Health{grpc: srv, status: status, logger: logger}
}

// SetServing flips the reported status for the overall server and the
// settlement service.
func (h *Health) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.status.SetServingStatus("", status)
	h.status.SetServingStatus(HealthServiceName, status)
}

// Serve accepts on lis until ctx is cancelled.
func (h *Health) Serve(ctx context.Context, lis net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- h.grpc.Serve(lis)
	}()
	h.logger.Info("grpc health listening", "address", lis.Addr().String())

	select {
	case <-ctx.Done():
		h.status.Shutdown()
		done := make(chan struct{})
		go func() {
			h.grpc.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			h.logger.Warn("forcing grpc health stop")
			h.grpc.Stop()
		}
		return nil
	case err := <-serveErr:
		if err != nil && err != grpc.ErrServerStopped {
			return fmt.Errorf("serve grpc health: %w", err)
		}
		return nil
	}
}
