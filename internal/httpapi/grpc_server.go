package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"marketgate.org/internal/obs"
)

// HealthReporter mirrors the readiness probe into the standard gRPC health service.
type HealthReporter struct {
	health    *health.Server
	readiness ReadinessChecker
}

// NewGRPCServer builds a gRPC server exposing grpc.health.v1 for serviceName and "".
func NewGRPCServer(r ReadinessChecker, opts ...grpc.ServerOption) (*grpc.Server, *HealthReporter) {
	if r == nil {
		r = ReadyFunc(nil)
	}
	srv := grpc.NewServer(opts...)
	hr := &HealthReporter{health: health.NewServer(), readiness: r}
	healthpb.RegisterHealthServer(srv, hr.health)
	hr.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return srv, hr
}

// Probe runs the readiness check once and publishes the result.
func (h *HealthReporter) Probe(ctx context.Context) error {
	err := h.readiness.Check(ctx)
	if err != nil {
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run probes every interval until ctx ends.
func (h *HealthReporter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		pctx, cancel := context.WithTimeout(ctx, every)
		_ = h.Probe(pctx)
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown flips every service to NOT_SERVING ahead of GracefulStop.
func (h *HealthReporter) Shutdown() { h.health.Shutdown() }

func (h *HealthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(serviceName, status)
}
