package grpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the cart backend.
const ServiceName = "qr_order.CartStore"

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// OpsServer is the gRPC health and reflection endpoint.
type OpsServer struct {
	server   *grpc.Server
	health   *health.Server
	check    Checker
	interval time.Duration
	logger   *zap.Logger
}

func NewOpsServer(check Checker, interval time.Duration, logger *zap.Logger) *OpsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &OpsServer{server: s, health: hs, check: check, interval: interval, logger: logger}
}

func (o *OpsServer) Server() *grpc.Server {
	return o.server
}

// Watch probes the checker on every tick and flips the cart service status.
func (o *OpsServer) Watch(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	o.probe(ctx)
	for {
		select {
		case <-ticker.C:
			o.probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (o *OpsServer) probe(ctx context.Context) {
	if o.check == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, o.interval/2)
	defer cancel()

	if err := o.check(ctx); err != nil {
		o.logger.Warn("cart backend unhealthy", zap.Error(err))
		o.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	o.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
}

// Shutdown marks every service as not serving and drains open calls.
func (o *OpsServer) Shutdown() {
	o.health.Shutdown()
	o.server.GracefulStop()
}
