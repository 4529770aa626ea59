package httpapi

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tenantgate.io/internal/obs"
)

const defaultHealthInterval = 10 * time.Second

// HealthServer publishes readiness over the standard gRPC health protocol,
// both for the empty service name and for obs.ServiceName.
type HealthServer struct {
	health    *health.Server
	readiness readinessChecker
	interval  time.Duration
}

func NewHealthServer(r readinessChecker, interval time.Duration) *HealthServer {
	if r == nil {
		r = DBReadiness{}
	}
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	return &HealthServer{health: health.NewServer(), readiness: r, interval: interval}
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.health)
}

// Refresh runs the readiness check once and updates the published status.
func (h *HealthServer) Refresh(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	err := h.readiness.Check(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		obs.Logger().Warn("readiness check failed", zap.Error(err))
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(obs.ServiceName, status)
	obs.SetReady(err == nil)
	return err == nil
}

// Run refreshes on every interval until ctx is cancelled, then reports
// NOT_SERVING so clients drain before the listener closes.
func (h *HealthServer) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.health.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
