package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the gRPC health service name reported for the occupancy
// pipeline. The empty service name reports the same status.
const ServiceName = "atlasgrid.Occupancy"

// Health mirrors zone liveness into the gRPC health service.
type Health struct {
	srv  *health.Server
	live Liveness
}

// NewHealth returns a health reporter. The status starts as SERVING.
func NewHealth(live Liveness) *Health {
	h := &Health{srv: health.NewServer(), live: live}
	h.Refresh()
	return h
}

// Refresh sets NOT_SERVING when every zone is stale and SERVING otherwise.
// Call it whenever a zone changes liveness.
func (h *Health) Refresh() {
	st := healthpb.HealthCheckResponse_SERVING
	if h.live != nil && h.live.AllStale() {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.srv.SetServingStatus("", st)
	h.srv.SetServingStatus(ServiceName, st)
}

// Shutdown marks every service NOT_SERVING ahead of a graceful stop.
func (h *Health) Shutdown() {
	h.srv.Shutdown()
}

// NewGRPCServer creates a gRPC server with standard interceptors,
// registers the health service and reflection, and returns the server ready
// to serve.
func NewGRPCServer(h *Health, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamLoggingInterceptor,
			StreamAuthInterceptor(authToken),
		),
	)

	healthpb.RegisterHealthServer(srv, h.srv)
	reflection.Register(srv)

	return srv
}
