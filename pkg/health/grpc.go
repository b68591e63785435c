package health

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCServer mirrors the checker state into the standard gRPC health service.
func (c *Checker) GRPCServer(services ...string) *health.Server {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	c.OnChange(func(healthy bool) {
		status := healthpb.HealthCheckResponse_SERVING
		if !healthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		srv.SetServingStatus("", status)
		for _, s := range services {
			srv.SetServingStatus(s, status)
		}
	})

	return srv
}
