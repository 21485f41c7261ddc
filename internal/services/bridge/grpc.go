package bridge

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service the bridge reports under.
const ServiceName = "hydroponics.Bridge"

func (a *App) newGRPCServer() *grpc.Server {
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, a.health)
	a.updateHealth()
	return srv
}

// watchConnectivity mirrors the MQTT session into the gRPC health status
// and the mqtt_connected gauge until ctx ends.
func (a *App) watchConnectivity(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.updateHealth()
		}
	}
}

func (a *App) updateHealth() {
	up := a.publisher.IsConnected()
	a.metrics.SetMQTTConnected(up)
	setServing(a.health, up)
}

func setServing(h *health.Server, up bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if up {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.SetServingStatus("", st)
	h.SetServingStatus(ServiceName, st)
}
