package observability

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealthServer exposes the standard grpc.health.v1 service so orchestrators
// can probe the process without going through HTTP
type GRPCHealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   zerolog.Logger
}

// NewGRPCHealthServer binds the health service to addr (e.g. ":8081")
func NewGRPCHealthServer(addr string) (*GRPCHealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for grpc health on %s: %w", addr, err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &GRPCHealthServer{
		server:   srv,
		health:   hs,
		listener: lis,
		logger:   WithComponent("grpc_health"),
	}, nil
}

// Addr returns the bound address
func (g *GRPCHealthServer) Addr() string {
	return g.listener.Addr().String()
}

// Serve blocks until the server stops
func (g *GRPCHealthServer) Serve() error {
	g.logger.Info().Str("addr", g.Addr()).Msg("gRPC health server listening")
	return g.server.Serve(g.listener)
}

// SetReady flips the serving status reported for the service
func (g *GRPCHealthServer) SetReady(ready bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !ready {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Stop marks the service NOT_SERVING and stops the server
func (g *GRPCHealthServer) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
