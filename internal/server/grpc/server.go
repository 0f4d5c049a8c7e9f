// Package grpc runs the gRPC endpoint of the server. It carries the
// standard grpc.health.v1 service so orchestrators can probe readiness.
package grpc

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/dmitrijs2005/levelstore/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported through the health service besides the
// overall "" entry.
const ServiceName = "levelstore.v1.LevelStore"

type GRPCServer struct {
	address string
	logger  logging.Logger
	health  *health.Server

	mu  sync.Mutex
	lis net.Listener
}

func NewGRPCServer(address string, l logging.Logger) *GRPCServer {
	hs := health.NewServer()
	// NOT_SERVING until the application says otherwise
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &GRPCServer{
		address: address,
		logger:  l.With("module", "grpc_server"),
		health:  hs,
	}
}

// SetServing flips the reported status of both health entries.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Listen binds the configured address. Run calls it when needed.
func (s *GRPCServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis != nil {
		return nil
	}
	lis, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	s.lis = lis
	return nil
}

// Addr is the bound address, or nil before Listen.
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Run serves until ctx is done, then reports NOT_SERVING and stops
// gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.Addr().String())

	s.mu.Lock()
	lis := s.lis
	s.mu.Unlock()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
