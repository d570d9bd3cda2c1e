// Package health serves the gRPC health checking protocol for the relay.
package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

const (
	defaultCheckInterval = 15 * time.Second
	pingTimeout          = 5 * time.Second
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes grpc.health.v1.Health. The overall service ("") is
// SERVING only while every dependency answers its ping; each dependency is
// also reported under its own name.
type Server struct {
	grpc     *grpc.Server
	health   *grpchealth.Server
	checks   map[string]Pinger
	interval time.Duration
	logger   *slog.Logger
}

// NewServer creates a health server. A non-positive interval selects the
// default.
func NewServer(checks map[string]Pinger, interval time.Duration, logger *slog.Logger) *Server {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	gs := grpc.NewServer(grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    2 * time.Minute,
		Timeout: 10 * time.Second,
	}))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{
		grpc:     gs,
		health:   hs,
		checks:   checks,
		interval: interval,
		logger:   logger,
	}
}

// Check pings every dependency once and publishes the result.
func (s *Server) Check(ctx context.Context) bool {
	healthy := true
	for name, dep := range s.checks {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := dep.Ping(pingCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			healthy = false
			status = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn("Dependency health check failed", "dependency", name, "error", err)
		}
		s.health.SetServingStatus(name, status)
	}

	overall := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		overall = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", overall)
	return healthy
}

// Start checks once, then every interval until ctx is done.
func (s *Server) Start(ctx context.Context) {
	s.Check(ctx)

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Check(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Serve accepts gRPC connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
