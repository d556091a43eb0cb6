package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-modelwatch/internal/config"
)

// EngineServer hosts the MonitoringEngine service next to the standard health
// and reflection services.
type EngineServer struct {
	grpc         *grpc.Server
	listener     net.Listener
	health       *health.Server
	drainTimeout time.Duration
}

// NewEngineServer listens on cfg.Address and registers engine. Nothing is served
// until Serve is called.
func NewEngineServer(cfg config.ServerConfig, engine MonitoringEngineServer, logger *slog.Logger, opts ...grpc.ServerOption) (*EngineServer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	srv := grpc.NewServer(append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor, callLogger(logger)),
	}, opts...)...)
	RegisterMonitoringEngine(srv, engine)
	grpc_prometheus.Register(srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	return &EngineServer{grpc: srv, listener: lis, health: hs, drainTimeout: cfg.GracefulTimeout}, nil
}

// callLogger records failed engine calls with the calling user. Server faults are
// warnings; rejected input and missing records are debug noise.
func callLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		code := status.Code(err)
		level := slog.LevelDebug
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelWarn
		}
		actor := actorFromContext(ctx)
		logger.Log(ctx, level, "engine call failed",
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.String("user_id", actor.ID),
			slog.String("role", actor.Role),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
		return resp, err
	}
}

// Serve blocks until Drain stops the server.
func (s *EngineServer) Serve() error {
	return s.grpc.Serve(s.listener)
}

// Drain reports NOT_SERVING to health probes, then waits for in-flight calls until
// ctx ends and force-closes whatever remains.
func (s *EngineServer) Drain(ctx context.Context) {
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-ctx.Done():
		s.grpc.Stop()
	case <-done:
	}
}

// Addr is the bound listener address.
func (s *EngineServer) Addr() string {
	return s.listener.Addr().String()
}

// DrainTimeout is how long Drain should be given before forcing connections closed.
func (s *EngineServer) DrainTimeout() time.Duration {
	return s.drainTimeout
}
