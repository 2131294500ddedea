// Package healthserver exposes the standard gRPC health service so
// orchestrators can gate traffic on the classifier being loaded.
package healthserver

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported for the detector.
const ServiceName = "xray.Detector"

// ReadinessProbe reports whether the model is loaded.
type ReadinessProbe interface {
	Ready() bool
}

// Server wraps a gRPC server carrying only the health service.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	probe  ReadinessProbe
	logger *zap.Logger
}

// New builds the server; status starts NOT_SERVING until Refresh sees a ready model.
func New(probe ReadinessProbe, logger *zap.Logger) *Server {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{grpc: srv, health: hs, probe: probe, logger: logger.Named("grpc_health")}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh publishes the probe's current readiness.
func (s *Server) Refresh() {
	if s.probe != nil && s.probe.Ready() {
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Drain reports NOT_SERVING for good; later Refresh calls have no effect.
func (s *Server) Drain() {
	s.health.Shutdown()
	s.logger.Info("health status set to NOT_SERVING for shutdown")
}

func (s *Server) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks until ctx is canceled or the listener fails.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.Refresh()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(listener)
	}()
	s.logger.Info("gRPC health listening", zap.String("addr", listener.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		<-errCh
		return nil
	}
}
