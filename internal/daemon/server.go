package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/msgdb/internal/bus"
	"github.com/matheus3301/msgdb/internal/profile"
	"github.com/matheus3301/msgdb/internal/status"
)

// ServiceName is the health service reported alongside the overall status.
const ServiceName = "msgdb.Store"

// Server exposes gRPC health checking on the profile's unix socket. The
// reported status follows the store lifecycle.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger

	unsub func()
	done  chan struct{}
}

// NewServer binds the socket. Serving starts with Start.
func NewServer(p Params, machine *status.Machine, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.ProfileName)
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	ch, unsub := b.Subscribe(status.EventStatusChanged, 16)
	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		unsub:      unsub,
		done:       make(chan struct{}),
	}
	go s.follow(ch)
	s.setStatus(machine.Current())
	return s, nil
}

func (s *Server) follow(ch <-chan bus.Event) {
	for {
		select {
		case evt := <-ch:
			if change, ok := evt.Payload.(status.StatusChange); ok {
				s.setStatus(change.To)
			}
		case <-s.done:
			return
		}
	}
}

// Start serves until Stop. It blocks.
func (s *Server) Start() error {
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop marks every service not serving, drains connections and removes the
// socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("health server stopping")
	s.unsub()
	close(s.done)
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}

func (s *Server) setStatus(st status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	switch st {
	case status.Ready, status.Degraded:
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", serving)
	s.health.SetServingStatus(ServiceName, serving)
}
