package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"
)

// HTTPServer matches the *http.Server lifecycle methods.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server under supervision.
type HTTPServerService struct {
	name            string
	server          HTTPServer
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps server. ShutdownTimeout defaults to 10s.
func NewHTTPServerService(name string, server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{name: name, server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s failed: %w", h.name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown: %w", h.name, err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string { return h.name }

// GRPCServer matches the api.Server lifecycle methods.
type GRPCServer interface {
	Start() error
	Shutdown(ctx context.Context) error
	SetServing(serving bool)
}

// GRPCServerService runs the gRPC health server and reports the engine as serving while up.
type GRPCServerService struct {
	server          GRPCServer
	shutdownTimeout time.Duration
}

// NewGRPCServerService wraps server. ShutdownTimeout defaults to 10s.
func NewGRPCServerService(server GRPCServer, shutdownTimeout time.Duration) *GRPCServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &GRPCServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve implements suture.Service. A stopped gRPC server cannot serve again, so an
// unexpected exit is reported as suture.ErrDoNotRestart.
func (g *GRPCServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.server.Start()
	}()
	g.server.SetServing(true)

	select {
	case err := <-errCh:
		g.server.SetServing(false)
		if err != nil {
			return fmt.Errorf("grpc server failed: %w: %w", err, suture.ErrDoNotRestart)
		}
		return suture.ErrDoNotRestart
	case <-ctx.Done():
		g.server.SetServing(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout)
		defer cancel()
		_ = g.server.Shutdown(shutdownCtx)
		<-errCh
		return ctx.Err()
	}
}

func (g *GRPCServerService) String() string { return "grpc-server" }
