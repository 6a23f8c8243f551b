package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"google.golang.org/grpc"
)

// HTTPServer matches the lifecycle methods of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPService adapts an HTTP server to suture.Service.
type HTTPService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPService(server HTTPServer, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{server: server, shutdownTimeout: shutdownTimeout}
}

func (h *HTTPService) Serve(ctx context.Context) error {
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
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }

// GRPCService serves a gRPC server on addr.
type GRPCService struct {
	server *grpc.Server
	addr   string
}

func NewGRPCService(server *grpc.Server, addr string) *GRPCService {
	return &GRPCService{server: server, addr: addr}
}

func (g *GRPCService) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", g.addr, err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- g.server.Serve(lis) }()

	select {
	case err := <-errCh:
		return fmt.Errorf("grpc server failed: %w", err)
	case <-ctx.Done():
		g.server.GracefulStop()
		<-errCh
		return ctx.Err()
	}
}

func (g *GRPCService) String() string { return "grpc-server" }

// RouterService runs a watermill router. A fresh router is built on every
// (re)start since a closed router cannot be run again.
type RouterService struct {
	build func() (*message.Router, error)
}

func NewRouterService(build func() (*message.Router, error)) *RouterService {
	return &RouterService{build: build}
}

func (r *RouterService) Serve(ctx context.Context) error {
	router, err := r.build()
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	defer func() { _ = router.Close() }()
	if err := router.Run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *RouterService) String() string { return "queue-router" }
