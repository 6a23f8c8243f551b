package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
)

type fakeServer struct {
	started  chan struct{}
	stop     chan struct{}
	listen   error
	shutdown atomic.Bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}, 8), stop: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	f.started <- struct{}{}
	if f.listen != nil {
		return f.listen
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdown.Store(true)
	close(f.stop)
	return nil
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := newFakeServer()
	svc := NewHTTPService(srv, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-srv.started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !srv.shutdown.Load() {
		t.Fatal("Shutdown not called")
	}
}

func TestHTTPServiceListenError(t *testing.T) {
	srv := newFakeServer()
	srv.listen = errors.New("address in use")
	err := NewHTTPService(srv, 0).Serve(context.Background())
	if err == nil || srv.shutdown.Load() {
		t.Fatalf("expected listen error without shutdown, got %v", err)
	}
}

type flakyService struct {
	runs atomic.Int32
}

func (f *flakyService) Serve(ctx context.Context) error {
	if f.runs.Add(1) == 1 {
		panic("boom")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRestartsPanickingService(t *testing.T) {
	tree := NewTree("test", zerolog.Nop(), TreeConfig{FailureBackoff: time.Millisecond, ShutdownTimeout: time.Second})
	svc := &flakyService{}
	tree.AddMessaging(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(5 * time.Second)
	for svc.runs.Load() < 2 {
		select {
		case <-deadline:
			cancel()
			t.Fatalf("service not restarted, runs=%d", svc.runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-errCh
}

type stopService struct{}

func (stopService) Serve(context.Context) error { return suture.ErrTerminateSupervisorTree }

func TestServeStopsCleanly(t *testing.T) {
	tree := NewTree("test", zerolog.Nop(), TreeConfig{FailureBackoff: time.Millisecond, ShutdownTimeout: time.Second})
	tree.AddAPI(&flakyService{})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)
	cancel()
	select {
	case err := <-errCh:
		if !IsShutdown(err) {
			t.Fatalf("cancelled tree returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}

	tree = NewTree("test", zerolog.Nop(), TreeConfig{FailureBackoff: time.Millisecond, ShutdownTimeout: time.Second})
	tree.AddMessaging(stopService{})
	select {
	case err := <-tree.ServeBackground(context.Background()):
		if !IsShutdown(err) {
			t.Fatalf("terminated tree returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not terminate")
	}

	if IsShutdown(errors.New("listen tcp :80: bind: permission denied")) {
		t.Fatal("real failure reported as shutdown")
	}
}
