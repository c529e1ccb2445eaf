package httpserver

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNew_Defaults(t *testing.T) {
	s := New(Options{Addr: ":0"})
	if s.HTTP.Handler == nil {
		t.Fatal("expected a default router")
	}
	if s.HTTP.WriteTimeout != defaultWriteTimeout {
		t.Fatalf("WriteTimeout = %v", s.HTTP.WriteTimeout)
	}
	if s.HTTP.MaxHeaderBytes != maxHeaderBytes {
		t.Fatalf("MaxHeaderBytes = %d", s.HTTP.MaxHeaderBytes)
	}
	if s.HTTP.ErrorLog == nil {
		t.Fatal("expected error log routed to zap")
	}
}

func TestNew_WriteTimeoutOverride(t *testing.T) {
	s := New(Options{Addr: ":0", WriteTimeout: 12 * time.Second})
	if s.HTTP.WriteTimeout != 12*time.Second {
		t.Fatalf("WriteTimeout = %v", s.HTTP.WriteTimeout)
	}
}

func TestStart_ReturnsNilAfterShutdown(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0", ServiceName: "comments"})
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
}
