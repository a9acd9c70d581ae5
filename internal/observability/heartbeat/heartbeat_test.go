package heartbeat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestPing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		hits.Add(1)
	}))
	defer srv.Close()

	p := New(srv.URL, 0)
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one request, got %d", hits.Load())
	}
}

func TestPingStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := New(srv.URL, 0).Ping(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestNilPingerIsNoop(t *testing.T) {
	var p *Pinger = New("  ", 0)
	if p != nil {
		t.Fatal("expected nil pinger for blank url")
	}
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("nil Ping returned %v", err)
	}
}
