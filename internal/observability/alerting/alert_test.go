package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type recordingNotifier struct {
	mu      sync.Mutex
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	bad := &recordingNotifier{channel: ChannelSlack, err: errors.New("boom")}
	err := NewFanout(ok, bad, nil).Notify(context.Background(), Event{Message: "hi"})
	if err == nil {
		t.Fatalf("expected error from failing channel")
	}
	if ok.count() != 1 || bad.count() != 1 {
		t.Fatalf("expected both channels to receive the event")
	}
}

func TestAsyncDispatcherDelivers(t *testing.T) {
	rec := &recordingNotifier{channel: ChannelLog}
	async := NewAsync(NewFanout(rec), 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	async.Start(ctx)

	for i := 0; i < 3; i++ {
		if err := async.Notify(ctx, Event{Message: "tick"}); err != nil {
			t.Fatalf("Notify returned error: %v", err)
		}
	}
	async.Close()
	if rec.count() != 3 {
		t.Fatalf("expected 3 deliveries, got %d", rec.count())
	}
}

func TestAsyncDispatcherNeverBlocks(t *testing.T) {
	rec := &recordingNotifier{channel: ChannelLog}
	async := NewAsync(rec, 1)
	// 未启动投递协程，缓冲区满后 Notify 仍应立即返回。
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = async.Notify(context.Background(), Event{Message: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked")
	}
}

func TestSlackNotifierPayload(t *testing.T) {
	var got slackPayload
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewSlackNotifier(SlackConfig{Token: "T000/B000/XXX", Channel: "agents", BaseURL: srv.URL})
	err := n.Notify(context.Background(), Event{Message: "Agent is now Active", AgentID: "0xabc", Network: "testnet"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if path != "/T000/B000/XXX" {
		t.Fatalf("unexpected path %q", path)
	}
	if got.Channel != "#agents" || got.Username != "CronCat" {
		t.Fatalf("unexpected payload %+v", got)
	}
	if got.Text != "*0xabc* (testnet): Agent is now Active" {
		t.Fatalf("unexpected text %q", got.Text)
	}
}

func TestSlackNotifierRequiresToken(t *testing.T) {
	if NewSlackNotifier(SlackConfig{}) != nil {
		t.Fatalf("expected nil notifier without token")
	}
}

func TestSlackNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	n := NewSlackNotifier(SlackConfig{Token: "bad", BaseURL: srv.URL})
	if err := n.Notify(context.Background(), Event{Message: "x"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
