package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "CronCat-Agent/internal/errors"
)

func TestMemoryPublishConsume(t *testing.T) {
	mem := NewMemory(4)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first := NewEvent(KindExecution, "0xagent")
	first.TxHash = "0x01"
	second := NewEvent(KindRefill, "0xagent")
	if err := mem.Publish(ctx, first); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := mem.Publish(ctx, second); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_ = mem.Close()

	var got []Event
	err := mem.Consume(ctx, func(_ context.Context, e Event) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if len(got) != 2 || got[0].ID != first.ID || got[1].Kind != KindRefill {
		t.Fatalf("unexpected events %+v", got)
	}
	if err := mem.Publish(ctx, first); err == nil {
		t.Fatalf("expected publish after close to fail")
	}
}

func TestMemoryDropsOldestWhenFull(t *testing.T) {
	mem := NewMemory(2)
	ctx := context.Background()
	for _, hash := range []string{"a", "b", "c"} {
		e := NewEvent(KindConditional, "agent")
		e.TriggerHash = hash
		if err := mem.Publish(ctx, e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	_ = mem.Close()

	var hashes []string
	_ = mem.Consume(ctx, func(_ context.Context, e Event) error {
		hashes = append(hashes, e.TriggerHash)
		return nil
	})
	if len(hashes) != 2 || hashes[0] != "b" || hashes[1] != "c" {
		t.Fatalf("expected [b c], got %v", hashes)
	}
}

func TestEncodeDecode(t *testing.T) {
	e := NewEvent(KindStatusChanged, "agent")
	e.Status = "Active"
	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back.ID != e.ID || back.Status != "Active" || !back.OccurredAt.Equal(e.OccurredAt) {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, e)
	}
	if _, err := Decode([]byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestOpenBackends(t *testing.T) {
	j, err := Open(Config{})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := j.(*Memory); !ok {
		t.Fatalf("expected memory backend, got %T", j)
	}
	if _, err := Open(Config{Backend: "kafka"}); xerrors.CodeOf(err) != xerrors.CodeConfig {
		t.Fatalf("expected config error, got %v", err)
	}
	if _, err := Open(Config{Backend: "redis"}); xerrors.CodeOf(err) != xerrors.CodeConfig {
		t.Fatalf("expected config error for missing redis address, got %v", err)
	}
	if _, err := Open(Config{Backend: "rabbitmq"}); xerrors.CodeOf(err) != xerrors.CodeConfig {
		t.Fatalf("expected config error for missing rabbitmq url, got %v", err)
	}
}

func TestDiscardConsumeHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := (Discard{}).Consume(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
