package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	xerrors "CronCat-Agent/internal/errors"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want xerrors.Code
	}{
		{"quota", errors.New("execution reverted: Agent has exceeded execution for this slot"), CodeQuotaExceeded},
		{"paused", errors.New("execution reverted: Registry is paused"), CodePaused},
		{"not active", errors.New("execution reverted: Agent not active"), CodeUnauthorized},
		{"funds", errors.New("insufficient funds for gas * price + value"), CodeInsufficientFunds},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), CodeTransport},
		{"refused", errors.New("dial tcp 127.0.0.1:8545: connect: connection refused"), CodeTransport},
		{"other", errors.New("execution reverted"), CodeUnknown},
		{"coded", xerrors.New(CodePaused, ""), CodePaused},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Fatalf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyWrapsOnce(t *testing.T) {
	raw := errors.New("execution reverted: Agent has exceeded execution for this slot")
	err := Classify(raw, "proxyCall 失败")
	if !IsQuotaExceeded(err) {
		t.Fatalf("expected quota code, got %v", err)
	}
	if !errors.Is(err, raw) {
		t.Fatalf("expected cause to be preserved")
	}
	if again := Classify(err, "ignored"); again != err {
		t.Fatalf("expected classified error to pass through unchanged")
	}
	if Classify(nil, "x") != nil {
		t.Fatalf("nil should stay nil")
	}
	if xerrors.IsFatal(err) {
		t.Fatalf("ledger failures must not be fatal")
	}
}

func TestMaxExecutionsPerSlot(t *testing.T) {
	p := NetworkParameters{AgentTaskRatio: Ratio{Numerator: 5, Denominator: 2}}
	if q, ok := p.MaxExecutionsPerSlot(); !ok || q != 2 {
		t.Fatalf("expected floor(5/2)=2, got %d %v", q, ok)
	}
	p.AgentTaskRatio.Denominator = 0
	if _, ok := p.MaxExecutionsPerSlot(); ok {
		t.Fatalf("zero denominator must disable the quota")
	}
}
