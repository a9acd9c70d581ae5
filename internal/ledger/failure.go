package ledger

import (
	"context"
	stdErrors "errors"
	"net"
	"strings"

	xerrors "CronCat-Agent/internal/errors"
)

// 合约层失败种类的封闭集合。无法识别的失败一律归为 CodeUnknown，且不致命。
const (
	CodeQuotaExceeded     xerrors.Code = "LEDGER_QUOTA_EXCEEDED"
	CodePaused            xerrors.Code = "LEDGER_PAUSED"
	CodeUnauthorized      xerrors.Code = "LEDGER_UNAUTHORIZED"
	CodeInsufficientFunds xerrors.Code = "LEDGER_INSUFFICIENT_FUNDS"
	CodeKeyNotFound       xerrors.Code = "LEDGER_KEY_NOT_FOUND"
	CodeTransport         xerrors.Code = "LEDGER_TRANSPORT"
	CodeUnknown           xerrors.Code = "LEDGER_UNKNOWN"
)

func init() {
	xerrors.Register(CodeQuotaExceeded, xerrors.Attributes{
		Message:   "agent has exceeded execution for this slot",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
	xerrors.Register(CodePaused, xerrors.Attributes{
		Message:   "registry is paused",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
	xerrors.Register(CodeUnauthorized, xerrors.Attributes{
		Message:   "agent is not authorized",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeInsufficientFunds, xerrors.Attributes{
		Message:   "insufficient funds for transaction",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeKeyNotFound, xerrors.Attributes{
		Message:  "signing key not found",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
	xerrors.Register(CodeTransport, xerrors.Attributes{
		Message:   "ledger transport failure",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeUnknown, xerrors.Attributes{
		Message:   "ledger call failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// reasonCodes 把合约 revert 信息中的关键短语映射到失败种类，按顺序匹配。
var reasonCodes = []struct {
	phrase string
	code   xerrors.Code
}{
	{"exceeded execution for this slot", CodeQuotaExceeded},
	{"insufficient funds", CodeInsufficientFunds},
	{"paused", CodePaused},
	{"not registered", CodeUnauthorized},
	{"not active", CodeUnauthorized},
	{"unauthorized", CodeUnauthorized},
	{"no key", CodeKeyNotFound},
	{"key not found", CodeKeyNotFound},
}

// Classify 把实现层的原始错误包装为带失败种类的统一错误。
// 已经是统一错误的 err 原样返回。
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(KindOf(err), err, message)
}

// KindOf 只根据错误内容推断失败种类，不做包装。
func KindOf(err error) xerrors.Code {
	if err == nil {
		return CodeUnknown
	}
	if e, ok := xerrors.From(err); ok {
		return e.Code()
	}
	text := strings.ToLower(err.Error())
	for _, rc := range reasonCodes {
		if strings.Contains(text, rc.phrase) {
			return rc.code
		}
	}
	var netErr net.Error
	if stdErrors.As(err, &netErr) || stdErrors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(text, "connection refused") || strings.Contains(text, "eof") {
		return CodeTransport
	}
	return CodeUnknown
}

// IsQuotaExceeded 判断 err 是否为 slot 配额已用尽。
func IsQuotaExceeded(err error) bool {
	return xerrors.CodeOf(err) == CodeQuotaExceeded
}
