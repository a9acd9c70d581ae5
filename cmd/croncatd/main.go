package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"CronCat-Agent/internal/agent"
	xerrors "CronCat-Agent/internal/errors"
	"CronCat-Agent/pkg/logger"
)

// main 是 croncatd 的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	_ = logger.Sync()
	os.Exit(report(os.Stderr, err))
}

// report 把命令结果写到 w 并返回进程退出码。
// 未注册属于正常结束，只打印提示。
func report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	if xerrors.CodeOf(err) == agent.CodeNotRegistered {
		if hint := xerrors.RemediationOf(err); hint != "" {
			fmt.Fprintln(w, hint)
		} else {
			fmt.Fprintln(w, err)
		}
		return 0
	}
	fmt.Fprintf(w, "croncatd: %v\n", err)
	if hint := xerrors.RemediationOf(err); hint != "" {
		fmt.Fprintf(w, "\n%s\n", hint)
	}
	return 1
}
