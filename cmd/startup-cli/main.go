package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"startup-inspector/internal/app"
)

// CLI 入口。所有子命令错误都统一输出到 stderr 并返回非 0 状态码。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(app.Deps{Actor: "cli"})
	if err := root.ExecuteContext(ctx); err != nil {
		printError(os.Stderr, err.Error())
		os.Exit(1)
	}
}
