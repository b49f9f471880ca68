// Package execx 封装外部命令执行（launchctl / osascript / sfltool）。
// 所有调用都带超时，失败统一转换为 external_tool_failure。
package execx

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"startup-inspector/internal/platform/fault"
)

// Runner 执行一条外部命令并返回 stdout。
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner 基于 os/exec 的实现。
type ExecRunner struct {
	// Timeout 为单条命令的上限；<=0 时只受调用方 ctx 约束。
	Timeout time.Duration
}

func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	// 进程被 kill 后子进程可能仍持有管道，限定等待时间。
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err == nil {
		return out, nil
	}

	fe := &fault.Error{
		Kind:     fault.ExternalToolFailure,
		Op:       "exec " + name,
		Command:  append([]string{name}, args...),
		ExitCode: -1,
		Stderr:   strings.TrimSpace(stderr.String()),
		Cause:    err,
	}
	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		fe.Message = "timed out or cancelled"
		fe.Cause = ctx.Err()
	case errors.Is(err, exec.ErrNotFound):
		fe.Message = "tool not found"
	case errors.As(err, &exitErr):
		fe.ExitCode = exitErr.ExitCode()
		fe.Message = "non-zero exit"
	}
	return out, fe
}
