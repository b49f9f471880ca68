package execx

import (
	"context"
	"strings"
	"sync"

	"startup-inspector/internal/platform/fault"
)

// FakeRunner 按“命令行字符串”返回预置输出，用于测试与离线演示。
// 未预置的命令按工具缺失处理。
type FakeRunner struct {
	mu      sync.Mutex
	outputs map[string]fakeReply
	calls   []string
}

type fakeReply struct {
	out []byte
	err error
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{outputs: make(map[string]fakeReply)}
}

// Set 预置一条命令的输出。key 为 name 与 args 以空格拼接的结果。
func (f *FakeRunner) Set(cmdline string, out string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[cmdline] = fakeReply{out: []byte(out), err: err}
}

// SetExit 预置一条以非 0 退出码失败的命令。
func (f *FakeRunner) SetExit(cmdline string, code int, stderr string) {
	parts := strings.Fields(cmdline)
	f.Set(cmdline, "", &fault.Error{
		Kind:     fault.ExternalToolFailure,
		Op:       "exec " + parts[0],
		Message:  "non-zero exit",
		Command:  parts,
		ExitCode: code,
		Stderr:   stderr,
	})
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	key := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.calls = append(f.calls, key)
	reply, ok := f.outputs[key]
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fault.Wrap(err, fault.ExternalToolFailure, "exec "+name)
	}
	if !ok {
		return nil, &fault.Error{
			Kind:     fault.ExternalToolFailure,
			Op:       "exec " + name,
			Message:  "tool not found",
			Command:  append([]string{name}, args...),
			ExitCode: -1,
		}
	}
	return reply.out, reply.err
}

// Calls 返回已执行命令的副本。
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount 统计某条命令被执行的次数。
func (f *FakeRunner) CallCount(cmdline string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == cmdline {
			n++
		}
	}
	return n
}
