// Package fault 定义自启动清单引擎的结构化错误分类。
//
// 四类错误的传播策略不同：
// - access_denied：来源存在但无权读取，必须与“没有条目”区分开
// - malformed_record：单条声明解析/校验失败，丢弃并记录诊断
// - external_tool_failure：外部命令缺失、超时或非 0 退出，来源切换到次要读取方式
// - mutation_failure：启停/删除/优先级调整失败，原样返回给调用方
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 是错误分类。
type Kind string

const (
	AccessDenied        Kind = "access_denied"
	MalformedRecord     Kind = "malformed_record"
	ExternalToolFailure Kind = "external_tool_failure"
	MutationFailure     Kind = "mutation_failure"
)

// Error 携带足够的上下文（命令、退出码、路径），方便人工重试。
type Error struct {
	Kind     Kind           `json:"kind"`
	Op       string         `json:"op"`
	Message  string         `json:"message,omitempty"`
	Path     string         `json:"path,omitempty"`
	Command  []string       `json:"command,omitempty"`
	ExitCode int            `json:"exit_code,omitempty"`
	Stderr   string         `json:"stderr,omitempty"`
	Cause    error          `json:"-"`
	Context  map[string]any `json:"context,omitempty"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Command) > 0 {
		fmt.Fprintf(&b, " (command=%q exit=%d)", strings.Join(e.Command, " "), e.ExitCode)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " path=%s", e.Path)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, " stderr=%q", s)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// WithContext 追加结构化上下文。
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithPath 设置关联路径。
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// New 创建一个不包装底层错误的分类错误。
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap 包装底层错误。
func Wrap(err error, kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op, Cause: err}
}

// Mutation 把一次失败的外部调用转换为 mutation_failure，保留命令与退出码。
func Mutation(err error, op, path string) *Error {
	out := &Error{Kind: MutationFailure, Op: op, Path: path, Cause: err}
	var fe *Error
	if errors.As(err, &fe) {
		out.Command = fe.Command
		out.ExitCode = fe.ExitCode
		out.Stderr = fe.Stderr
		out.Cause = fe.Cause
		if out.Cause == nil && fe.Message != "" {
			out.Message = fe.Message
		}
	}
	return out
}

// KindOf 返回错误链中第一个分类错误的类别；没有则返回空串。
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is 判断错误链中是否包含指定类别。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
