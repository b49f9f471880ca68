// Package auditverify 重算审计链，定位被篡改或断链的记录。
package auditverify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/hash"
)

// FailureItem 是一条校验失败的记录。
type FailureItem struct {
	Index int `json:"index"`

	EventID    string `json:"event_id"`
	OccurredAt int64  `json:"occurred_at"`
	EventType  string `json:"event_type"`
	Action     string `json:"action"`
	Status     string `json:"status"`

	PrevHashMismatch bool   `json:"prev_hash_mismatch"`
	ExpectedPrevHash string `json:"expected_prev_hash,omitempty"`
	ActualPrevHash   string `json:"actual_prev_hash,omitempty"`

	ChainHashMismatch bool   `json:"chain_hash_mismatch"`
	ExpectedChainHash string `json:"expected_chain_hash,omitempty"`
	ActualChainHash   string `json:"actual_chain_hash,omitempty"`

	Message string `json:"message,omitempty"`
}

// Result 是一个命名空间的审计链校验结果。
type Result struct {
	Namespace string `json:"namespace"`
	OK        bool   `json:"ok"`
	Total     int    `json:"total"`

	Failed          int `json:"failed"`
	PrevHashFailed  int `json:"prev_hash_failed"`
	ChainHashFailed int `json:"chain_hash_failed"`

	LastChainHash string `json:"last_chain_hash,omitempty"`

	Failures []FailureItem `json:"failures"`
}

// Lister 按时间正序返回一个命名空间的审计记录。
type Lister interface {
	ListAuditLogs(ctx context.Context, namespace string) ([]model.AuditLog, error)
}

// Verify 读取并校验一个命名空间的审计链。
func Verify(ctx context.Context, l Lister, namespace string) (Result, error) {
	logs, err := l.ListAuditLogs(ctx, namespace)
	if err != nil {
		return Result{}, fmt.Errorf("list audit logs: %w", err)
	}
	res := VerifyAuditLogs(logs)
	res.Namespace = namespace
	return res, nil
}

// VerifyAuditLogs 校验 chain_prev_hash 的连续性，并按写入公式重算 chain_hash。
// 公式必须与 Store.AppendAudit 一致。
func VerifyAuditLogs(logs []model.AuditLog) Result {
	res := Result{OK: true, Total: len(logs), Failures: []FailureItem{}}

	prev := ""
	for i, it := range logs {
		expectedPrev := prev
		actualPrev := strings.TrimSpace(it.ChainPrevHash)

		// 导出文件可能被美化缩进，先 compact 再参与计算。
		expectedChain := hash.Text(
			expectedPrev,
			it.Namespace,
			it.EventType,
			it.Action,
			it.Status,
			fmt.Sprintf("%d", it.OccurredAt),
			compactJSON(it.DetailJSON),
		)
		actualChain := strings.TrimSpace(it.ChainHash)

		prevMismatch := actualPrev != expectedPrev
		chainMismatch := actualChain != expectedChain

		if prevMismatch || chainMismatch {
			res.OK = false
			res.Failed++
			msg := "chain_hash mismatch"
			switch {
			case prevMismatch && chainMismatch:
				msg = "chain_prev_hash and chain_hash mismatch"
				res.PrevHashFailed++
				res.ChainHashFailed++
			case prevMismatch:
				msg = "chain_prev_hash mismatch"
				res.PrevHashFailed++
			default:
				res.ChainHashFailed++
			}
			res.Failures = append(res.Failures, FailureItem{
				Index:      i,
				EventID:    it.EventID,
				OccurredAt: it.OccurredAt,
				EventType:  it.EventType,
				Action:     it.Action,
				Status:     it.Status,

				PrevHashMismatch: prevMismatch,
				ExpectedPrevHash: expectedPrev,
				ActualPrevHash:   actualPrev,

				ChainHashMismatch: chainMismatch,
				ExpectedChainHash: expectedChain,
				ActualChainHash:   actualChain,

				Message: msg,
			})
		}

		// 以库中的 chain_hash 推进，断链之后的记录仍能继续定位。
		prev = actualChain
		res.LastChainHash = actualChain
	}
	return res
}

func compactJSON(in []byte) string {
	if len(bytes.TrimSpace(in)) == 0 {
		return "{}"
	}
	var b bytes.Buffer
	if err := json.Compact(&b, in); err == nil {
		return b.String()
	}
	return strings.TrimSpace(string(in))
}
