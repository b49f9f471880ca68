package id

import (
	"github.com/google/uuid"
)

// New 生成带前缀的唯一 ID：prefix + "_" + UUIDv7。
// v7 按时间单调递增，日志与审计表中按 ID 排序即近似按时间排序。
func New(prefix string) string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	if prefix == "" {
		return u.String()
	}
	return prefix + "_" + u.String()
}
