//go:build unix

package mutator

import (
	"os"
	"syscall"
)

// fileOwnerUID 返回文件属主 uid；无法取得时 ok=false。
func fileOwnerUID(path string) (uint32, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return st.Uid, true
}
