package logfields

import "log/slog"

// 统一的日志字段名，避免各包各写一套。
const (
	KeyCategory   = "category"
	KeyIdentity   = "identity_key"
	KeyLabel      = "label"
	KeyPath       = "path"
	KeyMethod     = "method"
	KeyStatus     = "status"
	KeyCount      = "count"
	KeyDurationMS = "duration_ms"
	KeyCommand    = "command"
	KeyJobID      = "job_id"
	KeyError      = "error"
)

func Category(c string) slog.Attr     { return slog.String(KeyCategory, c) }
func Identity(k string) slog.Attr     { return slog.String(KeyIdentity, k) }
func Label(l string) slog.Attr        { return slog.String(KeyLabel, l) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func Method(m string) slog.Attr       { return slog.String(KeyMethod, m) }
func Status(s string) slog.Attr       { return slog.String(KeyStatus, s) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Command(c string) slog.Attr      { return slog.String(KeyCommand, c) }
func JobID(id string) slog.Attr       { return slog.String(KeyJobID, id) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
