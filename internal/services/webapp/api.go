package webapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/fault"
	"startup-inspector/internal/services/auditverify"
	"startup-inspector/internal/services/backup"
	"startup-inspector/internal/services/inventory"
	"startup-inspector/internal/services/privacy"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "webapp",
		"time":    time.Now().Unix(),
	})
}

// handleInventory 返回全部类别的当前状态与整体启动影响。
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	masked := s.masked(r)
	states := []inventory.CategoryState{}
	for _, c := range s.engine.Categories() {
		if st, ok := s.engine.Store().Category(c); ok {
			states = append(states, s.present(st, masked))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": states,
		"aggregate":  s.engine.Aggregate(),
	})
}

// handleInventoryCategory: GET /api/inventory/{category}
func (s *Server) handleInventoryCategory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/inventory/"), "/")
	c, ok := model.ParseCategory(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown category: %s", raw))
		return
	}
	st, ok := s.engine.Store().Category(c)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("category not refreshed yet: %s", c))
		return
	}
	writeJSON(w, http.StatusOK, s.present(st, s.masked(r)))
}

type itemRequest struct {
	Category    string `json:"category"`
	IdentityKey string `json:"identity_key"`
	// Kind/Value 仅用于 priority。
	Kind  string `json:"kind,omitempty"`
	Value string `json:"value,omitempty"`
}

// handleItemAction: POST /api/items/{enable|disable|remove|priority}
func (s *Server) handleItemAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/items/"), "/")

	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	c, ok := model.ParseCategory(strings.TrimSpace(req.Category))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown category: %s", req.Category))
		return
	}
	key := strings.TrimSpace(req.IdentityKey)
	if key == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("identity_key is required"))
		return
	}

	var (
		rec model.LaunchRecord
		err error
	)
	switch action {
	case "enable", "disable":
		rec, err = s.engine.SetEnabled(r.Context(), c, key, action == "enable")
	case "remove":
		err = s.engine.Remove(r.Context(), c, key)
	case "priority":
		rec, err = s.engine.SetPriority(r.Context(), c, key, model.Priority{
			Kind:  model.PriorityKind(strings.TrimSpace(req.Kind)),
			Value: strings.TrimSpace(req.Value),
		})
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", action))
		return
	}
	if err != nil {
		writeFault(w, err)
		return
	}
	if action == "remove" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	if s.masked(r) {
		rec = privacy.MaskRecords([]model.LaunchRecord{rec})[0]
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "record": rec})
}

func (s *Server) handleRefreshRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runs, err := s.store.ListRefreshRuns(r.Context(), parseInt(r.URL.Query().Get("limit"), 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	logs, err := s.store.ListAuditLogs(r.Context(), s.namespace(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": logs})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	res, err := auditverify.Verify(r.Context(), s.store, s.namespace(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleBackups: GET 列出备份，POST 以当前清单创建备份。
func (s *Server) handleBackups(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("backups not configured"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		list, err := s.backups.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if list == nil {
			list = []backup.Info{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"backups": list})
	case http.MethodPost:
		path, err := s.backups.Create(s.engine.Store().All(), backup.Options{Masked: s.masked(r)})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		exportID, err := backup.Register(r.Context(), s.store, path)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": path, "export_id": exportID})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleExports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rows, err := s.store.ListExports(r.Context(), strings.TrimSpace(r.URL.Query().Get("type")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": rows})
}

func (s *Server) masked(r *http.Request) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("masked"))) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return s.opts.Masked
	}
}

func (s *Server) namespace(r *http.Request) string {
	if ns := strings.TrimSpace(r.URL.Query().Get("namespace")); ns != "" {
		return ns
	}
	return s.engine.Namespace()
}

func (s *Server) present(st inventory.CategoryState, masked bool) inventory.CategoryState {
	if masked {
		st.Records = privacy.MaskRecords(st.Records)
	}
	if st.Records == nil {
		st.Records = []model.LaunchRecord{}
	}
	return st
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
	})
}

// writeFault 把变更失败的命令、退出码与 stderr 原样返回，方便人工重试。
func writeFault(w http.ResponseWriter, err error) {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusInternalServerError
	switch fe.Kind {
	case fault.MutationFailure:
		status = http.StatusUnprocessableEntity
	case fault.AccessDenied:
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"fault": fe,
	})
}

func parseInt(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
