package webapp

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	sqliteadapter "startup-inspector/internal/adapters/store/sqlite"
	"startup-inspector/internal/services/backup"
	"startup-inspector/internal/services/inventory"
)

// Server 是 HTTP API 的运行时对象。
type Server struct {
	opts    Options
	engine  *inventory.Engine
	store   *sqliteadapter.Store
	backups *backup.Manager
	reg     *prometheus.Registry

	jobs *jobManager
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/meta", s.handleMeta)
	mux.HandleFunc("/api/inventory", s.handleInventory)
	mux.HandleFunc("/api/inventory/", s.handleInventoryCategory)
	mux.HandleFunc("/api/items/", s.handleItemAction)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/api/refresh-runs", s.handleRefreshRuns)
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)
	mux.HandleFunc("/api/audit", s.handleAudit)
	mux.HandleFunc("/api/audit/verify", s.handleAuditVerify)
	mux.HandleFunc("/api/backups", s.handleBackups)
	mux.HandleFunc("/api/exports", s.handleExports)
}
