package webapp

import (
	"net/http"
	"time"

	"startup-inspector/internal/app"
	"startup-inspector/internal/domain/model"
)

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	schemaVersion, _ := s.store.GetSchemaMetaValue(r.Context(), "schema_version")
	schemaName, _ := s.store.GetSchemaMetaValue(r.Context(), "schema_name")
	migrations, _ := s.store.AppliedMigrations(r.Context())

	categories := []map[string]any{}
	for _, c := range s.engine.Categories() {
		categories = append(categories, map[string]any{
			"category":              c,
			"enabled_authoritative": c.EnabledAuthoritative(),
			"uses_snapshot":         c.UsesSnapshot(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().Unix(),
		"app": map[string]any{
			"version":    app.Version,
			"commit":     app.Commit,
			"build_time": app.BuildTime,
		},
		"db": map[string]any{
			"schema_version": schemaVersion,
			"schema_name":    schemaName,
			"migrations":     migrations,
			"path":           s.opts.DBPath,
		},
		"namespace":  s.engine.Namespace(),
		"masked":     s.opts.Masked,
		"categories": categories,
		"priority_kinds": map[string]any{
			string(model.PriorityLaunchOrder): []string{model.OrderFirst, model.OrderLast},
			string(model.PriorityProcessType): []string{
				model.ProcessTypeBackground, model.ProcessTypeStandard,
				model.ProcessTypeAdaptive, model.ProcessTypeInteractive,
			},
		},
	})
}
