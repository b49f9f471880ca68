package webapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/id"
)

// maxRetainedJobs 是内存中保留的 job 上限；超出时先淘汰最早结束的 job。
const maxRetainedJobs = 50

type jobManager struct {
	mu    sync.Mutex
	jobs  map[string]*refreshJob
	order []string // 插入顺序
	limit int
}

func newJobManager() *jobManager {
	return &jobManager{jobs: make(map[string]*refreshJob), limit: maxRetainedJobs}
}

type refreshJob struct {
	JobID      string           `json:"job_id"`
	Kind       string           `json:"kind"`
	Status     string           `json:"status"` // running|success|partial|cancelled|failed
	Categories []model.Category `json:"categories,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	FinishedAt int64            `json:"finished_at,omitempty"`

	Logs []jobLogLine `json:"logs,omitempty"`

	Report *model.RefreshReport `json:"report,omitempty"`
	Error  string               `json:"error,omitempty"`
}

type jobLogLine struct {
	Time    int64  `json:"time"`
	Message string `json:"message"`
}

func (m *jobManager) put(job *refreshJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.JobID]; !ok {
		m.order = append(m.order, job.JobID)
	}
	m.jobs[job.JobID] = job
	m.pruneLocked()
}

// pruneLocked 按插入顺序删除已结束的 job，直到数量不超过上限。运行中的 job 不删除。
func (m *jobManager) pruneLocked() {
	excess := len(m.jobs) - m.limit
	if m.limit <= 0 || excess <= 0 {
		return
	}
	kept := m.order[:0]
	for _, jobID := range m.order {
		j := m.jobs[jobID]
		if excess > 0 && j != nil && j.Status != "running" {
			delete(m.jobs, jobID)
			excess--
			continue
		}
		kept = append(kept, jobID)
	}
	m.order = kept
}

func copyJob(j *refreshJob) refreshJob {
	cpy := *j
	// 深拷贝 slice，避免后台 goroutine append 时产生 data race。
	cpy.Logs = append([]jobLogLine(nil), j.Logs...)
	cpy.Categories = append([]model.Category(nil), j.Categories...)
	return cpy
}

func (m *jobManager) getCopy(jobID string) (refreshJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j == nil {
		return refreshJob{}, false
	}
	return copyJob(j), true
}

// listCopies 按创建时间倒序返回全部 job。
func (m *jobManager) listCopies() []refreshJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]refreshJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j != nil {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt != out[k].CreatedAt {
			return out[i].CreatedAt > out[k].CreatedAt
		}
		return out[i].JobID > out[k].JobID
	})
	return out
}

type refreshRequest struct {
	Categories []string `json:"categories"`
}

// handleRefresh 启动后台刷新并立即返回 job。新的刷新会取消尚未完成的上一次。
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	cats, err := parseCategories(req.Categories)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	now := time.Now().Unix()
	job := &refreshJob{
		JobID:      id.New("job"),
		Kind:       "refresh",
		Status:     "running",
		Categories: cats,
		CreatedAt:  now,
		Logs:       []jobLogLine{{Time: now, Message: "job created"}},
	}
	s.jobs.put(job)
	resp := copyJob(job)

	done := s.engine.StartRefresh(context.Background(), cats...)
	go func() {
		res := <-done

		s.jobs.mu.Lock()
		defer s.jobs.mu.Unlock()
		job.FinishedAt = time.Now().Unix()
		rep := res.Report
		job.Report = &rep
		switch {
		case errors.Is(res.Err, context.Canceled):
			job.Status = "cancelled"
			job.Logs = append(job.Logs, jobLogLine{Time: job.FinishedAt, Message: "superseded by a newer refresh"})
		case res.Err != nil:
			job.Status = "failed"
			job.Error = res.Err.Error()
			job.Logs = append(job.Logs, jobLogLine{Time: job.FinishedAt, Message: "refresh failed: " + res.Err.Error()})
		case len(rep.Degraded()) > 0:
			job.Status = "partial"
			for _, c := range rep.Degraded() {
				job.Logs = append(job.Logs, jobLogLine{Time: job.FinishedAt, Message: fmt.Sprintf("%s: %s", c.Category, c.Status)})
			}
		default:
			job.Status = "success"
			job.Logs = append(job.Logs, jobLogLine{Time: job.FinishedAt, Message: "refresh finished"})
		}
	}()

	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/jobs/"), "/")
	if rest == "" {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobs.listCopies()})
		return
	}

	job, ok := s.jobs.getCopy(rest)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("job not found: %s", rest))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func parseCategories(in []string) ([]model.Category, error) {
	var out []model.Category
	for _, raw := range in {
		c, ok := model.ParseCategory(strings.TrimSpace(raw))
		if !ok {
			return nil, fmt.Errorf("unknown category: %s", raw)
		}
		out = append(out, c)
	}
	return out, nil
}
