package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"startup-inspector/internal/adapters/host"
	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/metrics"
	"startup-inspector/internal/platform/clock"
	"startup-inspector/internal/platform/fault"
	"startup-inspector/internal/platform/hash"
	"startup-inspector/internal/platform/id"
	"startup-inspector/internal/platform/logfields"
	"startup-inspector/internal/services/impact"
	"startup-inspector/internal/services/reconcile"
)

// DefaultFetchTimeout 是单个类别读取的上限。
const DefaultFetchTimeout = 30 * time.Second

// Persistence 是引擎需要的持久化能力（由 sqlite.Store 实现）。
type Persistence interface {
	LoadSnapshot(ctx context.Context, namespace string) ([]model.SnapshotEntry, error)
	SaveSnapshot(ctx context.Context, namespace string, entries []model.SnapshotEntry) error
	DeleteSnapshot(ctx context.Context, namespace string) error
	AppendAudit(ctx context.Context, namespace, eventType, action, status, actor, category string, detail any) error
	SaveRefreshRuns(ctx context.Context, runs []model.CategoryRefresh) error
}

// Mutator 在系统层面启停、删除或调整自启动项。
type Mutator interface {
	SetEnabled(ctx context.Context, rec model.LaunchRecord, enabled bool) error
	Remove(ctx context.Context, rec model.LaunchRecord) error
	SetPriority(ctx context.Context, rec model.LaunchRecord, p model.Priority) error
}

// Invalidator 由 LoadStateCache 实现，变更后清空已加载集合。
type Invalidator interface {
	Invalidate()
}

// Options 配置引擎。
type Options struct {
	Namespace    string
	FetchTimeout time.Duration
	Actor        string
	Logger       *slog.Logger
	Recorder     metrics.Recorder
	Clock        clock.Clock
	LoadState    Invalidator
}

// Engine 协调读取、合并、计分与提交。
//
// 同一类别的刷新与变更共用一把锁：并发的刷新请求排队执行，
// 变更不会与读取同一快照的合并交错。
type Engine struct {
	sources map[model.Category]host.Source
	store   *Store
	persist Persistence
	mutator Mutator
	opts    Options

	locks map[model.Category]*sync.Mutex

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
}

func NewEngine(sources []host.Source, store *Store, persist Persistence, mutator Mutator, opts Options) *Engine {
	if opts.Namespace == "" {
		opts.Namespace = "startup-inspector"
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.Actor == "" {
		opts.Actor = "system"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if store == nil {
		store = NewStore()
	}

	e := &Engine{
		sources: make(map[model.Category]host.Source, len(sources)),
		store:   store,
		persist: persist,
		mutator: mutator,
		opts:    opts,
		locks:   make(map[model.Category]*sync.Mutex),
	}
	for _, s := range sources {
		e.sources[s.Category()] = s
	}
	for _, c := range model.AllCategories() {
		e.locks[c] = &sync.Mutex{}
	}
	return e
}

// Store 返回引擎持有的清单。
func (e *Engine) Store() *Store { return e.store }

// Categories 返回已配置来源的类别（固定顺序）。
func (e *Engine) Categories() []model.Category {
	var out []model.Category
	for _, c := range model.AllCategories() {
		if _, ok := e.sources[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Namespace 返回审计与快照所在的命名空间。
func (e *Engine) Namespace() string { return e.opts.Namespace }

// SnapshotNamespace 返回类别快照的命名空间。
func (e *Engine) SnapshotNamespace(c model.Category) string {
	return e.opts.Namespace + "/" + string(c)
}

// Aggregate 基于当前清单计算整体启动影响。
func (e *Engine) Aggregate() model.AggregateImpact {
	return impact.Aggregate(e.store.All())
}

// Refresh 并发刷新指定类别（为空时刷新全部）。
// ctx 被取消时，尚未提交的类别结果全部丢弃，并返回 ctx 的错误。
func (e *Engine) Refresh(ctx context.Context, categories ...model.Category) (model.RefreshReport, error) {
	if len(categories) == 0 {
		categories = e.Categories()
	}
	for _, c := range categories {
		if _, ok := e.sources[c]; !ok {
			return model.RefreshReport{}, fmt.Errorf("no source configured for category %q", c)
		}
	}

	report := model.RefreshReport{
		RunID:      id.New("run"),
		Categories: make([]model.CategoryRefresh, len(categories)),
		StartedAt:  e.opts.Clock.Now().Unix(),
	}

	var g errgroup.Group
	for i, c := range categories {
		i, c := i, c
		g.Go(func() error {
			lock := e.locks[c]
			lock.Lock()
			defer lock.Unlock()
			report.Categories[i] = e.refreshLocked(ctx, c, report.RunID)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = e.opts.Clock.Now().Unix()
	report.Aggregate = e.Aggregate()
	e.recordRun(ctx, report)

	return report, ctx.Err()
}

// RefreshResult 是后台刷新的结果。
type RefreshResult struct {
	Report model.RefreshReport
	Err    error
}

// StartRefresh 在后台刷新，并取消上一次尚未结束的后台刷新（其结果不会提交）。
func (e *Engine) StartRefresh(parent context.Context, categories ...model.Category) <-chan RefreshResult {
	ctx, cancel := context.WithCancel(parent)

	e.bgMu.Lock()
	if e.bgCancel != nil {
		e.bgCancel()
	}
	e.bgCancel = cancel
	e.bgMu.Unlock()

	done := make(chan RefreshResult, 1)
	go func() {
		defer cancel()
		rep, err := e.Refresh(ctx, categories...)
		done <- RefreshResult{Report: rep, Err: err}
	}()
	return done
}

// refreshLocked 在已持有类别锁时执行一次读取与提交。
func (e *Engine) refreshLocked(ctx context.Context, c model.Category, runID string) model.CategoryRefresh {
	start := time.Now()
	out := model.CategoryRefresh{RunID: runID, Category: c, StartedAt: e.opts.Clock.Now().Unix()}
	log := e.opts.Logger.With(logfields.Category(string(c)))
	defer func() {
		out.FinishedAt = e.opts.Clock.Now().Unix()
		e.opts.Recorder.ObserveRefreshDuration(string(c), time.Since(start))
	}()

	if err := ctx.Err(); err != nil {
		return e.discard(out, err)
	}

	fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	res := e.sources[c].Read(fctx)
	fetchErr := fctx.Err()
	cancel()

	out.Status = res.Status
	out.Method = res.Method
	out.Diagnostics = res.Diagnostics
	e.opts.Recorder.IncSourceStatus(string(c), string(res.Status), res.Method)

	if err := ctx.Err(); err != nil {
		return e.discard(out, err)
	}
	if fetchErr != nil {
		// 超时的读取可能只完成了一部分，保留上一轮结果。
		log.Warn("category fetch timed out, keeping previous state", logfields.Error(fetchErr))
		out.Status = model.SourceDegraded
		out.Error = "fetch timed out after " + e.opts.FetchTimeout.String()
		return out
	}

	prior := e.store.Records(c)
	var (
		snap    []model.SnapshotEntry
		snapErr error
	)
	if c.UsesSnapshot() && e.persist != nil {
		snap, snapErr = e.persist.LoadSnapshot(ctx, e.SnapshotNamespace(c))
	}

	merged := reconcile.Reconcile(prior, snap, snapErr, res)
	records := impact.Annotate(merged.Records)
	diags := append(append([]model.Diagnostic(nil), res.Diagnostics...), merged.Diagnostics...)

	if err := ctx.Err(); err != nil {
		return e.discard(out, err)
	}
	if merged.PersistSnapshot && e.persist != nil {
		if err := e.persist.SaveSnapshot(ctx, e.SnapshotNamespace(c), merged.Snapshot); err != nil {
			log.Warn("snapshot write failed", logfields.Error(err))
			diags = append(diags, model.Diagnostic{Category: c, Kind: model.DiagSnapshot, Message: err.Error()})
		}
	}
	if err := ctx.Err(); err != nil {
		return e.discard(out, err)
	}

	e.store.Replace(CategoryState{
		Category:    c,
		Records:     records,
		Status:      res.Status,
		Method:      res.Method,
		Diagnostics: diags,
		UpdatedAt:   e.opts.Clock.Now(),
	})
	e.opts.Recorder.SetRecordCount(string(c), len(records))

	out.Diagnostics = diags
	out.RecordCount = len(records)
	out.Fingerprint = hash.JSON(records)
	out.Committed = true

	log.Info("category refreshed",
		logfields.Status(string(res.Status)),
		logfields.Method(res.Method),
		logfields.Count(len(records)),
		logfields.DurationMS(float64(time.Since(start).Microseconds())/1000),
	)
	return out
}

func (e *Engine) discard(out model.CategoryRefresh, err error) model.CategoryRefresh {
	e.opts.Logger.Info("refresh abandoned, results discarded", logfields.Category(string(out.Category)), logfields.Error(err))
	e.opts.Recorder.IncDiscardedRefresh(string(out.Category))
	out.Committed = false
	out.Error = err.Error()
	return out
}

// recordRun 持久化刷新记录与审计事件。被取消的刷新同样留痕。
func (e *Engine) recordRun(ctx context.Context, rep model.RefreshReport) {
	if e.persist == nil {
		return
	}
	// 即使刷新被取消也要留下记录。
	wctx := context.WithoutCancel(ctx)
	if err := e.persist.SaveRefreshRuns(wctx, rep.Categories); err != nil {
		e.opts.Logger.Warn("save refresh runs failed", logfields.Error(err))
	}

	status := "success"
	if len(rep.Degraded()) > 0 {
		status = "partial"
	}
	cats := make([]map[string]any, 0, len(rep.Categories))
	for _, c := range rep.Categories {
		cats = append(cats, map[string]any{
			"category":  c.Category,
			"status":    c.Status,
			"method":    c.Method,
			"records":   c.RecordCount,
			"committed": c.Committed,
		})
	}
	if err := e.persist.AppendAudit(wctx, e.opts.Namespace, "refresh", "refresh", status, e.opts.Actor, "", map[string]any{
		"run_id":     rep.RunID,
		"categories": cats,
	}); err != nil {
		e.opts.Logger.Warn("append refresh audit failed", logfields.Error(err))
	}
}

// SetEnabled 启用或停用一个自启动项，然后重新读取该类别。
func (e *Engine) SetEnabled(ctx context.Context, c model.Category, identityKey string, enabled bool) (model.LaunchRecord, error) {
	action := "disable"
	if enabled {
		action = "enable"
	}
	return e.mutate(ctx, c, identityKey, action, func(rec model.LaunchRecord) error {
		if err := e.mutator.SetEnabled(ctx, rec, enabled); err != nil {
			return err
		}
		return e.updateSnapshot(ctx, c, rec, func(entries []model.SnapshotEntry) []model.SnapshotEntry {
			found := false
			for i := range entries {
				if entries[i].IdentityKey == rec.IdentityKey {
					entries[i].Enabled = enabled
					found = true
				}
			}
			if !found {
				en := model.SnapshotEntryFromRecord(rec)
				en.Enabled = enabled
				entries = append(entries, en)
			}
			return entries
		})
	})
}

// Remove 删除一个自启动项。对维护快照的类别同时删除快照条目（显式的用户操作）。
func (e *Engine) Remove(ctx context.Context, c model.Category, identityKey string) error {
	_, err := e.mutate(ctx, c, identityKey, "remove", func(rec model.LaunchRecord) error {
		if err := e.mutator.Remove(ctx, rec); err != nil {
			return err
		}
		return e.updateSnapshot(ctx, c, rec, func(entries []model.SnapshotEntry) []model.SnapshotEntry {
			out := entries[:0]
			for _, en := range entries {
				if en.IdentityKey != rec.IdentityKey {
					out = append(out, en)
				}
			}
			return out
		})
	})
	return err
}

// SetPriority 调整启动顺序（登录项）或进程类型（代理/守护进程），两者互不通用。
func (e *Engine) SetPriority(ctx context.Context, c model.Category, identityKey string, p model.Priority) (model.LaunchRecord, error) {
	if !p.AppliesTo(c) {
		return model.LaunchRecord{}, fault.New(fault.MutationFailure, "set priority",
			fmt.Sprintf("priority kind %q does not apply to %s", p.Kind, c))
	}
	if !p.ValidValue() {
		return model.LaunchRecord{}, fault.New(fault.MutationFailure, "set priority",
			fmt.Sprintf("invalid value %q for priority kind %q", p.Value, p.Kind))
	}
	return e.mutate(ctx, c, identityKey, "set_priority", func(rec model.LaunchRecord) error {
		return e.mutator.SetPriority(ctx, rec, p)
	})
}

// ClearSnapshot 删除类别快照并重新读取。
func (e *Engine) ClearSnapshot(ctx context.Context, c model.Category) error {
	if !c.UsesSnapshot() {
		return fmt.Errorf("category %s keeps no snapshot", c)
	}
	if e.persist == nil {
		return errors.New("no persistence configured")
	}
	lock := e.locks[c]
	lock.Lock()
	defer lock.Unlock()

	err := e.persist.DeleteSnapshot(ctx, e.SnapshotNamespace(c))
	e.audit(ctx, "snapshot", "clear", c, "", err)
	if err != nil {
		return err
	}
	if _, ok := e.sources[c]; ok {
		e.refreshAndRecord(ctx, c)
	}
	return nil
}

// mutate 在类别锁内执行变更，成功后清空加载状态缓存并重新读取该类别。
func (e *Engine) mutate(ctx context.Context, c model.Category, identityKey, action string, apply func(model.LaunchRecord) error) (model.LaunchRecord, error) {
	if e.mutator == nil {
		return model.LaunchRecord{}, fault.New(fault.MutationFailure, action, "no mutator configured")
	}
	if _, ok := e.sources[c]; !ok {
		return model.LaunchRecord{}, fmt.Errorf("no source configured for category %q", c)
	}

	lock := e.locks[c]
	lock.Lock()
	defer lock.Unlock()

	rec, ok := e.store.Lookup(c, identityKey)
	if !ok {
		return model.LaunchRecord{}, fault.New(fault.MutationFailure, action, "record not found").
			WithContext("category", string(c)).
			WithContext("identity_key", identityKey)
	}

	err := apply(rec)
	e.opts.Recorder.IncMutation(action, err == nil)
	e.audit(ctx, "mutation", action, c, identityKey, err)
	if err != nil {
		e.opts.Logger.Warn("mutation failed",
			logfields.Category(string(c)), logfields.Identity(identityKey), logfields.Error(err))
		return rec, err
	}

	if e.opts.LoadState != nil {
		e.opts.LoadState.Invalidate()
	}
	e.refreshAndRecord(ctx, c)

	// 删除或停用后记录可能已不在清单中，此时返回变更前的记录。
	if updated, ok := e.store.Lookup(c, identityKey); ok {
		return updated, nil
	}
	return rec, nil
}

func (e *Engine) refreshAndRecord(ctx context.Context, c model.Category) {
	runID := id.New("run")
	started := e.opts.Clock.Now().Unix()
	cr := e.refreshLocked(ctx, c, runID)
	if e.persist != nil {
		e.recordRun(ctx, model.RefreshReport{
			RunID:      runID,
			Categories: []model.CategoryRefresh{cr},
			StartedAt:  started,
			FinishedAt: e.opts.Clock.Now().Unix(),
		})
	}
}

// updateSnapshot 在变更成功后同步快照，保证下一次合并看到用户的显式选择。
func (e *Engine) updateSnapshot(ctx context.Context, c model.Category, rec model.LaunchRecord, fn func([]model.SnapshotEntry) []model.SnapshotEntry) error {
	if !c.UsesSnapshot() || e.persist == nil {
		return nil
	}
	ns := e.SnapshotNamespace(c)
	entries, err := e.persist.LoadSnapshot(ctx, ns)
	if err != nil {
		// 快照损坏：以当前清单重建。
		e.opts.Logger.Warn("snapshot unreadable, rebuilding from inventory", logfields.Error(err))
		entries = nil
		for _, r := range e.store.Records(c) {
			entries = append(entries, model.SnapshotEntryFromRecord(r))
		}
	}
	if err := e.persist.SaveSnapshot(ctx, ns, fn(entries)); err != nil {
		return fmt.Errorf("update snapshot after mutation of %s: %w", rec.IdentityKey, err)
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, eventType, action string, c model.Category, identityKey string, err error) {
	if e.persist == nil {
		return
	}
	status := "success"
	detail := map[string]any{"identity_key": identityKey}
	if err != nil {
		status = "failed"
		detail["error"] = err.Error()
	}
	if aerr := e.persist.AppendAudit(context.WithoutCancel(ctx), e.opts.Namespace, eventType, action, status, e.opts.Actor, string(c), detail); aerr != nil {
		e.opts.Logger.Warn("append audit failed", logfields.Error(aerr))
	}
}
