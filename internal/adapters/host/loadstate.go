package host

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"startup-inspector/internal/platform/clock"
	"startup-inspector/internal/platform/execx"
	"startup-inspector/internal/platform/logfields"
)

// LoadStateTTL 是已加载服务集合的过期窗口，整张表一起失效。
const LoadStateTTL = 5 * time.Second

// loadStateFetchTimeout 限制共享查询的耗时，与任一调用方的取消无关。
const loadStateFetchTimeout = 15 * time.Second

// LoadedSet 是某一时刻已加载 Label 的只读集合。
type LoadedSet struct {
	labels    map[string]struct{}
	FetchedAt time.Time
	Err       error
}

// Contains 判断 label 是否在已加载集合中。
func (s LoadedSet) Contains(label string) bool {
	_, ok := s.labels[label]
	return ok
}

// Len 返回集合大小。
func (s LoadedSet) Len() int { return len(s.labels) }

// LoadStateCache 缓存 `launchctl list` 的结果。
//
// 刷新失败时得到空集合（可能漏报已加载，但不会误报），并同样记录 fetchedAt，
// 避免在过期窗口内对每个文件反复调用外部命令。因超时或取消导致的失败不缓存。
type LoadStateCache struct {
	runner execx.Runner
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger
	onLoad func(d time.Duration, ok bool)

	mu      sync.RWMutex
	current LoadedSet
	fetched bool

	group singleflight.Group
}

func NewLoadStateCache(runner execx.Runner, clk clock.Clock, logger *slog.Logger) *LoadStateCache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadStateCache{runner: runner, clock: clk, ttl: LoadStateTTL, logger: logger}
}

// OnRefresh 注册刷新回调（用于指标）。
func (c *LoadStateCache) OnRefresh(fn func(d time.Duration, ok bool)) {
	c.onLoad = fn
}

// IsLoaded 判断 label 当前是否已加载，必要时整体刷新缓存。
func (c *LoadStateCache) IsLoaded(ctx context.Context, label string) bool {
	return c.Loaded(ctx).Contains(label)
}

// Loaded 返回一份一致的已加载集合。一次读取流程应只调用一次，
// 之后用返回的集合逐条判断，保证每轮最多刷新一次。
func (c *LoadStateCache) Loaded(ctx context.Context) LoadedSet {
	c.mu.RLock()
	if c.fetched && c.clock.Now().Sub(c.current.FetchedAt) <= c.ttl {
		cur := c.current
		c.mu.RUnlock()
		return cur
	}
	c.mu.RUnlock()

	// 并发的读取流程共享同一次外部查询。查询不继承调用方的取消，
	// 否则一个被放弃的刷新会把失败结果交给所有共享者。
	v, _, _ := c.group.Do("launchctl-list", func() (any, error) {
		c.mu.RLock()
		if c.fetched && c.clock.Now().Sub(c.current.FetchedAt) <= c.ttl {
			cur := c.current
			c.mu.RUnlock()
			return cur, nil
		}
		c.mu.RUnlock()

		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadStateFetchTimeout)
		defer cancel()
		set := c.fetch(fctx)
		if isContextFailure(set.Err) {
			return set, nil
		}
		c.mu.Lock()
		c.current = set
		c.fetched = true
		c.mu.Unlock()
		return set, nil
	})
	return v.(LoadedSet)
}

// Invalidate 清空缓存，下一次查询会重新执行 launchctl list（启停操作后调用）。
func (c *LoadStateCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetched = false
	c.current = LoadedSet{}
}

func (c *LoadStateCache) fetch(ctx context.Context) LoadedSet {
	start := time.Now()
	out, err := c.runner.Run(ctx, "launchctl", "list")
	now := c.clock.Now()
	if c.onLoad != nil {
		c.onLoad(time.Since(start), err == nil)
	}
	if err != nil {
		c.logger.Warn("launchctl list failed, treating nothing as loaded", logfields.Error(err))
		return LoadedSet{labels: map[string]struct{}{}, FetchedAt: now, Err: err}
	}
	labels := parseLaunchctlList(string(out))
	c.logger.Debug("load state refreshed", logfields.Count(len(labels)))
	return LoadedSet{labels: labels, FetchedAt: now}
}

func isContextFailure(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// parseLaunchctlList 解析 `launchctl list` 输出：PID<TAB>Status<TAB>Label。
func parseLaunchctlList(out string) map[string]struct{} {
	labels := make(map[string]struct{})
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 {
			continue
		}
		label := strings.TrimSpace(parts[2])
		if label == "" || (label == "Label" && strings.TrimSpace(parts[0]) == "PID") {
			continue
		}
		labels[label] = struct{}{}
	}
	return labels
}
