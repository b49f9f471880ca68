// Package watch 监听 launchd 目录变化并定期全量刷新清单。
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-co-op/gocron/v2"

	"startup-inspector/internal/domain/model"
	"startup-inspector/internal/platform/logfields"
)

// Refresher 是被驱动的刷新入口（inventory.Engine）。
type Refresher interface {
	Refresh(ctx context.Context, categories ...model.Category) (model.RefreshReport, error)
}

// Dir 是一个被监听的目录及其所属类别。
type Dir struct {
	Path     string
	Category model.Category
}

type Config struct {
	Dirs []Dir
	// Debounce 合并短时间内的多次文件变化。
	Debounce time.Duration
	// Interval 为 0 时不做定时全量刷新。
	Interval time.Duration
}

// Watcher 把目录事件合并为按类别的刷新，并用 gocron 做定时全量刷新。
type Watcher struct {
	refresher Refresher
	cfg       Config
	logger    *slog.Logger

	fsw   *fsnotify.Watcher
	sched gocron.Scheduler
	dirs  map[string]model.Category
}

func New(refresher Refresher, cfg Config, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Watcher{
		refresher: refresher,
		cfg:       cfg,
		logger:    logger,
		fsw:       fsw,
		sched:     sched,
		dirs:      make(map[string]model.Category),
	}, nil
}

// Run 阻塞直到 ctx 结束。不存在的目录跳过，其余目录添加失败时返回错误。
func (w *Watcher) Run(ctx context.Context) error {
	defer func() {
		if err := w.fsw.Close(); err != nil {
			w.logger.Error("close file watcher", logfields.Error(err))
		}
	}()

	for _, d := range w.cfg.Dirs {
		abs, err := filepath.Abs(d.Path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", d.Path, err)
		}
		if _, err := os.Stat(abs); errors.Is(err, fs.ErrNotExist) {
			w.logger.Debug("watch dir missing, skipped", logfields.Path(abs))
			continue
		}
		if err := w.fsw.Add(abs); err != nil {
			if errors.Is(err, fs.ErrPermission) {
				w.logger.Warn("watch dir not readable", logfields.Path(abs), logfields.Error(err))
				continue
			}
			return fmt.Errorf("watch %s: %w", abs, err)
		}
		w.dirs[abs] = d.Category
		w.logger.Info("watching directory", logfields.Path(abs), logfields.Category(string(d.Category)))
	}

	if w.cfg.Interval > 0 {
		if _, err := w.sched.NewJob(
			gocron.DurationJob(w.cfg.Interval),
			gocron.NewTask(w.refresh, []model.Category(nil)),
			gocron.WithName("full-refresh"),
			gocron.WithContext(ctx),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		); err != nil {
			return fmt.Errorf("schedule full refresh: %w", err)
		}
		w.sched.Start()
		defer func() {
			if err := w.sched.Shutdown(); err != nil {
				w.logger.Error("stop scheduler", logfields.Error(err))
			}
		}()
	}

	w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	pending := map[model.Category]struct{}{}
	timer := time.NewTimer(w.cfg.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			c, relevant := w.classify(event)
			if !relevant {
				continue
			}
			w.logger.Debug("launchd declaration changed", logfields.Path(event.Name), slog.String("op", event.Op.String()))
			pending[c] = struct{}{}
			timer.Reset(w.cfg.Debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", logfields.Error(err))
		case <-timer.C:
			cats := make([]model.Category, 0, len(pending))
			for c := range pending {
				cats = append(cats, c)
			}
			sort.Slice(cats, func(i, j int) bool { return cats[i] < cats[j] })
			pending = map[model.Category]struct{}{}
			if len(cats) > 0 {
				w.refresh(ctx, cats)
			}
		}
	}
}

// classify 只关心 .plist 文件的增删改与重命名。
func (w *Watcher) classify(ev fsnotify.Event) (model.Category, bool) {
	if !strings.EqualFold(filepath.Ext(ev.Name), ".plist") {
		return "", false
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return "", false
	}
	c, ok := w.dirs[filepath.Dir(ev.Name)]
	return c, ok
}

// refresh 为空类别列表时刷新全部类别。
func (w *Watcher) refresh(ctx context.Context, cats []model.Category) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	rep, err := w.refresher.Refresh(ctx, cats...)
	if err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Error("watch refresh failed", logfields.Error(err))
	} else {
		w.logger.Info("watch refresh finished",
			logfields.JobID(rep.RunID),
			logfields.Count(len(rep.Categories)),
			logfields.DurationMS(float64(time.Since(start).Microseconds())/1000))
	}
}
