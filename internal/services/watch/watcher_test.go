package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startup-inspector/internal/domain/model"
)

type recordingRefresher struct {
	mu    sync.Mutex
	calls [][]model.Category
}

func (r *recordingRefresher) Refresh(_ context.Context, cats ...model.Category) (model.RefreshReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, append([]model.Category(nil), cats...))
	return model.RefreshReport{RunID: "run"}, nil
}

func (r *recordingRefresher) snapshot() [][]model.Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]model.Category(nil), r.calls...)
}

func startWatcher(t *testing.T, ref Refresher, cfg Config) {
	t.Helper()
	w, err := New(ref, cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	// 等待目录注册完成。
	time.Sleep(100 * time.Millisecond)
}

func TestWatcherDebouncesPlistChanges(t *testing.T) {
	agents := t.TempDir()
	ref := &recordingRefresher{}
	startWatcher(t, ref, Config{
		Dirs:     []Dir{{Path: agents, Category: model.CategoryLaunchAgents}, {Path: filepath.Join(agents, "missing"), Category: model.CategoryLaunchDaemons}},
		Debounce: 150 * time.Millisecond,
	})

	require.NoError(t, os.WriteFile(filepath.Join(agents, "notes.txt"), []byte("x"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(agents, "com.example.agent.plist"), []byte("<plist/>"), 0o644))
	}

	require.Eventually(t, func() bool { return len(ref.snapshot()) == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	calls := ref.snapshot()
	require.Len(t, calls, 1, "bursts are merged into one refresh")
	assert.Equal(t, []model.Category{model.CategoryLaunchAgents}, calls[0])
}

func TestWatcherIgnoresNonPlistFiles(t *testing.T) {
	agents := t.TempDir()
	ref := &recordingRefresher{}
	startWatcher(t, ref, Config{
		Dirs:     []Dir{{Path: agents, Category: model.CategoryLaunchAgents}},
		Debounce: 50 * time.Millisecond,
	})

	require.NoError(t, os.WriteFile(filepath.Join(agents, ".DS_Store"), []byte("x"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, ref.snapshot())
}

func TestWatcherPeriodicFullRefresh(t *testing.T) {
	ref := &recordingRefresher{}
	startWatcher(t, ref, Config{Interval: 100 * time.Millisecond})

	require.Eventually(t, func() bool { return len(ref.snapshot()) >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Empty(t, ref.snapshot()[0], "scheduled refresh covers every category")
}
