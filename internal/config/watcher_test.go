package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tacogerbil/chatterboxPro/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
engine:
  strictness_mode: strict
`

const watcherUpdatedYAML = `
server:
  log_level: debug
engine:
  strictness_mode: lenient
  similarity_threshold: 0.8
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// startWatcher writes initial content and returns a running watcher whose
// callback pushes each new config onto the returned channel.
func startWatcher(t *testing.T, initial string) (string, *config.Watcher, <-chan *config.Config) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "chatterbox.yaml")
	writeFile(t, cfgPath, initial)

	changes := make(chan *config.Config, 8)
	w, err := config.NewWatcher(cfgPath, func(_, new *config.Config) {
		changes <- new
	}, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(w.Stop)
	return cfgPath, w, changes
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, watcherValidYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "chatterbox.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	var mu sync.Mutex
	var callbackOld, callbackNew *config.Config
	called := make(chan struct{}, 1)

	w, err := config.NewWatcher(cfgPath, func(old, new *config.Config) {
		mu.Lock()
		callbackOld = old
		callbackNew = new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	writeFile(t, cfgPath, watcherUpdatedYAML)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()

	if callbackOld == nil || callbackNew == nil {
		t.Fatal("callback received nil configs")
	}
	if callbackOld.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", callbackOld.Server.LogLevel, config.LogInfo)
	}
	if callbackNew.Engine.StrictnessMode != config.ModeLenient {
		t.Errorf("new strictness_mode: got %q, want lenient", callbackNew.Engine.StrictnessMode)
	}

	d := config.Diff(callbackOld, callbackNew)
	if !d.LogLevelChanged || !d.ValidatorChanged || len(d.RestartRequired) != 0 {
		t.Errorf("unexpected diff for a hot edit: %+v", d)
	}

	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_RenameIntoPlace(t *testing.T) {
	t.Parallel()
	cfgPath, w, changes := startWatcher(t, watcherValidYAML)

	tmp := cfgPath + ".tmp"
	writeFile(t, tmp, watcherUpdatedYAML)
	if err := os.Rename(tmp, cfgPath); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case cfg := <-changes:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("log_level: got %q, want debug", cfg.Server.LogLevel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked after an atomic save")
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Error("Current() did not pick up the renamed file")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	cfgPath, w, changes := startWatcher(t, watcherValidYAML)

	writeFile(t, cfgPath, watcherInvalidYAML)

	select {
	case cfg := <-changes:
		t.Fatalf("callback fired for an invalid file: %+v", cfg.Server)
	case <-time.After(300 * time.Millisecond):
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level: got %q, want the old %q", w.Current().Server.LogLevel, config.LogInfo)
	}

	// A later valid edit is still picked up.
	writeFile(t, cfgPath, watcherUpdatedYAML)
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher stopped reloading after an invalid edit")
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	t.Parallel()
	cfgPath, _, changes := startWatcher(t, watcherValidYAML)

	writeFile(t, filepath.Join(filepath.Dir(cfgPath), "other.yaml"), watcherUpdatedYAML)

	select {
	case <-changes:
		t.Fatal("callback fired for a different file in the same directory")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "chatterbox.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Multiple stops should not panic.
	w.Stop()
	w.Stop()
	w.Stop()
}

func TestWatcher_RewriteWithoutContentChange(t *testing.T) {
	t.Parallel()
	cfgPath, _, changes := startWatcher(t, watcherValidYAML)

	writeFile(t, cfgPath, watcherValidYAML)
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(cfgPath, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}

	select {
	case <-changes:
		t.Error("callback should not fire when content is unchanged")
	case <-time.After(300 * time.Millisecond):
	}
}
