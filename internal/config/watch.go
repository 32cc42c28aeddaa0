package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of events editors emit on save.
const reloadDebounce = 100 * time.Millisecond

// Watcher re-reads the config file on change and applies what can change at
// runtime (log.level). Other changes are reported as requiring a restart.
type Watcher struct {
	path  string
	level *slog.LevelVar

	mu      sync.Mutex
	current *Config

	fs   *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// OnReload, when set, runs after each successful reload.
	OnReload func(old, cur *Config, restart []string)
}

// NewWatcher watches path. cur is the configuration currently in effect and
// level the handler level to update.
func NewWatcher(path string, cur *Config, level *slog.LevelVar) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watcher: %w", err)
	}
	// Watch the directory: editors replace the file by rename.
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	return &Watcher{
		path:    filepath.Clean(path),
		level:   level,
		current: cur,
		fs:      fs,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching in a goroutine.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.loop()
	slog.Info("config: watching for changes", "path", w.path)
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops watching. Idempotent.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var pending <-chan time.Time
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				pending = time.After(reloadDebounce)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("config: watcher error", "error", err)

		case <-pending:
			pending = nil
			w.Reload()
		}
	}
}

// Reload re-reads the file now. On a parse or validation error the current
// configuration stays in effect.
func (w *Watcher) Reload() error {
	next, err := Load(w.path)
	if err != nil {
		slog.Warn("config: reload rejected, keeping current config", "error", err)
		return err
	}

	w.mu.Lock()
	old := w.current
	w.current = next
	w.mu.Unlock()

	if old.Log.Level != next.Log.Level && w.level != nil {
		lvl, _ := next.Log.SlogLevel()
		w.level.Set(lvl)
		slog.Info("config changed", "change", fmt.Sprintf("log.level: %s → %s", old.Log.Level, next.Log.Level))
	}

	restart := RestartRequired(old, next)
	for _, section := range restart {
		slog.Warn("config: change requires restart", "section", section)
	}

	if w.OnReload != nil {
		w.OnReload(old, next, restart)
	}
	return nil
}

// RestartRequired lists the sections that differ between a and b and cannot
// be applied live.
func RestartRequired(a, b *Config) []string {
	var out []string
	check := func(name string, x, y any) {
		if !reflect.DeepEqual(x, y) {
			out = append(out, name)
		}
	}
	check("instance_id", a.InstanceID, b.InstanceID)
	check("capture", a.Capture, b.Capture)
	check("encoder", a.Encoder, b.Encoder)
	check("ts", a.TS, b.TS)
	check("fanout", a.Fanout, b.Fanout)
	check("network", a.Network, b.Network)
	check("api", a.API, b.API)
	check("mqtt", a.MQTT, b.MQTT)
	check("log.format", a.Log.Format, b.Log.Format)
	return out
}
