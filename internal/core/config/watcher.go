package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 100 * time.Millisecond

// Watcher reloads the config file when it changes on disk. The parent
// directory is watched so editors that replace the file via rename are
// picked up. A reload that fails to parse or validate keeps the previous
// config and is logged.
type Watcher struct {
	path     string
	dataDir  string
	onReload func(*Config)
	log      zerolog.Logger

	watcher *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher starts watching configPath. onReload receives every config that
// loads cleanly.
func NewWatcher(configPath, dataDir string, logger zerolog.Logger, onReload func(*Config)) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}

	return &Watcher{
		path:     filepath.Clean(configPath),
		dataDir:  dataDir,
		onReload: onReload,
		log:      logger,
		watcher:  fw,
	}, nil
}

// Run processes filesystem events until ctx is cancelled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		_ = w.watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path, w.dataDir)
	if err != nil {
		w.log.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous config")
		return
	}

	w.log.Info().Str("path", w.path).Msg("config reloaded")
	w.onReload(cfg)
}
