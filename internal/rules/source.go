package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opensource-dialog/shrike/internal/domain"
)

// LoadDocumentFile reads a rule document from a JSON file.
func LoadDocumentFile(path string) (*domain.RuleDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}

	var doc domain.RuleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}
	return &doc, nil
}

// Watcher reloads the registry whenever the rule file changes on disk.
// A failed reload logs and keeps the running snapshot; editors that write
// broken JSON mid-save never take the engine down.
type Watcher struct {
	registry *Registry
	path     string
	watcher  *fsnotify.Watcher
	done     chan struct{}

	// Debounce interval: editors fire several events per save.
	settle time.Duration
}

// NewWatcher creates a file watcher for the given rule file.
func NewWatcher(registry *Registry, path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	// Watch the directory, not the file: many editors replace the file
	// on save, which drops a direct file watch.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch rule directory: %w", err)
	}

	return &Watcher{
		registry: registry,
		path:     path,
		watcher:  fw,
		done:     make(chan struct{}),
		settle:   200 * time.Millisecond,
	}, nil
}

// Start begins watching. Returns immediately; reloads happen on a
// background goroutine until Stop is called.
func (w *Watcher) Start() {
	go w.run()
	slog.Info("watching rule file", "path", w.path)
}

func (w *Watcher) run() {
	var timer *time.Timer
	target := filepath.Clean(w.path)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.settle, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("rule file watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	doc, err := LoadDocumentFile(w.path)
	if err != nil {
		slog.Error("rule file reload failed", "path", w.path, "error", err)
		return
	}

	snap, err := w.registry.Load(doc)
	if err != nil {
		slog.Error("rule file reload rejected, keeping active snapshot",
			"path", w.path,
			"error", err,
		)
		return
	}

	slog.Info("rules reloaded from file",
		"path", w.path,
		"count", snap.Len(),
		"snapshot_version", snap.Version,
	)
}

// Stop ends watching and releases the underlying watcher.
func (w *Watcher) Stop() error {
	close(w.done)
	return w.watcher.Close()
}
