package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Template seeds the config and setup of newly created projects.
type Template struct {
	ProjectConfig map[string]any `json:"projectConfig"`
	ProjectSetup  *Setup         `json:"projectSetup"`
}

// TemplateSource provides the current default template.
type TemplateSource interface {
	Template() (Template, error)
}

// EmptyTemplate seeds projects with an empty config and the default setup.
type EmptyTemplate struct{}

func (EmptyTemplate) Template() (Template, error) { return Template{}, nil }

// FileTemplate reads the template file on every call. A missing file yields
// an empty template.
type FileTemplate struct {
	Path string
}

func (f FileTemplate) Template() (Template, error) {
	return readTemplate(f.Path)
}

func readTemplate(path string) (Template, error) {
	if path == "" {
		return Template{}, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Template{}, nil
		}
		return Template{}, fmt.Errorf("read template: %w", err)
	}
	var t Template
	if err := json.Unmarshal(b, &t); err != nil {
		return Template{}, fmt.Errorf("parse template %s: %w", path, err)
	}
	return t, nil
}

// WatchedTemplate caches the parsed template and re-reads it whenever the
// file changes on disk.
type WatchedTemplate struct {
	path    string
	log     *zap.Logger
	watcher *fsnotify.Watcher

	mu        sync.RWMutex
	cur       Template
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

// WatchTemplate loads path and starts watching its directory. The directory
// is watched instead of the file so editors that replace the file by rename
// keep being tracked.
func WatchTemplate(path string, log *zap.Logger) (*WatchedTemplate, error) {
	if log == nil {
		log = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("template watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	t := &WatchedTemplate{
		path:    path,
		log:     log,
		watcher: w,
		done:    make(chan struct{}),
	}
	t.reload()
	go t.loop()
	return t, nil
}

func (t *WatchedTemplate) Template() (Template, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cur, t.err
}

// Close stops watching.
func (t *WatchedTemplate) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.watcher.Close()
		<-t.done
	})
	return err
}

func (t *WatchedTemplate) reload() {
	cur, err := readTemplate(t.path)
	t.mu.Lock()
	t.cur, t.err = cur, err
	t.mu.Unlock()
	if err != nil {
		t.log.Warn("default template unreadable", zap.String("path", t.path), zap.Error(err))
		return
	}
	t.log.Info("default template loaded", zap.String("path", t.path))
}

func (t *WatchedTemplate) loop() {
	defer close(t.done)
	target := filepath.Clean(t.path)
	for {
		select {
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				t.reload()
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.log.Warn("template watcher error", zap.Error(err))
		}
	}
}
