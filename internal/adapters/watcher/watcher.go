// Package watcher turns uploads into local storage into georeference
// submissions.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called with the storage key of a file that was created or
// written. Keys use forward slashes and are relative to the root.
type Handler func(ctx context.Context, key string) error

// Matcher selects the files the watcher reports.
type Matcher func(key string) bool

type pendingEvent struct {
	timestamp time.Time
	op        Operation
}

// Watcher watches a directory tree for uploaded files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	match     Matcher
	logger    *slog.Logger
	root      string
	debounce  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingEvent
	wg      sync.WaitGroup
}

// Config holds watcher configuration.
type Config struct {
	Root     string
	Debounce time.Duration
}

// New creates a watcher over cfg.Root.
func New(cfg Config, match Matcher, handler Handler, logger *slog.Logger) (*Watcher, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		match:     match,
		logger:    logger,
		root:      root,
		debounce:  cfg.Debounce,
		now:       time.Now,
		pending:   make(map[string]*pendingEvent),
	}, nil
}

// Start watches the root and every directory below it.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.logger.Info("watching uploads", "path", w.root)

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.eventLoop(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.debounceLoop(ctx)
	}()

	return nil
}

// Stop stops the watcher and waits for its loops to exit.
func (w *Watcher) Stop() error {
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsWatcher.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleFsEvent(event fsnotify.Event) {
	op := fsnotifyOpToOperation(event.Op)

	if op == OpCreate {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	key, ok := w.key(event.Name)
	if !ok || !w.match(key) {
		return
	}

	w.logger.Debug("file event", "key", key, "op", event.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()

	existing, exists := w.pending[key]
	if !exists {
		w.pending[key] = &pendingEvent{timestamp: w.now(), op: op}
		return
	}
	existing.timestamp = w.now()
	switch {
	case existing.op == OpDelete && op != OpDelete:
		// replaced by a new upload
		existing.op = OpCreate
	case op == OpDelete:
		existing.op = OpDelete
	}
}

func (w *Watcher) key(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	ticker := time.NewTicker(w.debounce / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPending(ctx)
		}
	}
}

// processPending hands settled uploads to the handler. Deletions are
// dropped; a removed file has nothing to georeference.
func (w *Watcher) processPending(ctx context.Context) {
	for _, key := range w.settled() {
		w.logger.Info("upload settled", "key", key)
		if err := w.handler(ctx, key); err != nil {
			w.logger.Error("handler error", "key", key, "error", err)
		}
	}
}

func (w *Watcher) settled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	var keys []string
	for key, p := range w.pending {
		if now.Sub(p.timestamp) < w.debounce {
			continue
		}
		delete(w.pending, key)
		if p.op == OpDelete {
			w.logger.Debug("ignoring removed file", "key", key)
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}
