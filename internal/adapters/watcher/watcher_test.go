package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func isGeoJSON(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".geojson")
}

type recorder struct {
	mu   sync.Mutex
	keys []string
	seen chan string
}

func newRecorder() *recorder {
	return &recorder{seen: make(chan string, 16)}
}

func (r *recorder) handle(_ context.Context, key string) error {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	r.seen <- key
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func TestFsnotifyOpToOperation(t *testing.T) {
	tests := []struct {
		name     string
		op       fsnotify.Op
		expected Operation
	}{
		{"Remove returns OpDelete", fsnotify.Remove, OpDelete},
		{"Rename returns OpDelete", fsnotify.Rename, OpDelete},
		{"Create returns OpCreate", fsnotify.Create, OpCreate},
		{"Write returns OpModify", fsnotify.Write, OpModify},
		{"Chmod returns OpModify", fsnotify.Chmod, OpModify},
		{"Remove takes precedence over Write", fsnotify.Remove | fsnotify.Write, OpDelete},
		{"Create takes precedence over Write", fsnotify.Create | fsnotify.Write, OpCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fsnotifyOpToOperation(tt.op); got != tt.expected {
				t.Errorf("fsnotifyOpToOperation(%v) = %v, want %v", tt.op, got, tt.expected)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op       Operation
		expected string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.expected {
			t.Errorf("Operation.String() = %v, want %v", got, tt.expected)
		}
	}
}

func TestDebounce(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	w, err := New(Config{Root: root, Debounce: time.Second}, isGeoJSON, rec.handle, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	path := func(p string) string { return filepath.Join(root, filepath.FromSlash(p)) }
	w.handleFsEvent(fsnotify.Event{Name: path("uploads/trees.geojson"), Op: fsnotify.Create})
	w.handleFsEvent(fsnotify.Event{Name: path("uploads/trees.geojson"), Op: fsnotify.Write})
	w.handleFsEvent(fsnotify.Event{Name: path("parks.geojson"), Op: fsnotify.Write})
	w.handleFsEvent(fsnotify.Event{Name: path("parks.geojson"), Op: fsnotify.Remove})
	w.handleFsEvent(fsnotify.Event{Name: path("notes.txt"), Op: fsnotify.Create})
	w.handleFsEvent(fsnotify.Event{Name: filepath.Join(filepath.Dir(root), "outside.geojson"), Op: fsnotify.Create})

	ctx := context.Background()
	w.processPending(ctx)
	if got := rec.got(); len(got) != 0 {
		t.Fatalf("handler called before the debounce elapsed: %v", got)
	}

	now = now.Add(2 * time.Second)
	w.processPending(ctx)

	got := rec.got()
	if len(got) != 1 || got[0] != "uploads/trees.geojson" {
		t.Errorf("handled keys = %v, want [uploads/trees.geojson]", got)
	}
	if len(w.pending) != 0 {
		t.Errorf("pending not drained: %v", w.pending)
	}
}

func TestDeleteThenRecreate(t *testing.T) {
	root := t.TempDir()
	rec := newRecorder()
	w, err := New(Config{Root: root, Debounce: time.Second}, isGeoJSON, rec.handle, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	now := time.Now()
	w.now = func() time.Time { return now }

	name := filepath.Join(root, "trees.geojson")
	w.handleFsEvent(fsnotify.Event{Name: name, Op: fsnotify.Remove})
	w.handleFsEvent(fsnotify.Event{Name: name, Op: fsnotify.Create})

	now = now.Add(time.Minute)
	w.processPending(context.Background())
	if got := rec.got(); len(got) != 1 {
		t.Errorf("handled keys = %v, want the recreated file", got)
	}
}

func TestWatcherReportsUploads(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "existing"), 0o755); err != nil {
		t.Fatal(err)
	}

	rec := newRecorder()
	w, err := New(Config{Root: root, Debounce: 50 * time.Millisecond}, isGeoJSON, rec.handle, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	if err := os.WriteFile(filepath.Join(root, "existing", "trees.geojson"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case key := <-rec.seen:
		if key != "existing/trees.geojson" {
			t.Errorf("key = %q, want existing/trees.geojson", key)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("upload was not reported")
	}
}
