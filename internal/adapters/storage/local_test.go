package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/jobrunner/dataspatial/internal/domain"
	"github.com/jobrunner/dataspatial/internal/ports/output"
)

func writeFiles(t *testing.T, dir string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte("test"), 0o644); err != nil {
			t.Fatalf("failed to create file: %v", err)
		}
	}
}

func TestIsGeoJSONKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"trees.geojson", true},
		{"uploads/Trees.GeoJSON", true},
		{"plain.json", true},
		{"layer.gpkg", false},
		{"data.csv", false},
		{"geojson", false},
	}
	for _, tt := range tests {
		if got := IsGeoJSONKey(tt.key); got != tt.want {
			t.Errorf("IsGeoJSONKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestLocalStorageList(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir,
		"trees.geojson",
		"parks.json",
		"subdir/nested.geojson",
		"ignored.txt",
		"also_ignored.gpkg",
	)

	objects, err := NewLocalStorage(dir).List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
		if obj.Size != 4 {
			t.Errorf("object %q size = %d, want 4", obj.Key, obj.Size)
		}
		if obj.LastModified == 0 {
			t.Errorf("object %q LastModified should not be 0", obj.Key)
		}
	}
	sort.Strings(keys)

	want := []string{"parks.json", "subdir/nested.geojson", "trees.geojson"}
	if len(keys) != len(want) {
		t.Fatalf("List() keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestLocalStorageListEmpty(t *testing.T) {
	objects, err := NewLocalStorage(t.TempDir()).List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 0 {
		t.Errorf("len(objects) = %d, want 0", len(objects))
	}
}

func TestLocalStorageGetReader(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "uploads/trees.geojson")
	s := NewLocalStorage(dir)
	ctx := context.Background()

	rc, err := s.GetReader(ctx, "uploads/trees.geojson")
	if err != nil {
		t.Fatalf("GetReader() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "test" {
		t.Errorf("GetReader() content = %q", data)
	}

	if _, err := s.GetReader(ctx, "missing.geojson"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetReader(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetReader(ctx, "../outside.geojson"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("GetReader(../) error = %v, want ErrInvalidInput", err)
	}
}

func TestLocalStorageKey(t *testing.T) {
	s := NewLocalStorage("/data/uploads")

	key, err := s.Key("/data/uploads/a/b.geojson")
	if err != nil || key != "a/b.geojson" {
		t.Errorf("Key() = %q, %v", key, err)
	}
	if _, err := s.Key("/etc/passwd"); err == nil {
		t.Error("Key() outside base path should fail")
	}
}

func TestHTTPStorage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		if user != "u" || pass != "p" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/index.txt":
			_, _ = io.WriteString(w, "# uploads\ntrees.geojson\n\nnotes.txt\nparks/parks.json\n")
		case "/trees.geojson":
			_, _ = io.WriteString(w, `{"type":"FeatureCollection","features":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewHTTPStorage(HTTPConfig{BaseURL: srv.URL + "/", Username: "u", Password: "p"})
	ctx := context.Background()

	objects, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []output.StorageObject{{Key: "trees.geojson"}, {Key: "parks/parks.json"}}
	if len(objects) != len(want) || objects[0] != want[0] || objects[1] != want[1] {
		t.Errorf("List() = %+v, want %+v", objects, want)
	}

	rc, err := s.GetReader(ctx, "trees.geojson")
	if err != nil {
		t.Fatalf("GetReader() error = %v", err)
	}
	_ = rc.Close()

	if _, err := s.GetReader(ctx, "gone.geojson"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetReader(gone) error = %v, want ErrNotFound", err)
	}
}

func TestNewUnknownType(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "ftp"})
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("New(ftp) error = %v, want ConfigError", err)
	}
}
