package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestCatalog_RefreshReplacesModels(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"data":[{"id":"remote-1","owned_by":"upstream"}]}`))
	}))
	defer srv.Close()

	reg := NewModelRegistry(DefaultModels())
	cat := NewCatalog(reg, srv.URL, time.Hour, "")

	n, err := cat.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != 1 {
		t.Fatalf("registry has %d models after refresh, want 1", n)
	}
	if reg.Lookup("remote-1") == nil {
		t.Error("expected remote-1 to be registered")
	}
	if reg.Lookup("solo-1") != nil {
		t.Error("expected seeded models to be replaced")
	}

	// Second refresh within the TTL must not hit the remote again.
	if _, err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("remote hit %d times, want 1", got)
	}
}

func TestCatalog_RefreshKeepsModelsOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	reg := NewModelRegistry(DefaultModels())
	cat := NewCatalog(reg, srv.URL, time.Hour, "")

	if _, err := cat.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if reg.Lookup("solo-1") == nil {
		t.Error("seeded models must survive a failed refresh")
	}
}

func TestCatalog_PersistAndLoadCache(t *testing.T) {
	cacheFile := filepath.Join(t.TempDir(), "catalog.json")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"cached-1","owned_by":"upstream"}]}`))
	}))
	defer srv.Close()

	reg := NewModelRegistry(nil)
	cat := NewCatalog(reg, srv.URL, time.Hour, cacheFile)
	if _, err := cat.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := os.Stat(cacheFile); err != nil {
		t.Fatalf("cache file not written: %v", err)
	}

	// A fresh catalog pointed at the same file seeds its registry from disk.
	reg2 := NewModelRegistry(nil)
	cat2 := NewCatalog(reg2, "", time.Hour, cacheFile)
	if err := cat2.LoadCache(); err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if reg2.Lookup("cached-1") == nil {
		t.Error("expected cached-1 to load from cache file")
	}
}

func TestCatalog_LoadCacheMissingFile(t *testing.T) {
	reg := NewModelRegistry(nil)
	cat := NewCatalog(reg, "", time.Hour, filepath.Join(t.TempDir(), "absent.json"))
	if err := cat.LoadCache(); err != nil {
		t.Fatalf("LoadCache on missing file should be a no-op, got %v", err)
	}
}

func TestCatalog_RefreshWithoutURL(t *testing.T) {
	reg := NewModelRegistry(DefaultModels())
	cat := NewCatalog(reg, "", time.Hour, "")
	n, err := cat.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != reg.Len() {
		t.Errorf("Refresh returned %d, want %d", n, reg.Len())
	}
}
