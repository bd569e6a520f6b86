package interceptor

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/always-cache/resource-interceptor/cache"
	cachekey "github.com/always-cache/resource-interceptor/pkg/cache-key"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstallStoresCoreAssets(t *testing.T) {
	_, scope := startOrigin(t)
	i, _ := newTestInterceptor(scope, CacheFirst, "wind-direction-daily-v1", nil, "/", "/app.js")
	if err := i.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	if i.State() != StateInstalled {
		t.Fatalf("State is %s", i.State())
	}
	for _, path := range []string{"/", "/app.js"} {
		if _, ok, err := i.store.Match(get(path)); !ok || err != nil {
			t.Fatalf("Core asset %s not stored: %v", path, err)
		}
	}
	if v := testutil.ToFloat64(i.metrics.InstallsTotal.WithLabelValues("wind-direction-daily-v1", "ok")); v != 1 {
		t.Fatalf("Installs are %v", v)
	}
}

func TestInstallFailsAtomically(t *testing.T) {
	_, scope := startOrigin(t)
	storage := cache.NewMemStorage(cachekey.NewKeyer(scope))
	i, fetcher := newTestInterceptor(scope, CacheFirst, "v1", storage, "/", "/app.js", "/data.json")
	fetcher.fail["/data.json"] = true

	err := i.Install(context.Background())
	if err == nil {
		t.Fatal("Install succeeded")
	}
	if !strings.Contains(err.Error(), "/data.json") {
		t.Fatalf("Error does not name the asset: %v", err)
	}
	if i.State() != StateRedundant {
		t.Fatalf("State is %s", i.State())
	}
	store, _ := storage.Open("v1")
	if keys, _ := store.Keys(); len(keys) != 0 {
		t.Fatalf("Partial install stored %v", keys)
	}
	if err := i.Activate(context.Background()); err != ErrNotInstalled {
		t.Fatalf("Activate after failed install returned %v", err)
	}
	if _, err := i.Fetch(get("/")); err != ErrNotActive {
		t.Fatalf("Fetch after failed install returned %v", err)
	}
}

func TestInstallFailsOnErrorStatus(t *testing.T) {
	_, scope := startOrigin(t)
	i, _ := newTestInterceptor(scope, CacheFirst, "v1", nil, "/", "/broken")
	if err := i.Install(context.Background()); err == nil {
		t.Fatal("Install succeeded with a 500 asset")
	}
}

func TestInstallOnlyOnce(t *testing.T) {
	_, scope := startOrigin(t)
	i, _ := newTestInterceptor(scope, NetworkOnly, "v1", nil)
	if err := i.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := i.Install(context.Background()); err != ErrAlreadyInstalled {
		t.Fatalf("Second install returned %v", err)
	}
}

func TestNetworkOnlyInstallDoesNoWork(t *testing.T) {
	_, scope := startOrigin(t)
	storage := cache.NewMemStorage(cachekey.NewKeyer(scope))
	i, fetcher := newTestInterceptor(scope, NetworkOnly, "v1", storage, "/", "/app.js")
	if err := i.Install(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls := fetcher.calls.Load(); calls != 0 {
		t.Fatalf("Network called %d times", calls)
	}
	if storage.Has("v1") {
		t.Fatal("Network-only opened a cache")
	}
}

func TestActivateDeletesStaleStores(t *testing.T) {
	_, scope := startOrigin(t)
	storage, err := cache.NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"), cachekey.NewKeyer(scope))
	if err != nil {
		t.Fatal(err)
	}
	defer storage.Close()
	storage.Open("v0")
	storage.Open("v1")

	i, _ := newTestInterceptor(scope, CacheFirst, "v1", storage, "/")
	installAndActivate(t, i)

	keys, _ := storage.Keys()
	if strings.Join(keys, ",") != "v1" {
		t.Fatalf("Stores after activation are %v", keys)
	}
	if i.State() != StateActivated {
		t.Fatalf("State is %s", i.State())
	}
	if v := testutil.ToFloat64(i.metrics.StoresDeleted); v != 1 {
		t.Fatalf("Deleted stores are %v", v)
	}
}

func TestNetworkOnlyActivateDeletesAllStores(t *testing.T) {
	_, scope := startOrigin(t)
	storage := cache.NewMemStorage(cachekey.NewKeyer(scope))
	storage.Open("v0")
	storage.Open("v1")

	i, _ := newTestInterceptor(scope, NetworkOnly, "v1", storage)
	installAndActivate(t, i)

	if keys, _ := storage.Keys(); len(keys) != 0 {
		t.Fatalf("Stores after activation are %v", keys)
	}
}

func TestActivateRequiresInstall(t *testing.T) {
	_, scope := startOrigin(t)
	i, _ := newTestInterceptor(scope, CacheFirst, "v1", nil)
	if err := i.Activate(context.Background()); err != ErrNotInstalled {
		t.Fatalf("Activate returned %v", err)
	}
}

func TestCoreAssetsFromOtherOrigins(t *testing.T) {
	_, scope := startOrigin(t)
	cdn, _ := startOrigin(t)
	i, _ := newTestInterceptor(scope, CacheFirst, "v1", nil, "/", cdn.URL+"/app.js")
	installAndActivate(t, i)

	req, _ := http.NewRequest("GET", cdn.URL+"/app.js", nil)
	if _, ok, _ := i.store.Match(req); !ok {
		t.Fatal("Absolute core asset not stored")
	}
}
