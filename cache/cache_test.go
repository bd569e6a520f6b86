package cache

import (
	"bufio"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	cachekey "github.com/always-cache/resource-interceptor/pkg/cache-key"
)

func testKeyer() cachekey.Keyer {
	scope, _ := url.Parse("https://weather.example")
	return cachekey.NewKeyer(*scope)
}

// storages returns one instance of every storage implementation.
func storages(t *testing.T) map[string]Storage {
	sqlite, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"), testKeyer())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Storage{
		"memory": NewMemStorage(testKeyer()),
		"sqlite": sqlite,
	}
}

func response(raw string) *http.Response {
	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(raw)), nil)
	if err != nil {
		panic(err)
	}
	return res
}

func get(path string) *http.Request {
	req, _ := http.NewRequest("GET", path, nil)
	return req
}

func TestOpenKeysDelete(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			for _, n := range []string{"v0", "v1", "v0"} {
				if _, err := storage.Open(n); err != nil {
					t.Fatal(err)
				}
			}
			keys, err := storage.Keys()
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(keys, ",") != "v0,v1" {
				t.Fatalf("Keys are %v", keys)
			}
			if ok, err := storage.Delete("v0"); !ok || err != nil {
				t.Fatalf("Delete returned %v, %v", ok, err)
			}
			if ok, _ := storage.Delete("v0"); ok {
				t.Fatal("Deleted a store twice")
			}
			if storage.Has("v0") || !storage.Has("v1") {
				t.Fatal("Wrong stores after delete")
			}
		})
	}
}

func TestPutMatch(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := storage.Open("v1")
			if _, ok, _ := store.Match(get("/index.html")); ok {
				t.Fatal("Empty store matched")
			}
			res := response("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 5\r\n\r\nhello")
			if err := store.Put(get("/index.html"), res); err != nil {
				t.Fatal(err)
			}
			// absolute url of the same resource hits the same entry
			cached, ok, err := store.Match(get("https://weather.example/index.html"))
			if err != nil || !ok {
				t.Fatalf("No match: %v", err)
			}
			body, _ := io.ReadAll(cached.Body)
			if string(body) != "hello" || cached.Header.Get("Content-Type") != "text/html" {
				t.Fatalf("Cached response is %d %v %s", cached.StatusCode, cached.Header, body)
			}
			if _, ok, _ := store.Match(get("/index.htm")); ok {
				t.Fatal("Prefix of a key matched")
			}
		})
	}
}

func TestPutAllAndDelete(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := storage.Open("v1")
			err := store.PutAll([]Pair{
				{get("/"), response("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\na")},
				{get("/app.js"), response("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\nb")},
			})
			if err != nil {
				t.Fatal(err)
			}
			keys, _ := store.Keys()
			if len(keys) != 2 {
				t.Fatalf("Keys are %v", keys)
			}
			if ok, _ := store.Delete(get("/app.js")); !ok {
				t.Fatal("Nothing deleted")
			}
			if _, ok, _ := store.Match(get("/app.js")); ok {
				t.Fatal("Deleted entry matched")
			}
		})
	}
}

func TestVaryVariants(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := storage.Open("v1")
			fi := get("/data.json")
			fi.Header.Set("Accept-Language", "fi")
			en := get("/data.json")
			en.Header.Set("Accept-Language", "en")
			store.Put(fi, response("HTTP/1.1 200 OK\r\nVary: Accept-Language\r\nContent-Length: 2\r\n\r\nfi"))
			store.Put(en, response("HTTP/1.1 200 OK\r\nVary: Accept-Language\r\nContent-Length: 2\r\n\r\nen"))

			res, ok, _ := store.Match(en)
			if !ok {
				t.Fatal("No match")
			}
			if body, _ := io.ReadAll(res.Body); string(body) != "en" {
				t.Fatalf("Body is %s", body)
			}
			sv := get("/data.json")
			sv.Header.Set("Accept-Language", "sv")
			if _, ok, _ := store.Match(sv); ok {
				t.Fatal("Unknown variant matched")
			}
		})
	}
}

func TestWriteToDeletedStore(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := storage.Open("v0")
			storage.Delete("v0")
			err := store.Put(get("/"), response("HTTP/1.1 200 OK\r\nContent-Length: 1\r\n\r\na"))
			if err != ErrStoreNotFound {
				t.Fatalf("Error is %v", err)
			}
			if storage.Has("v0") {
				t.Fatal("Deleted store came back")
			}
		})
	}
}

func TestContains(t *testing.T) {
	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			store, _ := storage.Open("v1")
			fi := get("/data.json")
			fi.Header.Set("Accept-Language", "fi")
			store.Put(fi, response("HTTP/1.1 200 OK\r\nVary: Accept-Language\r\nContent-Length: 2\r\n\r\nfi"))

			en := get("/data.json")
			en.Header.Set("Accept-Language", "en")
			if _, ok, _ := store.Match(en); ok {
				t.Fatal("Other variant matched")
			}
			if ok, err := store.Contains(en); !ok || err != nil {
				t.Fatalf("Stored url not found: %v", err)
			}
			if ok, _ := store.Contains(get("/data")); ok {
				t.Fatal("Prefix of a stored url is contained")
			}
			if ok, _ := store.Contains(get("/data.json.bak")); ok {
				t.Fatal("Extension of a stored url is contained")
			}
		})
	}
}
