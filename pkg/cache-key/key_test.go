package cachekey

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
)

func newKeyer() Keyer {
	scope, _ := url.Parse("https://weather.example")
	return NewKeyer(*scope)
}

func TestRelativeAndAbsoluteShareKey(t *testing.T) {
	keyer := newKeyer()
	rel, _ := http.NewRequest("GET", "/index.html", nil)
	abs, _ := http.NewRequest("GET", "https://weather.example/index.html#top", nil)
	if keyer.Key(rel) != keyer.Key(abs) {
		t.Fatalf("Keys differ: %q vs %q", keyer.Key(rel), keyer.Key(abs))
	}
}

func TestMethodIsPartOfKey(t *testing.T) {
	keyer := newKeyer()
	get, _ := http.NewRequest("GET", "/", nil)
	head, _ := http.NewRequest("HEAD", "/", nil)
	if keyer.Key(get) == keyer.Key(head) {
		t.Fatal("GET and HEAD share a key")
	}
	if !strings.HasPrefix(keyer.Key(head), "HEAD ") {
		t.Fatalf("Key is %s", keyer.Key(head))
	}
}

func TestVaryMatching(t *testing.T) {
	keyer := newKeyer()
	req, _ := http.NewRequest("GET", "/data.json", nil)
	req.Header.Set("Accept-Language", "fi")
	res := &http.Response{Header: http.Header{"Vary": []string{"Accept-Language"}}}
	key := keyer.AddVaryKeys(keyer.Key(req), req, res)

	if !keyer.Matches(key, req) {
		t.Fatalf("Same request does not match key %q", key)
	}
	other, _ := http.NewRequest("GET", "/data.json", nil)
	other.Header.Set("Accept-Language", "en")
	if keyer.Matches(key, other) {
		t.Fatal("Request with other language matches")
	}
}

func TestVaryStarNeverMatches(t *testing.T) {
	keyer := newKeyer()
	req, _ := http.NewRequest("GET", "/", nil)
	res := &http.Response{Header: http.Header{"Vary": []string{"*"}}}
	key := keyer.AddVaryKeys(keyer.Key(req), req, res)
	if keyer.Matches(key, req) {
		t.Fatal("Vary: * matched")
	}
}

func TestTransportHeadersDoNotVary(t *testing.T) {
	keyer := newKeyer()
	stored, _ := http.NewRequest("GET", "/", nil)
	stored.Header.Set("Accept-Language", "fi")
	res := &http.Response{Header: http.Header{"Vary": []string{"Accept-Encoding, Accept-Language"}}}
	key := keyer.AddVaryKeys(keyer.Key(stored), stored, res)
	if strings.Contains(key, "accept-encoding") {
		t.Fatalf("Key contains accept-encoding: %q", key)
	}

	browser, _ := http.NewRequest("GET", "https://weather.example/", nil)
	browser.Header.Set("Accept-Encoding", "gzip, deflate, br")
	browser.Header.Set("Accept-Language", "fi")
	if !keyer.Matches(key, browser) {
		t.Fatalf("Request with Accept-Encoding does not match key %q", key)
	}
	browser.Header.Set("Accept-Language", "en")
	if keyer.Matches(key, browser) {
		t.Fatal("Request with other language matches")
	}
}

func TestKeysStoredBeforeIgnoringStillMatch(t *testing.T) {
	keyer := newKeyer()
	req, _ := http.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	if !keyer.Matches(keyer.Key(req)+"\naccept-encoding: ", req) {
		t.Fatal("Ignored field in key prevented a match")
	}
}
