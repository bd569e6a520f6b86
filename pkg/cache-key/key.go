package cachekey

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	methodSeparator = " "
	varySeparator   = "\n"
	fieldSeparator  = ": "
)

// Request headers owned by the user agent or the transport.
// A page cannot set them, so they never select a stored variant.
var ignoredVaryFields = map[string]bool{
	"accept-charset":    true,
	"accept-encoding":   true,
	"connection":        true,
	"content-length":    true,
	"host":              true,
	"keep-alive":        true,
	"te":                true,
	"trailer":           true,
	"transfer-encoding": true,
	"upgrade":           true,
	"via":               true,
}

// Keyer derives request identities for cache entries.
// Relative request URLs are resolved against Scope so that a path from the
// core asset list and a proxied request for the same resource share a key.
type Keyer struct {
	Scope url.URL
}

func NewKeyer(scope url.URL) Keyer {
	return Keyer{Scope: scope}
}

// Key returns the request identity without vary headers (i.e. a key prefix).
// It is suitable for finding all stored variants for a particular request.
func (k Keyer) Key(r *http.Request) string {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + methodSeparator + k.Resolve(r.URL).String()
}

// Resolve makes u absolute against the scope and drops the fragment,
// which is never part of a request identity.
func (k Keyer) Resolve(u *url.URL) *url.URL {
	resolved := *u
	if !resolved.IsAbs() {
		resolved = *k.Scope.ResolveReference(u)
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return &resolved
}

// AddVaryKeys returns the full key (including vary headers) based on a key prefix
// and the request/response pair involved.
// Fields in ignoredVaryFields are left out of the key.
func (k Keyer) AddVaryKeys(prefix string, req *http.Request, res *http.Response) string {
	names := VaryFields(res.Header)
	sort.Strings(names)
	key := prefix
	for _, name := range names {
		if ignoredVaryFields[name] {
			continue
		}
		key = key + varySeparator + name + fieldSeparator + strings.Join(req.Header.Values(name), ",")
	}
	return key
}

// Matches reports whether req selects the stored variant identified by key.
// A stored `Vary: *` never matches.
func (k Keyer) Matches(key string, req *http.Request) bool {
	prefix, vary, _ := strings.Cut(key, varySeparator)
	if prefix != k.Key(req) {
		return false
	}
	if vary == "" {
		return true
	}
	for _, line := range strings.Split(vary, varySeparator) {
		name, value, found := strings.Cut(line, fieldSeparator)
		if !found || name == "*" {
			return false
		}
		if ignoredVaryFields[name] {
			continue
		}
		if strings.Join(req.Header.Values(name), ",") != value {
			return false
		}
	}
	return true
}

// VaryFields lists the lower-cased field names of the Vary header.
func VaryFields(header http.Header) []string {
	fields := make([]string, 0)
	for _, value := range header.Values("Vary") {
		for _, field := range strings.Split(value, ",") {
			if field = strings.TrimSpace(field); field != "" {
				fields = append(fields, strings.ToLower(field))
			}
		}
	}
	return fields
}

// IsVariant reports whether key is the prefix itself or the prefix with vary keys added.
func IsVariant(key, prefix string) bool {
	return key == prefix || strings.HasPrefix(key, prefix+varySeparator)
}
