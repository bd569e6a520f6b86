// Package responsetype classifies responses the way a browser does before
// handing them to a fetch handler.
package responsetype

import (
	"net/http"
	"net/url"
	"strings"
)

type Type string

const (
	// Same-origin response that was not redirected.
	Basic Type = "basic"
	// Cross-origin response the origin opted in to sharing.
	CORS Type = "cors"
	// Cross-origin response without CORS headers. Its content is not inspectable.
	Opaque Type = "opaque"
	// Redirect that was returned to the caller instead of being followed.
	OpaqueRedirect Type = "opaqueredirect"
	// Same-origin response reached by following one or more redirects.
	Redirected Type = "redirected"
	// No response at all.
	Error Type = "error"
)

// Classify returns the type of res relative to the scope origin.
// req is the request that was issued; if the final response request
// differs from it, the response was redirected and is not basic.
func Classify(scope url.URL, req *http.Request, res *http.Response) Type {
	if res == nil {
		return Error
	}
	if isRedirect(res.StatusCode) {
		return OpaqueRedirect
	}
	final := req.URL
	if res.Request != nil && res.Request.URL != nil {
		final = res.Request.URL
	}
	if !SameOrigin(scope, final) {
		if res.Header.Get("Access-Control-Allow-Origin") != "" {
			return CORS
		}
		return Opaque
	}
	if redirected(req, res) {
		return Redirected
	}
	return Basic
}

// SameOrigin compares scheme, host and port of u with the scope.
// Relative URLs are always same-origin.
func SameOrigin(scope url.URL, u *url.URL) bool {
	if u == nil || !u.IsAbs() {
		return true
	}
	return strings.EqualFold(scope.Scheme, u.Scheme) &&
		strings.EqualFold(hostPort(&scope), hostPort(u))
}

func redirected(req *http.Request, res *http.Response) bool {
	if res.Request == nil || res.Request == req || res.Request.URL == nil {
		return false
	}
	return res.Request.URL.String() != req.URL.String()
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch strings.ToLower(u.Scheme) {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return u.Hostname() + ":" + port
}

func isRedirect(statusCode int) bool {
	if statusCode == 301 ||
		statusCode == 302 ||
		statusCode == 303 ||
		statusCode == 307 ||
		statusCode == 308 {
		return true
	}
	return false
}
