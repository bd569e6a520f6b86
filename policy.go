package interceptor

import (
	"fmt"
	"strings"
)

// Policy selects how fetch events are resolved. It is fixed per deployment.
type Policy int

const (
	// Every request goes to the network. No cache store is kept.
	NetworkOnly Policy = iota
	// Requests are answered from the cache store when possible,
	// successful same-origin network responses are added to it.
	CacheFirst
)

func (p Policy) String() string {
	switch p {
	case NetworkOnly:
		return "network-only"
	case CacheFirst:
		return "cache-first"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

// ParsePolicy parses `network-only` or `cache-first` (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "network-only", "networkonly":
		return NetworkOnly, nil
	case "cache-first", "cachefirst":
		return CacheFirst, nil
	}
	return 0, fmt.Errorf("Unsupported policy: %s", s)
}
