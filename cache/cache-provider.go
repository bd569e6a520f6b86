package cache

import (
	"fmt"
	"net/http"

	cachekey "github.com/always-cache/resource-interceptor/pkg/cache-key"
	serializer "github.com/always-cache/resource-interceptor/pkg/response-serializer"
)

var ErrStoreNotFound = fmt.Errorf("Cache store not found")

// Storage is the set of named cache stores available to an origin.
// It mirrors what a browser exposes as `caches`.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open returns the store with the given name, creating it if it does not exist.
	Open(name string) (Store, error)
	// Keys returns the names of all stores in creation order.
	Keys() ([]string, error)
	// Has checks if a store with the given name exists.
	Has(name string) bool
	// Delete removes the store and all of its entries.
	// It returns false if there was no such store.
	Delete(name string) (bool, error)
}

// Store holds request/response pairs keyed by request identity.
// Entries never expire; they live until deleted together with their store.
//
// Implementations must be thread-safe!
type Store interface {
	// Name of the store.
	Name() string
	// Match returns the stored response for the request, if any.
	// The returned response has its own body and can be read freely.
	Match(req *http.Request) (*http.Response, bool, error)
	// Contains reports whether any variant is stored for the request method and URL,
	// whether or not its vary headers select it.
	Contains(req *http.Request) (bool, error)
	// Put stores the response under the identity of the request.
	// The response body is consumed and set back.
	Put(req *http.Request, res *http.Response) error
	// PutAll stores all pairs, or none of them if any of them fails.
	PutAll(pairs []Pair) error
	// Delete removes all stored variants for the request.
	Delete(req *http.Request) (bool, error)
	// Keys returns the keys of all entries in the store.
	Keys() ([]string, error)
}

// Pair is a request together with the response it resulted in.
type Pair struct {
	Request  *http.Request
	Response *http.Response
}

// Entry is the stored representation of a Pair.
type Entry struct {
	Key   string
	Bytes []byte
}

// NewEntry serializes a request/response pair to an entry.
func NewEntry(keyer cachekey.Keyer, req *http.Request, res *http.Response) (Entry, error) {
	if res == nil {
		return Entry{}, fmt.Errorf("Cannot store nil response for %s", req.URL)
	}
	stored := req.Clone(req.Context())
	stored.URL = keyer.Resolve(req.URL)
	stored.Host = stored.URL.Host
	res.Request = stored
	key := keyer.AddVaryKeys(keyer.Key(req), req, res)
	bts, err := serializer.ResponseToBytes(res)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Bytes: bts}, nil
}

// selectEntry returns the first entry that matches the request, taking vary keys into account.
func selectEntry(keyer cachekey.Keyer, entries []Entry, req *http.Request) (Entry, bool) {
	for _, e := range entries {
		if keyer.Matches(e.Key, req) {
			return e, true
		}
	}
	return Entry{}, false
}

func toResponse(e Entry) (*http.Response, error) {
	return serializer.BytesToResponse(e.Bytes)
}
