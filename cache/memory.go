package cache

import (
	"net/http"
	"sort"
	"sync"

	cachekey "github.com/always-cache/resource-interceptor/pkg/cache-key"
)

// MemStorage keeps all stores in process memory.
type MemStorage struct {
	mutex  *sync.RWMutex
	keyer  cachekey.Keyer
	stores map[string]*memStore
	// creation counter, for ordering Keys
	seq *uint64
}

func NewMemStorage(keyer cachekey.Keyer) MemStorage {
	return MemStorage{
		mutex:  &sync.RWMutex{},
		keyer:  keyer,
		stores: make(map[string]*memStore),
		seq:    new(uint64),
	}
}

func (m MemStorage) Open(name string) (Store, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	*m.seq++
	s := &memStore{
		name:  name,
		seq:   *m.seq,
		keyer: m.keyer,
		mutex: &sync.RWMutex{},
		db:    make(map[string][]byte),
	}
	m.stores[name] = s
	return s, nil
}

func (m MemStorage) Keys() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return m.stores[names[i]].seq < m.stores[names[j]].seq
	})
	return names, nil
}

func (m MemStorage) Has(name string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.stores[name]
	return ok
}

func (m MemStorage) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.stores[name]
	if !ok {
		return false, nil
	}
	delete(m.stores, name)
	s.mutex.Lock()
	s.deleted = true
	s.mutex.Unlock()
	return true, nil
}

type memStore struct {
	name    string
	seq     uint64
	keyer   cachekey.Keyer
	mutex   *sync.RWMutex
	db      map[string][]byte
	deleted bool
}

func (s *memStore) Name() string {
	return s.name
}

func (s *memStore) Match(req *http.Request) (*http.Response, bool, error) {
	s.mutex.RLock()
	entries := s.variants(s.keyer.Key(req))
	s.mutex.RUnlock()
	e, ok := selectEntry(s.keyer, entries, req)
	if !ok {
		return nil, false, nil
	}
	res, err := toResponse(e)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (s *memStore) Contains(req *http.Request) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.variants(s.keyer.Key(req))) > 0, nil
}

func (s *memStore) Put(req *http.Request, res *http.Response) error {
	e, err := NewEntry(s.keyer, req, res)
	if err != nil {
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.deleted {
		return ErrStoreNotFound
	}
	s.db[e.Key] = e.Bytes
	return nil
}

func (s *memStore) PutAll(pairs []Pair) error {
	entries := make([]Entry, 0, len(pairs))
	for _, p := range pairs {
		e, err := NewEntry(s.keyer, p.Request, p.Response)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.deleted {
		return ErrStoreNotFound
	}
	for _, e := range entries {
		s.db[e.Key] = e.Bytes
	}
	return nil
}

func (s *memStore) Delete(req *http.Request) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	deleted := false
	for _, e := range s.variants(s.keyer.Key(req)) {
		if s.keyer.Matches(e.Key, req) {
			delete(s.db, e.Key)
			deleted = true
		}
	}
	return deleted, nil
}

func (s *memStore) Keys() ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	keys := make([]string, 0, len(s.db))
	for key := range s.db {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// variants returns the entries stored for the key prefix.
// The caller must hold the mutex.
func (s *memStore) variants(prefix string) []Entry {
	entries := make([]Entry, 0)
	for key, bts := range s.db {
		if cachekey.IsVariant(key, prefix) {
			entries = append(entries, Entry{Key: key, Bytes: bts})
		}
	}
	return entries
}
