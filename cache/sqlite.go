package cache

import (
	"database/sql"
	"net/http"
	"sync"
	"time"

	cachekey "github.com/always-cache/resource-interceptor/pkg/cache-key"

	_ "github.com/glebarez/go-sqlite"
	"github.com/pkg/errors"
)

type SQLiteStorage struct {
	db         *sql.DB
	keyer      cachekey.Keyer
	writeMutex *sync.Mutex
}

// NewSQLiteStorage creates a new storage with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteStorage(filename string, keyer cachekey.Keyer) (SQLiteStorage, error) {
	if filename == "" {
		filename = ":memory:"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteStorage{}, errors.Wrapf(err, "open %s", filename)
	}
	// one connection keeps an in-memory db alive and serializes access to it
	db.SetMaxOpenConns(1)
	statements := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (store, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteStorage{}, errors.Wrap(err, "init cache db")
		}
	}
	return SQLiteStorage{
		db:         db,
		keyer:      keyer,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Close closes the underlying database.
func (s SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s SQLiteStorage) Open(name string) (Store, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)", name, time.Now().Unix())
	if err != nil {
		return nil, errors.Wrapf(err, "open cache %s", name)
	}
	return sqlStore{name: name, storage: s}, nil
}

func (s SQLiteStorage) Keys() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM stores ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteStorage) Has(name string) bool {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM stores WHERE name = ?", name).Scan(&one)
	return err == nil
}

func (s SQLiteStorage) Delete(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE store = ?", name); err != nil {
		return false, err
	}
	result, err := tx.Exec("DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, tx.Commit()
}

type sqlStore struct {
	name    string
	storage SQLiteStorage
}

func (s sqlStore) Name() string {
	return s.name
}

func (s sqlStore) Match(req *http.Request) (*http.Response, bool, error) {
	entries, err := s.variants(s.storage.keyer.Key(req))
	if err != nil {
		return nil, false, err
	}
	e, ok := selectEntry(s.storage.keyer, entries, req)
	if !ok {
		return nil, false, nil
	}
	res, err := toResponse(e)
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (s sqlStore) Contains(req *http.Request) (bool, error) {
	entries, err := s.variants(s.storage.keyer.Key(req))
	return len(entries) > 0, err
}

func (s sqlStore) Put(req *http.Request, res *http.Response) error {
	return s.PutAll([]Pair{{Request: req, Response: res}})
}

// PutAll writes all entries in one transaction.
func (s sqlStore) PutAll(pairs []Pair) error {
	entries := make([]Entry, 0, len(pairs))
	for _, p := range pairs {
		e, err := NewEntry(s.storage.keyer, p.Request, p.Response)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	s.storage.writeMutex.Lock()
	defer s.storage.writeMutex.Unlock()
	tx, err := s.storage.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	// writes through a handle to a deleted store must not bring it back
	var one int
	if err := tx.QueryRow("SELECT 1 FROM stores WHERE name = ?", s.name).Scan(&one); err == sql.ErrNoRows {
		return ErrStoreNotFound
	} else if err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, e := range entries {
		_, err := tx.Exec(`INSERT OR REPLACE INTO entries
			(store, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
			s.name, e.Key, now, e.Bytes)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s sqlStore) Delete(req *http.Request) (bool, error) {
	entries, err := s.variants(s.storage.keyer.Key(req))
	if err != nil {
		return false, err
	}
	s.storage.writeMutex.Lock()
	defer s.storage.writeMutex.Unlock()
	deleted := false
	for _, e := range entries {
		if !s.storage.keyer.Matches(e.Key, req) {
			continue
		}
		if _, err := s.storage.db.Exec("DELETE FROM entries WHERE store = ? AND key = ?", s.name, e.Key); err != nil {
			return deleted, err
		}
		deleted = true
	}
	return deleted, nil
}

func (s sqlStore) Keys() ([]string, error) {
	rows, err := s.storage.db.Query("SELECT key FROM entries WHERE store = ? ORDER BY key", s.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// variants returns the entries stored for the key prefix.
// Variant keys continue the prefix with a newline, so they sort in
// [prefix+"\n", prefix+"\v") and both lookups use the primary key.
func (s sqlStore) variants(prefix string) ([]Entry, error) {
	rows, err := s.storage.db.Query(
		"SELECT key, bytes FROM entries WHERE store = ? AND (key = ? OR (key >= ? AND key < ?))",
		s.name, prefix, prefix+"\n", prefix+"\v",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Bytes); err != nil {
			return entries, err
		}
		if cachekey.IsVariant(e.Key, prefix) {
			entries = append(entries, e)
		}
	}
	return entries, rows.Err()
}
