package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// CacheProvider is an interface for a cache provider.
// It stores and retrieves []byte values, which represent HTTP responses,
// grouped into named buckets.
// A bucket is the unit of versioning: entries are never expired one by one,
// they live until the whole bucket is deleted.
//
// Implementations must be thread-safe!
type CacheProvider interface {
	// Create makes sure a bucket with the given name exists.
	// Creating an existing bucket is not an error.
	Create(bucket string) error
	// Buckets returns the names of all existing buckets.
	Buckets() ([]string, error)
	// Delete removes the bucket and all of its entries.
	// It returns true if the bucket existed.
	Delete(bucket string) (bool, error)
	// Match returns the stored bytes for the given key in the bucket, if it exists.
	// It also returns a boolean indicating whether retrieval was successful.
	Match(bucket, key string) ([]byte, bool, error)
	// Put stores the given entries in the bucket, creating the bucket if needed.
	// Either all entries are stored or none.
	// Existing entries with the same key are replaced.
	Put(bucket string, entries ...CacheEntry) error
	// Keys calls the given callback for each key in the bucket.
	Keys(bucket string, cb func(string)) error
	// Close releases the underlying storage.
	Close() error
}

type CacheEntry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}

// ErrEmptyBucketName is returned when an operation is given an empty bucket name.
var ErrEmptyBucketName = errors.New("bucket name required")

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, fmt.Errorf("open sqlite cache: %w", err)
	}
	statements := []string{
		`CREATE TABLE IF NOT EXISTS buckets (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			bucket TEXT,
			key TEXT,
			stored_at INTEGER,
			bytes BLOB,
			PRIMARY KEY (bucket, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("prepare sqlite cache: %w", err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s SQLiteCache) Create(bucket string) error {
	if bucket == "" {
		return ErrEmptyBucketName
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)", bucket, time.Now().UnixNano())
	return err
}

func (s SQLiteCache) Buckets() ([]string, error) {
	names := make([]string, 0)
	rows, err := s.db.Query("SELECT name FROM buckets ORDER BY created_at, name")
	if err != nil {
		return names, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s SQLiteCache) Delete(bucket string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE bucket = ?", bucket); err != nil {
		return false, err
	}
	result, err := tx.Exec("DELETE FROM buckets WHERE name = ?", bucket)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, tx.Commit()
}

func (s SQLiteCache) Match(bucket, key string) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow("SELECT bytes FROM entries WHERE bucket = ? AND key = ?", bucket, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s SQLiteCache) Put(bucket string, entries ...CacheEntry) error {
	if bucket == "" {
		return ErrEmptyBucketName
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("INSERT OR IGNORE INTO buckets (name, created_at) VALUES (?, ?)", bucket, time.Now().UnixNano()); err != nil {
		return err
	}
	for _, ce := range entries {
		_, err := tx.Exec(`INSERT OR REPLACE INTO entries
			(bucket, key, stored_at, bytes) VALUES (?, ?, ?, ?)`,
			bucket, ce.Key, ce.StoredAt.Unix(), ce.Bytes)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s SQLiteCache) Keys(bucket string, cb func(string)) error {
	rows, err := s.db.Query("SELECT key FROM entries WHERE bucket = ? ORDER BY key", bucket)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return err
		}
		cb(key)
	}
	return rows.Err()
}

func (s SQLiteCache) Close() error {
	return s.db.Close()
}
