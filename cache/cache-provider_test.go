package cache

import (
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func providers(t *testing.T) map[string]CacheProvider {
	t.Helper()
	sqlite, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	ldb, err := NewLevelDBCache(filepath.Join(t.TempDir(), "leveldb"))
	if err != nil {
		t.Fatalf("leveldb: %v", err)
	}
	all := map[string]CacheProvider{
		"memory":  NewMemCache(),
		"sqlite":  sqlite,
		"leveldb": ldb,
	}
	t.Cleanup(func() {
		for _, p := range all {
			p.Close()
		}
	})
	return all
}

func TestPutAndMatch(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			err := p.Put("v1", CacheEntry{Key: "GET:/a.css", StoredAt: time.Now(), Bytes: []byte("body")})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			b, ok, err := p.Match("v1", "GET:/a.css")
			if err != nil || !ok {
				t.Fatalf("match: ok=%v err=%v", ok, err)
			}
			if string(b) != "body" {
				t.Fatalf("bytes are %s", b)
			}
			if _, ok, err := p.Match("v1", "GET:/missing"); ok || err != nil {
				t.Fatalf("missing key matched: ok=%v err=%v", ok, err)
			}
			if _, ok, err := p.Match("v0", "GET:/a.css"); ok || err != nil {
				t.Fatalf("key matched in other bucket: ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestPutReplaces(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			p.Put("v1", CacheEntry{Key: "k", Bytes: []byte("first")})
			p.Put("v1", CacheEntry{Key: "k", Bytes: []byte("second")})
			b, _, _ := p.Match("v1", "k")
			if string(b) != "second" {
				t.Fatalf("last write did not win: %s", b)
			}
		})
	}
}

func TestBucketsAndDelete(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			if err := p.Create("kilimo-guru-v0"); err != nil {
				t.Fatal(err)
			}
			if err := p.Create("kilimo-guru-v1"); err != nil {
				t.Fatal(err)
			}
			// creating twice is fine
			if err := p.Create("kilimo-guru-v1"); err != nil {
				t.Fatal(err)
			}
			p.Put("kilimo-guru-v0", CacheEntry{Key: "GET:/", Bytes: []byte("old")})

			names, err := p.Buckets()
			if err != nil {
				t.Fatal(err)
			}
			sort.Strings(names)
			if len(names) != 2 || names[0] != "kilimo-guru-v0" || names[1] != "kilimo-guru-v1" {
				t.Fatalf("buckets are %v", names)
			}

			deleted, err := p.Delete("kilimo-guru-v0")
			if err != nil || !deleted {
				t.Fatalf("delete: deleted=%v err=%v", deleted, err)
			}
			if deleted, _ := p.Delete("kilimo-guru-v0"); deleted {
				t.Fatal("deleted a bucket twice")
			}
			if _, ok, _ := p.Match("kilimo-guru-v0", "GET:/"); ok {
				t.Fatal("entry survived bucket deletion")
			}
			names, _ = p.Buckets()
			if len(names) != 1 || names[0] != "kilimo-guru-v1" {
				t.Fatalf("buckets after delete are %v", names)
			}
		})
	}
}

func TestKeys(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			p.Put("v1",
				CacheEntry{Key: "GET:/b"},
				CacheEntry{Key: "GET:/a"},
			)
			p.Put("v2", CacheEntry{Key: "GET:/c"})
			keys := []string{}
			if err := p.Keys("v1", func(k string) { keys = append(keys, k) }); err != nil {
				t.Fatal(err)
			}
			sort.Strings(keys)
			if len(keys) != 2 || keys[0] != "GET:/a" || keys[1] != "GET:/b" {
				t.Fatalf("keys are %v", keys)
			}
		})
	}
}

func TestEmptyBucketName(t *testing.T) {
	for name, p := range providers(t) {
		t.Run(name, func(t *testing.T) {
			if err := p.Create(""); err != ErrEmptyBucketName {
				t.Fatalf("expected ErrEmptyBucketName, got %v", err)
			}
			if err := p.Put("", CacheEntry{Key: "k"}); err != ErrEmptyBucketName {
				t.Fatalf("expected ErrEmptyBucketName, got %v", err)
			}
		})
	}
}

func TestBucketHandle(t *testing.T) {
	p := NewMemCache()
	b, err := Open(p, "kilimo-guru-v1")
	if err != nil {
		t.Fatal(err)
	}
	if names, _ := p.Buckets(); len(names) != 1 || names[0] != b.Name() {
		t.Fatalf("open did not create bucket: %v", names)
	}
	b.Put(CacheEntry{Key: "GET:/"}, CacheEntry{Key: "GET:/offline/"})
	if n, err := b.Len(); err != nil || n != 2 {
		t.Fatalf("len is %d (%v)", n, err)
	}
	if _, err := Open(p, ""); err == nil {
		t.Fatal("opened bucket with empty name")
	}
}
