package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	b:<bucket>              bucket marker (gob encoded diskBucket)
//	e:<bucket>\x00<key>     entry (gob encoded diskEntry)
const (
	bucketPrefix   = "b:"
	entryPrefix    = "e:"
	entrySeparator = "\x00"
)

type diskBucket struct {
	CreatedAt int64
}

type diskEntry struct {
	StoredAt int64
	Bytes    []byte
}

type LevelDBCache struct {
	db         *leveldb.DB
	writeMutex *sync.Mutex
}

// NewLevelDBCache opens (or creates) a LevelDB database in the given directory.
func NewLevelDBCache(path string) (LevelDBCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return LevelDBCache{}, fmt.Errorf("open leveldb cache: %w", err)
	}
	return LevelDBCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func bucketKey(bucket string) []byte {
	return []byte(bucketPrefix + bucket)
}

func entriesPrefix(bucket string) []byte {
	return []byte(entryPrefix + bucket + entrySeparator)
}

func entryKey(bucket, key string) []byte {
	return append(entriesPrefix(bucket), key...)
}

func (l LevelDBCache) Create(bucket string) error {
	if bucket == "" {
		return ErrEmptyBucketName
	}
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	batch := new(leveldb.Batch)
	if err := l.createInBatch(batch, bucket); err != nil {
		return err
	}
	return l.db.Write(batch, nil)
}

// createInBatch adds the bucket marker to the batch unless the bucket exists.
func (l LevelDBCache) createInBatch(batch *leveldb.Batch, bucket string) error {
	exists, err := l.db.Has(bucketKey(bucket), nil)
	if err != nil || exists {
		return err
	}
	b, err := encodeGob(diskBucket{CreatedAt: time.Now().UnixNano()})
	if err != nil {
		return err
	}
	batch.Put(bucketKey(bucket), b)
	return nil
}

func (l LevelDBCache) Buckets() ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(bucketPrefix)), nil)
	defer it.Release()

	type named struct {
		name    string
		created int64
	}
	found := make([]named, 0)
	for it.Next() {
		var meta diskBucket
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		name := string(bytes.TrimPrefix(it.Key(), []byte(bucketPrefix)))
		found = append(found, named{name, meta.CreatedAt})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].created < found[j].created
	})
	names := make([]string, 0, len(found))
	for _, n := range found {
		names = append(names, n.name)
	}
	return names, nil
}

func (l LevelDBCache) Delete(bucket string) (bool, error) {
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	exists, err := l.db.Has(bucketKey(bucket), nil)
	if err != nil || !exists {
		return false, err
	}
	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix(entriesPrefix(bucket)), nil)
	for it.Next() {
		// iterator keys are only valid until the next call
		key := append([]byte(nil), it.Key()...)
		batch.Delete(key)
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete(bucketKey(bucket))
	return true, l.db.Write(batch, nil)
}

func (l LevelDBCache) Match(bucket, key string) ([]byte, bool, error) {
	b, err := l.db.Get(entryKey(bucket, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var ent diskEntry
	if err := decodeGob(b, &ent); err != nil {
		return nil, false, err
	}
	return ent.Bytes, true, nil
}

func (l LevelDBCache) Put(bucket string, entries ...CacheEntry) error {
	if bucket == "" {
		return ErrEmptyBucketName
	}
	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()
	batch := new(leveldb.Batch)
	if err := l.createInBatch(batch, bucket); err != nil {
		return err
	}
	for _, ce := range entries {
		b, err := encodeGob(diskEntry{StoredAt: ce.StoredAt.Unix(), Bytes: ce.Bytes})
		if err != nil {
			return err
		}
		batch.Put(entryKey(bucket, ce.Key), b)
	}
	return l.db.Write(batch, nil)
}

func (l LevelDBCache) Keys(bucket string, cb func(string)) error {
	prefix := entriesPrefix(bucket)
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		cb(string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return it.Error()
}

func (l LevelDBCache) Close() error {
	return l.db.Close()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}
