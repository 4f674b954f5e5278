package cache

import (
	"sort"
	"sync"
)

type MemCache struct {
	mutex   *sync.RWMutex
	buckets map[string]map[string]CacheEntry
	order   *[]string
}

func NewMemCache() MemCache {
	return MemCache{
		mutex:   &sync.RWMutex{},
		buckets: make(map[string]map[string]CacheEntry),
		order:   &[]string{},
	}
}

func (m MemCache) Create(bucket string) error {
	if bucket == "" {
		return ErrEmptyBucketName
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.create(bucket)
	return nil
}

// create must be called with the write lock held.
func (m MemCache) create(bucket string) map[string]CacheEntry {
	entries, ok := m.buckets[bucket]
	if !ok {
		entries = make(map[string]CacheEntry)
		m.buckets[bucket] = entries
		*m.order = append(*m.order, bucket)
	}
	return entries
}

func (m MemCache) Buckets() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, len(*m.order))
	copy(names, *m.order)
	return names, nil
}

func (m MemCache) Delete(bucket string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		return false, nil
	}
	delete(m.buckets, bucket)
	order := (*m.order)[:0]
	for _, name := range *m.order {
		if name != bucket {
			order = append(order, name)
		}
	}
	*m.order = order
	return true, nil
}

func (m MemCache) Match(bucket, key string) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.buckets[bucket][key]
	if !ok {
		return nil, false, nil
	}
	return entry.Bytes, true, nil
}

func (m MemCache) Put(bucket string, entries ...CacheEntry) error {
	if bucket == "" {
		return ErrEmptyBucketName
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	stored := m.create(bucket)
	for _, ce := range entries {
		stored[ce.Key] = ce
	}
	return nil
}

func (m MemCache) Keys(bucket string, cb func(string)) error {
	m.mutex.RLock()
	keys := make([]string, 0, len(m.buckets[bucket]))
	for key := range m.buckets[bucket] {
		keys = append(keys, key)
	}
	m.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (m MemCache) Close() error {
	return nil
}
