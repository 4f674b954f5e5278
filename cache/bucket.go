package cache

import "fmt"

// Bucket is a handle to one named bucket of a CacheProvider.
type Bucket struct {
	name     string
	provider CacheProvider
}

// Open returns a handle to the named bucket, creating the bucket if it does not exist.
func Open(provider CacheProvider, name string) (Bucket, error) {
	if err := provider.Create(name); err != nil {
		return Bucket{}, fmt.Errorf("open bucket %q: %w", name, err)
	}
	return Bucket{name: name, provider: provider}, nil
}

func (b Bucket) Name() string {
	return b.name
}

func (b Bucket) Match(key string) ([]byte, bool, error) {
	return b.provider.Match(b.name, key)
}

func (b Bucket) Put(entries ...CacheEntry) error {
	return b.provider.Put(b.name, entries...)
}

func (b Bucket) Keys(cb func(string)) error {
	return b.provider.Keys(b.name, cb)
}

// Len returns the number of entries in the bucket.
func (b Bucket) Len() (int, error) {
	n := 0
	err := b.provider.Keys(b.name, func(string) { n++ })
	return n, err
}
