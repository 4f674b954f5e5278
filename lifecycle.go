package offlinecache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kilimo-guru/offline-cache/cache"
	cachekey "github.com/kilimo-guru/offline-cache/pkg/cache-key"
	serializer "github.com/kilimo-guru/offline-cache/pkg/response-serializer"
)

type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (a *OfflineCache) State() State {
	return State(a.state.Load())
}

func (a *OfflineCache) setState(s State) {
	a.state.Store(int32(s))
	a.log.Debug().Str("state", s.String()).Msg("Lifecycle state changed")
}

// controlling reports whether the proxy intercepts requests.
func (a *OfflineCache) controlling() bool {
	return a.State() == StateActivated
}

func (a *OfflineCache) currentBucket() cache.Bucket {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.bucket
}

// Register installs the proxy and activates it right away, without waiting
// for anything using a previous version to go away.
func (a *OfflineCache) Register(ctx context.Context) error {
	if err := a.Install(ctx); err != nil {
		return err
	}
	return a.Activate(ctx)
}

// Install opens the current bucket and seeds it with the assets.
// A failed seed is logged and does not fail the install,
// but a bucket that cannot be opened does.
func (a *OfflineCache) Install(ctx context.Context) error {
	a.setState(StateInstalling)
	bucket, err := cache.Open(a.cache, a.version)
	if err != nil {
		a.setState(StateRedundant)
		return err
	}
	a.mutex.Lock()
	a.bucket = bucket
	a.mutex.Unlock()

	a.log.Info().Int("assets", len(a.assets)).Msg("Caching static assets")
	if err := a.seed(ctx, bucket); err != nil {
		a.metrics.seed("error")
		a.log.Error().Err(err).Msg("Error caching assets")
	} else {
		a.metrics.seed("ok")
	}
	a.setState(StateInstalled)
	return nil
}

// seed fetches every asset and stores them all, or none if any of them fails.
func (a *OfflineCache) seed(ctx context.Context, bucket cache.Bucket) error {
	entries := make([]cache.CacheEntry, 0, len(a.assets))
	for _, path := range a.assets {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSeedFailed, path, err)
		}
		res, err := a.fetch(req)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSeedFailed, path, err)
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			res.Body.Close()
			return fmt.Errorf("%w: %s: status %d", ErrSeedFailed, path, res.StatusCode)
		}
		storedAt := time.Now()
		res.Request = req
		stripForStorage(res.Header)
		bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
			Response: res,
			StoredAt: storedAt,
		})
		res.Body.Close()
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrSeedFailed, path, err)
		}
		entries = append(entries, cache.CacheEntry{
			Key:      cachekey.GetKey(req),
			StoredAt: storedAt,
			Bytes:    bts,
		})
	}
	if err := bucket.Put(entries...); err != nil {
		return fmt.Errorf("%w: %v", ErrSeedFailed, err)
	}
	return nil
}

// Activate deletes every bucket except the current one and starts intercepting requests.
func (a *OfflineCache) Activate(ctx context.Context) error {
	if a.State() != StateInstalled {
		return fmt.Errorf("activate %s: %w (state %s)", a.version, ErrNotInstalled, a.State())
	}
	a.setState(StateActivating)
	if err := a.prune(ctx); err != nil {
		// back to installed, so activation can be retried
		a.setState(StateInstalled)
		return err
	}
	// claim: from now on every request goes through the proxy
	a.setState(StateActivated)
	return nil
}

// prune deletes every bucket except the current one.
func (a *OfflineCache) prune(ctx context.Context) error {
	names, err := a.cache.Buckets()
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}
	for _, name := range names {
		if name == a.version {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := a.cache.Delete(name)
		if err != nil {
			return fmt.Errorf("delete bucket %q: %w", name, err)
		}
		if deleted {
			a.metrics.prunedBuckets.Inc()
			a.log.Info().Str("bucket", name).Msg("Deleted stale bucket")
		}
	}
	return nil
}

type Status struct {
	Version string   `json:"version"`
	State   string   `json:"state"`
	Entries int      `json:"entries"`
	URLs    []string `json:"urls"`
}

// Status describes the lifecycle state and the contents of the current bucket.
func (a *OfflineCache) Status() (Status, error) {
	status := Status{
		Version: a.version,
		State:   a.State().String(),
		URLs:    []string{},
	}
	if a.State() < StateInstalled || a.State() == StateRedundant {
		return status, nil
	}
	err := a.currentBucket().Keys(func(key string) {
		status.Entries++
		if req, err := cachekey.GetRequestFromKey(key); err == nil {
			status.URLs = append(status.URLs, req.URL.String())
		}
	})
	return status, err
}
