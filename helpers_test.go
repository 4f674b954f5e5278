package offlinecache

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/kilimo-guru/offline-cache/cache"

	"github.com/rs/zerolog"
)

// testOrigin is an origin server that counts the requests it gets.
type testOrigin struct {
	*httptest.Server
	hits atomic.Int32
}

func newTestOrigin(t *testing.T, handler http.Handler) *testOrigin {
	t.Helper()
	o := &testOrigin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *testOrigin) Hits() int {
	return int(o.hits.Load())
}

// siteMux serves a tiny site: pages, a stylesheet, the offline page and some error paths.
func siteMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("page " + r.URL.RequestURI() + " via " + r.Method))
	})
	mux.HandleFunc("/a.css", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte("body { color: green; }"))
	})
	mux.HandleFunc("/offline/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("You are offline"))
	})
	mux.HandleFunc("/profile/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "wanjiku-secret"})
		w.Header().Set("Connection", "X-Upstream-Trace")
		w.Header().Set("X-Upstream-Trace", "edge-1")
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("Habari Wanjiku"))
	})
	// /fresh/ answers conditional and range requests the way a real origin would
	mux.HandleFunc("/fresh/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if r.Header.Get("Range") != "" {
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("bei"))
			return
		}
		w.Write([]byte("bei ya soko"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	})
	mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusMovedPermanently)
	})
	return mux
}

func newTestCache(t *testing.T, origin *testOrigin, configure ...func(*Config)) (*OfflineCache, cache.CacheProvider) {
	t.Helper()
	originURL, err := url.Parse(origin.URL)
	if err != nil {
		t.Fatal(err)
	}
	logger := zerolog.Nop()
	provider := cache.NewMemCache()
	config := Config{
		Cache:     provider,
		OriginURL: *originURL,
		Assets:    []string{},
		Logger:    &logger,
	}
	for _, c := range configure {
		c(&config)
	}
	return CreateCache(config), provider
}

func withAssets(assets ...string) func(*Config) {
	return func(c *Config) {
		c.Assets = assets
	}
}

func get(a http.Handler, target string, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rr := httptest.NewRecorder()
	a.ServeHTTP(rr, req)
	return rr
}

func bucketKeys(t *testing.T, provider cache.CacheProvider, bucket string) []string {
	t.Helper()
	keys := []string{}
	if err := provider.Keys(bucket, func(k string) { keys = append(keys, k) }); err != nil {
		t.Fatal(err)
	}
	return keys
}
