package offlinecache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilimo-guru/offline-cache/cache"
	"github.com/kilimo-guru/offline-cache/formsync"
	"github.com/kilimo-guru/offline-cache/notify"
	cachekey "github.com/kilimo-guru/offline-cache/pkg/cache-key"
	serializer "github.com/kilimo-guru/offline-cache/pkg/response-serializer"
	tee "github.com/kilimo-guru/offline-cache/pkg/response-writer-tee"

	"github.com/rs/zerolog"
)

var (
	// ErrFetchFailed is returned when the origin could not be reached.
	// Non-200 responses are not failures.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrSeedFailed is logged when the assets could not be pre-cached on install.
	ErrSeedFailed = errors.New("seeding assets failed")
	// ErrNotInstalled is returned when activating a proxy that has not been installed.
	ErrNotInstalled = errors.New("not installed")
)

// FormSyncer resubmits deferred form submissions on a background sync event.
type FormSyncer interface {
	SyncFormSubmissions(ctx context.Context) error
}

type Config struct {
	// Storage for cache buckets.
	Cache cache.CacheProvider
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Name of the current bucket. DefaultVersion if empty.
	Version string
	// Paths seeded on install. DefaultAssets if nil.
	Assets []string
	// Page served to HTML requests when the origin cannot be reached. DefaultOfflinePath if empty.
	OfflinePath string
	// Metadata of push notifications. Empty fields get the defaults.
	Notification notify.Options
	// Where push notifications are shown. An in-memory tray if nil.
	Displayer notify.Displayer
	// Opens pages for clicked notifications. Only logs if nil.
	Opener notify.WindowOpener
	// Called for background sync events with the form sync tag. Only logs if nil.
	Syncer FormSyncer
	// Metrics to record to. A new registry is created if nil.
	Metrics *Metrics
	// Transport for origin requests. http.DefaultTransport if nil.
	Transport http.RoundTripper
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type OfflineCache struct {
	cache        cache.CacheProvider
	version      string
	assets       []string
	offlinePath  string
	originURL    url.URL
	originHost   string
	httpClient   http.Client
	reverseproxy httputil.ReverseProxy
	notification notify.Options
	displayer    notify.Displayer
	opener       notify.WindowOpener
	syncer       FormSyncer
	metrics      *Metrics
	log          zerolog.Logger

	state  atomic.Int32
	mutex  sync.RWMutex
	bucket cache.Bucket
	writes sync.WaitGroup
}

// CreateCache sets up the offline cache proxy.
// The proxy does not intercept anything until it has been installed and activated,
// see Register.
func CreateCache(config Config) *OfflineCache {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	a := &OfflineCache{
		cache:        config.Cache,
		version:      config.Version,
		assets:       config.Assets,
		offlinePath:  config.OfflinePath,
		originURL:    config.OriginURL,
		originHost:   config.OriginHost,
		notification: config.Notification,
		displayer:    config.Displayer,
		opener:       config.Opener,
		syncer:       config.Syncer,
		metrics:      config.Metrics,
	}
	if a.version == "" {
		a.version = DefaultVersion
	}
	if a.assets == nil {
		a.assets = DefaultAssets()
	}
	if a.offlinePath == "" {
		a.offlinePath = DefaultOfflinePath
	}
	if a.metrics == nil {
		a.metrics = NewMetrics()
	}
	a.notification = withNotificationDefaults(a.notification)

	// create a child logger and add defaults
	a.log = logger.With().
		Str("cache", a.version).
		Logger()

	if a.displayer == nil {
		a.displayer = notify.NewTray(a.log)
	}
	if a.opener == nil {
		a.opener = notify.LogOpener(a.log)
	}
	if a.syncer == nil {
		a.syncer = formsync.NewSyncer(a.log)
	}

	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	// use provided hostname for origin if configured
	if config.OriginHost != "" && config.Transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: config.OriginHost,
			},
		}
	}
	a.httpClient = http.Client{
		Transport: transport,
		// do not follow redirects
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	hostHeader := config.OriginURL.Host
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
	}
	a.reverseproxy = httputil.ReverseProxy{
		Director:  createDirector(config.OriginURL.Scheme, config.OriginURL.Host, hostHeader),
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			a.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not pass request through to origin")
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return a
}

func withNotificationDefaults(opts notify.Options) notify.Options {
	if opts.Title == "" {
		opts.Title = DefaultNotificationTitle
	}
	if opts.Icon == "" {
		opts.Icon = DefaultNotificationIcon
	}
	if opts.Badge == "" {
		opts.Badge = DefaultNotificationBadge
	}
	if opts.Vibrate == nil {
		opts.Vibrate = DefaultVibrate()
	}
	if opts.DefaultURL == "" {
		opts.DefaultURL = DefaultNotificationURL
	}
	return opts
}

func (a *OfflineCache) Version() string {
	return a.version
}

func (a *OfflineCache) Metrics() *Metrics {
	return a.metrics
}

// ServeHTTP implements the http.Handler interface.
func (a *OfflineCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer a.recover(w, r)
	a.handle(w, r)
}

// recover recovers from panics and sends the request to the escape hatch.
func (a *OfflineCache) recover(w http.ResponseWriter, r *http.Request) {
	if err := recover(); err != nil {
		if err == http.ErrAbortHandler {
			panic(err)
		}
		a.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in cache handler")
		a.escapeHatch(w, r)
	}
}

// escapeHatch is a fallback handler that just proxies the request to the origin.
func (a *OfflineCache) escapeHatch(w http.ResponseWriter, r *http.Request) {
	a.reverseproxy.ServeHTTP(w, r)
}

// handle is the main entry point for intercepted requests.
// Skip conditions are checked before any bucket lookup.
func (a *OfflineCache) handle(w http.ResponseWriter, r *http.Request) {
	if fwdReason := a.shouldBypass(r); fwdReason != "" {
		a.bypass(w, r, fwdReason)
		return
	}

	bucket := a.currentBucket()
	key := cachekey.GetKey(r)
	log := a.log.With().Str("key", key).Logger()
	var cacheStatus CacheStatus

	if res, ok := a.match(bucket, key, r); ok {
		cacheStatus.Hit()
		a.metrics.request(outcomeHit)
		a.send(w, res, cacheStatus)
		return
	}
	cacheStatus.Forward(CacheStatusFwdUriMiss)

	log.Trace().Msg("Forwarding to origin")
	res, err := a.fetch(r)
	if err != nil {
		log.Error().Err(err).Msg("Fetch failed")
		a.fallback(w, r, bucket)
		return
	}

	// do not cache non-successful responses
	if res.StatusCode != http.StatusOK {
		a.metrics.request(outcomeMiss)
		a.send(w, res, cacheStatus)
		return
	}

	// respond and keep a copy of what was sent
	cacheStatus.Stored = true
	a.metrics.request(outcomeMissStored)
	rwtee := tee.NewResponseSaver(w)
	if err := a.send(rwtee, res, cacheStatus); err != nil {
		log.Warn().Err(err).Msg("Response was not fully read from origin, not storing")
		return
	}
	// save to cache in goroutine (do not slow down response)
	a.storeInBackground(bucket, key, rwtee.Response(r))
}

// shouldBypass returns a non-empty forward reason if the request must be passed through untouched.
func (a *OfflineCache) shouldBypass(r *http.Request) CacheStatusFwdReason {
	if r.Method != http.MethodGet {
		return CacheStatusFwdMethod
	}
	uri := r.URL.RequestURI()
	if strings.Contains(uri, "/api/") || strings.Contains(uri, "/admin/") {
		return CacheStatusFwdBypass
	}
	if !a.controlling() {
		return CacheStatusFwdBypass
	}
	return ""
}

// bypass pipes the request through to the origin as if the proxy was not there.
func (a *OfflineCache) bypass(w http.ResponseWriter, r *http.Request, fwdReason CacheStatusFwdReason) {
	a.metrics.request(outcomeBypass)
	a.log.Trace().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("fwd", string(fwdReason)).
		Msg("Passing request through")
	a.reverseproxy.ServeHTTP(w, r)
}

// fallback answers a request whose fetch failed.
// HTML requests get the stored offline page, everything else gets the failure.
func (a *OfflineCache) fallback(w http.ResponseWriter, r *http.Request, bucket cache.Bucket) {
	if acceptsHTML(r) {
		offlineKey := cachekey.PathKey(a.offlinePath)
		if res, ok := a.match(bucket, offlineKey, r); ok {
			cacheStatus := CacheStatus{}
			cacheStatus.Hit()
			cacheStatus.Detail("offline")
			a.metrics.request(outcomeOfflineFallback)
			a.send(w, res, cacheStatus)
			return
		}
		a.log.Warn().Str("key", offlineKey).Msg("Offline page is not cached")
	}
	a.metrics.request(outcomeFetchFailed)
	cacheStatus := CacheStatus{}
	cacheStatus.Forward(CacheStatusFwdUriMiss)
	cacheStatus.Detail("fetch-failed")
	w.Header().Set("Cache-Status", cacheStatus.String())
	// the cause stays in the log, it names the origin address
	http.Error(w, ErrFetchFailed.Error(), http.StatusBadGateway)
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// match returns the stored response for the key, if any.
// Unreadable entries count as misses.
func (a *OfflineCache) match(bucket cache.Bucket, key string, r *http.Request) (*http.Response, bool) {
	bts, ok, err := bucket.Match(key)
	if err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not retrieve from cache")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	sRes, err := serializer.BytesToStoredResponse(bts, r)
	if err != nil {
		a.log.Error().Err(err).Str("key", key).Msg("Could not read stored response")
		return nil, false
	}
	a.log.Trace().Str("key", key).Time("stored", sRes.StoredAt).Msg("Cache hit")
	return sRes.Response, true
}

// storeInBackground writes the response to the bucket without blocking the caller.
// Until the write lands, a concurrent request for the same key still misses.
func (a *OfflineCache) storeInBackground(bucket cache.Bucket, key string, res *http.Response) {
	stripForStorage(res.Header)
	a.writes.Add(1)
	go func() {
		defer a.writes.Done()
		if err := a.store(bucket, key, res); err != nil {
			a.metrics.cacheWrite("error")
			a.log.Error().Err(err).Str("key", key).Msg("Could not write to cache")
			return
		}
		a.metrics.cacheWrite("ok")
	}()
}

func (a *OfflineCache) store(bucket cache.Bucket, key string, res *http.Response) error {
	storedAt := time.Now()
	bts, err := serializer.StoredResponseToBytes(serializer.StoredResponse{
		Response: res,
		StoredAt: storedAt,
	})
	if err != nil {
		return err
	}
	a.log.Trace().Str("key", key).Msg("Cache write")
	return bucket.Put(cache.CacheEntry{Key: key, StoredAt: storedAt, Bytes: bts})
}

// Flush waits for background cache writes to finish.
func (a *OfflineCache) Flush() {
	a.writes.Wait()
}

// fetch the resource specified in the incoming request from the origin
func (a *OfflineCache) fetch(r *http.Request) (*http.Response, error) {
	uri := a.originURL.String() + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(r.Context(), r.Method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Host = a.originHost
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	// whatever is fetched here may be stored, so ask for the full representation
	for _, name := range conditionalHeaders {
		req.Header.Del(name)
	}

	res, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return res, nil
}

func (a *OfflineCache) send(w http.ResponseWriter, res *http.Response, status CacheStatus) error {
	if res.Body != nil {
		defer res.Body.Close()
	}
	reqURL := ""
	if res.Request != nil {
		reqURL = res.Request.URL.String()
	}
	a.log.Debug().
		Str("url", reqURL).
		Int("code", res.StatusCode).
		Str("status", string(status.Status)).
		Str("fwd", string(status.FwdReason)).
		Bool("stored", status.Stored).
		Msg("Sending response to client")

	copyHeader(w.Header(), res.Header)
	w.Header().Set("Cache-Status", status.String())
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return nil
	}
	bytesWritten, err := io.Copy(w, res.Body)
	a.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
	return err
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// this is a workaround to remove default headers sent by an upstream proxy
		// some servers do not like the presence of these headers in the downstream request
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
