package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/kilimo-guru/offline-cache"
	"github.com/kilimo-guru/offline-cache/cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	providerFlag       string
	dbFilenameFlag     string
	versionTagFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to YAML config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 8080)")
	flag.StringVar(&providerFlag, "provider", "", "Cache provider to use: sqlite, leveldb or memory (default sqlite)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file (sqlite) or directory (leveldb)")
	flag.StringVar(&versionTagFlag, "version-tag", "", "Name of the current cache bucket (default "+offlinecache.DefaultVersion+")")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	var config offlinecache.FileConfig
	if configFilenameFlag != "" {
		var err error
		config, err = offlinecache.LoadConfig(configFilenameFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not load config: %v\n", err)
			os.Exit(1)
		}
	}
	applyFlags(&config)

	setupLogging(config.Log)

	provider, err := openProvider(config.Provider, config.DB)
	if err != nil {
		log.Fatal().Err(err).Str("provider", config.Provider).Msg("Could not open cache")
	}
	defer provider.Close()

	if config.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(config.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse url")
	}

	ocache := offlinecache.CreateCache(offlinecache.Config{
		Cache:        provider,
		OriginURL:    *originURL,
		OriginHost:   config.Host,
		Version:      config.Version,
		Assets:       config.Assets,
		OfflinePath:  config.OfflinePath,
		Notification: config.Notification.Options(),
		Logger:       &log.Logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ocache.Register(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not register offline cache")
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: offlinecache.NewRouter(ocache),
	}
	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not listen")
	}
	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", config.Port, originURL.String(), config.Host)
	if err := serve(ctx, server, listener, ocache); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

// serve runs the server until ctx is done. It returns only after in-flight
// requests have finished and their cache writes have landed, so the provider
// can be closed afterwards.
func serve(ctx context.Context, server *http.Server, listener net.Listener, ocache *offlinecache.OfflineCache) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown did not finish cleanly")
		}
	}()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	// Serve returns as soon as Shutdown starts
	<-done
	ocache.Flush()
	return nil
}

// applyFlags overrides config file values with the flags that were set, and fills in defaults.
func applyFlags(config *offlinecache.FileConfig) {
	if originFlag != "" {
		config.Origin = originFlag
	}
	if hostFlag != "" {
		config.Host = hostFlag
	}
	if portFlag != 0 {
		config.Port = portFlag
	}
	if providerFlag != "" {
		config.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		config.DB = dbFilenameFlag
	}
	if versionTagFlag != "" {
		config.Version = versionTagFlag
	}
	if logFilenameFlag != "" {
		config.Log.File = logFilenameFlag
	}

	if config.Port <= 0 {
		config.Port = 8080
	}
	if config.Provider == "" {
		config.Provider = "sqlite"
	}
	if config.Log.MaxSizeMB <= 0 {
		config.Log.MaxSizeMB = 100
	}
}

// setupLogging sets the global logger to write to stdout,
// and also to a rotated log file if one is configured.
func setupLogging(logConfig offlinecache.LogConfig) {
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logConfig.File != "" {
		logOutputs = append(logOutputs, &lumberjack.Logger{
			Filename:   logConfig.File,
			MaxSize:    logConfig.MaxSizeMB,
			MaxBackups: logConfig.MaxBackups,
			Compress:   logConfig.Compress,
			LocalTime:  true,
		})
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Timestamp().Str("version", version).Logger()
}

func openProvider(provider, db string) (cache.CacheProvider, error) {
	switch provider {
	case "sqlite":
		if db == "" {
			db = "cache.db"
		}
		return cache.NewSQLiteCache(db)
	case "leveldb":
		if db == "" {
			db = "cache.leveldb"
		}
		return cache.NewLevelDBCache(db)
	case "memory":
		return cache.NewMemCache(), nil
	}
	return nil, fmt.Errorf("unsupported cache provider: %s", provider)
}
