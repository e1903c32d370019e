package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/abugrin/scim-proxy/config"
	"github.com/abugrin/scim-proxy/proxy"
)

// upstreamPageSize bounds how many resources the Pagination Adapter asks
// for per upstream fetch while filtering; FILTER_FETCH_MULTIPLIER and
// MAX_FILTER_FETCH_SIZE (both configurable) bound how many upstream
// records it's willing to fetch in total.
const upstreamPageSize = 100

func must(err error) {
	if err != nil {
		log.Fatal(err.Error())
	}
}

// waitForShutdownSignal blocks until SIGINT or SIGTERM arrives, the same
// shutdown trigger the teacher's cmd/windermere/main.go waits on.
func waitForShutdownSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
}

// buildCacheStore selects the CacheStore backend named by cfg.CacheBackend
// (§4.8A): "memory" (the default) or "sql", opened against
// CacheBackendDriver/CacheBackendDSN.
func buildCacheStore(cfg config.Config) (proxy.CacheStore, *proxy.MemoryStore, error) {
	if cfg.CacheBackend != "sql" {
		mem := proxy.NewMemoryStore()
		return mem, mem, nil
	}

	db, err := sqlx.Open(cfg.CacheBackendDriver, cfg.CacheBackendDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	store, err := proxy.NewSQLStore(db)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return store, nil, nil
}

func main() {
	configPath := flag.String("config", "", "path to a configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	must(err)

	if cfg.ProxyWorkers > 0 {
		runtime.GOMAXPROCS(cfg.ProxyWorkers)
	}

	client, err := proxy.NewUpstreamClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, cfg.UpstreamMaxConns)
	must(err)

	store, memStore, err := buildCacheStore(cfg)
	must(err)

	if memStore != nil && cfg.CacheSnapshotPath != "" {
		if err := proxy.RestoreStore(memStore, cfg.CacheSnapshotPath); err != nil {
			log.Printf("Failed to restore cache snapshot: %v", err)
		}
	}

	cache := proxy.NewResponseCache(store, cfg.CacheTTL, cfg.CacheMaxSize)
	pagination := proxy.NewPaginationAdapter(upstreamPageSize, cfg.MaxFilterFetchSize, cfg.FilterFetchMultiplier, cfg.UpstreamFetchRate)
	coordinator := proxy.NewCoordinator(client, cache, pagination, cfg.MaxFilterComplexity, cfg.UpstreamNativePatch)

	var handler http.Handler = coordinator
	handler = proxy.StripV2Prefix(handler)
	handler = proxy.WithTraceIDHandler(handler)

	if cfg.AccessLogPath != "" {
		handler, err = proxy.AccessLogHandler(handler, cfg.AccessLogPath)
		must(err)
	}

	if cfg.WriteTimeout >= time.Second {
		handler = PanicReportTimeoutHandler(handler, cfg.WriteTimeout, "Proxy timeout")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ProxyHost, cfg.ProxyPort),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		err := srv.ListenAndServe()
		if err != http.ErrServerClosed {
			log.Fatalf("Unexpected server exit: %v", err)
		}
	}()

	log.Printf("scimproxy listening on %s, upstream %s", srv.Addr, cfg.UpstreamBaseURL)

	waitForShutdownSignal()

	log.Printf("Shutting down, waiting for active requests to finish...")
	if err := srv.Shutdown(context.Background()); err != nil {
		log.Printf("Failed to gracefully shutdown server: %v", err)
	}

	if memStore != nil && cfg.CacheSnapshotPath != "" {
		if err := proxy.SnapshotStore(memStore, cfg.CacheSnapshotPath); err != nil {
			log.Printf("Failed to write cache snapshot: %v", err)
		}
	}

	log.Printf("Done.")
}
