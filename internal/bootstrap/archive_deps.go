// Package bootstrap wires the archive's components together for the CLI
// entry points.
package bootstrap

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"archive_server/adapter/out/identity"
	"archive_server/adapter/out/persistence"
	bleveindex "archive_server/adapter/out/search"
	"archive_server/config"
	"archive_server/core/port/out"
	"archive_server/core/service/aggregate"
	"archive_server/core/service/enrich"
	"archive_server/core/service/importer"
	"archive_server/core/service/ingest"
	"archive_server/core/service/scrub"
	"archive_server/core/service/search"
	"archive_server/infra/database"
	"archive_server/pkg/cache"
	"archive_server/pkg/eventbus"
	"archive_server/pkg/httputil"
	"archive_server/pkg/logger"
)

// Options adapts the dependency graph to the entry point: the server wants
// an immediately-committing index, bulk import wants a delayed one and may
// skip attachment downloads, the migrator must open a store whose schema is
// behind.
type Options struct {
	DelayedIndex    bool
	NoDownload      bool
	SkipSchemaCheck bool
}

type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger
	DB     *sqlx.DB
	Redis  *redis.Client
	Store  *persistence.Store
	Cache  out.Cache
	Bus    *eventbus.Bus

	Index    *bleveindex.BleveIndex
	Search   *search.Service
	Identity *identity.Client

	Aggregate *aggregate.Service
	Enrich    *enrich.Service
	Ingest    *ingest.Service
	Importer  *importer.Importer
}

// NewDependencies builds the full graph from the settings. The returned
// cleanup closes every backend and is safe to call after a partial failure
// has already been returned as an error.
func NewDependencies(cfg *config.Config, opts Options) (*Dependencies, func(), error) {
	log := logger.New(logger.Options{Level: cfg.LogLevel, Console: cfg.Debug})

	deps := &Dependencies{Config: cfg, Log: log, Bus: eventbus.New()}
	cleanup := func() {
		if deps.Index != nil {
			_ = deps.Index.Close()
		}
		if deps.Redis != nil {
			_ = deps.Redis.Close()
		}
		if deps.DB != nil {
			_ = deps.DB.Close()
		}
	}

	db, err := database.OpenStore(cfg.StoreURL)
	if err != nil {
		return nil, cleanup, err
	}
	deps.DB = db

	if opts.SkipSchemaCheck {
		deps.Store = persistence.NewStoreUnchecked(db, log)
	} else {
		deps.Store, err = persistence.NewStore(db, log)
		if err != nil {
			return nil, cleanup, err
		}
	}

	if cfg.CacheBackend == "redis" {
		deps.Redis, err = database.NewRedis(cfg.CacheLocation)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connect cache backend: %w", err)
		}
		deps.Cache = cache.NewRedisCache(deps.Redis, log)
	} else {
		deps.Cache = cache.NewMemoryCache()
	}

	var index out.SearchIndex
	if cfg.SearchIndex != "" {
		deps.Index, err = bleveindex.Open(cfg.SearchIndex, log)
		if err != nil {
			return nil, cleanup, err
		}
		index = deps.Index
		if opts.DelayedIndex {
			index = search.NewDelayedIndex(deps.Index)
		}
	}
	deps.Search = search.NewService(index, log)

	if cfg.IdentityServer != "" {
		deps.Identity = identity.NewClient(identity.Config{
			Server:   cfg.IdentityServer,
			User:     cfg.IdentityUser,
			Password: cfg.IdentityPass,
			Timeout:  cfg.IdentityTimeout,
		}, httputil.NewClient(httputil.IdentityClientConfig()), deps.Cache, log)
	}

	deps.Aggregate = aggregate.NewService(deps.Store, deps.Cache, log)
	if deps.Identity != nil {
		deps.Enrich = enrich.NewService(deps.Store, deps.Identity, log)
	}

	var downloadClient = httputil.NewClient(httputil.DownloadClientConfig(cfg.DownloadTimeout))
	if opts.NoDownload {
		downloadClient = nil
	}
	scrubber := scrub.NewScrubber(scrub.Options{DownloadClient: downloadClient}, log)

	deps.Ingest = ingest.NewService(deps.Store, scrubber, deps.Bus, deps.Search, log)
	deps.Importer = importer.New(deps.Store, deps.Ingest, deps.Search, log)

	registerSubscribers(deps)
	return deps, cleanup, nil
}

// registerSubscribers is the single explicit list of event subscribers.
// Registration order is dispatch order.
func registerSubscribers(deps *Dependencies) {
	deps.Aggregate.Register(deps.Bus)
	if deps.Enrich != nil {
		deps.Enrich.Register(deps.Bus)
	}
}
