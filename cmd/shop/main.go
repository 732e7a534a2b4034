package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"MiniShop/internal/catalog"
	"MiniShop/internal/config"
	"MiniShop/internal/imagestore"
	"MiniShop/internal/migrations"
	"MiniShop/pkg/kit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := kit.NewLogger(cfg.App.Name, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("catalog store init failed", zap.Error(err), zap.String("backend", cfg.Catalog.Backend))
	}
	defer closeStore()

	images, uploads, err := openImages(ctx, cfg, log)
	if err != nil {
		log.Fatal("image store init failed", zap.Error(err), zap.String("backend", cfg.Images.Backend))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := catalog.NewService(store, images,
		catalog.WithLogger(log),
		catalog.WithMetrics(catalog.NewMetrics(reg)),
	)

	admin, err := kit.NewBasicAuth(cfg.Admin.Realm, cfg.Admin.User, cfg.Admin.Password, cfg.Admin.PasswordHash)
	if err != nil {
		log.Fatal("admin auth init failed", zap.Error(err))
	}
	if !cfg.AdminEnabled() {
		log.Warn("admin credentials not set, /admin and product mutations are open")
	}

	s := &catalog.Server{
		Service:        svc,
		Log:            log,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
	}

	h := catalog.NewHandler(s, catalog.HTTPDeps{
		Log:            log,
		Service:        cfg.App.Name,
		Registry:       reg,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsToken:   cfg.Metrics.Token,
		Admin:          admin,
		TrustProxy:     cfg.HTTP.TrustProxy,
		Limiter:        kit.NewIPRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow),
		Uploads:        uploads,
	})

	log.Info("shop starting",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("catalog", cfg.Catalog.Backend),
		zap.String("images", cfg.Images.Backend),
	)

	if err := kit.RunHTTPServer(":"+cfg.App.Port, h, log, kit.ServerOptions{
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.HTTP.ShutdownTimeout,
	}); err != nil {
		log.Error("http server stopped", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (catalog.Store, func(), error) {
	noop := func() {}

	switch cfg.Catalog.Backend {
	case config.CatalogJSON:
		st, err := catalog.NewJSONStore(cfg.Catalog.JSONPath)
		if err != nil {
			return nil, noop, err
		}
		log.Info("using json catalog", zap.String("path", cfg.Catalog.JSONPath))
		return st, noop, nil

	case config.CatalogPostgres:
		dsn := cfg.Database.DSN()

		if cfg.Database.AutoMigrate {
			if err := migrateUp(dsn, log); err != nil {
				return nil, noop, err
			}
		}

		db, err := catalog.OpenPostgres(ctx, dsn, catalog.PoolOptions{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, noop, err
		}
		log.Info("using postgres catalog",
			zap.String("host", cfg.Database.Host),
			zap.String("db", cfg.Database.DBName),
		)
		return catalog.NewPostgresStore(db), closeDB(db, log), nil

	default:
		log.Warn("using in-memory catalog, products are lost on restart")
		return catalog.NewMemStore(), noop, nil
	}
}

func migrateUp(dsn string, log *zap.Logger) error {
	m, err := migrations.NewFromDSN(dsn, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			log.Warn("close migrator", zap.Error(err))
		}
	}()
	return m.Up()
}

func closeDB(db *sql.DB, log *zap.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			log.Warn("close postgres", zap.Error(err))
		}
	}
}

// openImages returns the image store and, for the local backend, the handler
// that serves /uploads/{filename}.
func openImages(ctx context.Context, cfg *config.Config, log *zap.Logger) (catalog.ImageStore, http.Handler, error) {
	switch cfg.Images.Backend {
	case config.ImagesS3:
		st, err := imagestore.NewS3(ctx, cfg.Images.S3, imagestore.WithS3Logger(log))
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureBucket(ctx); err != nil {
			return nil, nil, err
		}
		log.Info("using s3 images", zap.String("bucket", cfg.Images.S3.Bucket))
		return st, nil, nil

	case config.ImagesHost:
		st, err := imagestore.NewHost(cfg.Images.Host.UploadURL, cfg.Images.Host.APIKey, cfg.Images.Host.Timeout)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using hosted images", zap.String("upload_url", cfg.Images.Host.UploadURL))
		return st, nil, nil

	default:
		st, err := imagestore.NewLocal(cfg.Images.LocalDir, imagestore.DefaultURLPrefix)
		if err != nil {
			return nil, nil, err
		}
		log.Info("using local images", zap.String("dir", cfg.Images.LocalDir))
		return st, st.Handler(), nil
	}
}
