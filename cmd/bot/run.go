package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mangabot/internal/admin"
	"mangabot/internal/chaptercache"
	"mangabot/internal/driver/telegram"
	"mangabot/internal/kernel"
	"mangabot/internal/mangadex"
	"mangabot/internal/store"
	"mangabot/internal/telegraph"
	"mangabot/modules/chapter"
	"mangabot/modules/dismiss"
	"mangabot/pkg/chat"
)

// backends holds the long-lived clients one bot process owns.
type backends struct {
	store    chaptercache.ChapterStore
	metadata *mangadex.Client
	pages    *mangadex.Client
	articles *telegraph.Client
	closers  []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func runBot(ctx context.Context, cfg appConfig, logger *slog.Logger) error {
	slog.SetDefault(logger)

	deps, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	runtime, err := telegram.BuildRuntime(cfg.telegram, logger.With("component", "telegram"))
	if err != nil {
		return err
	}

	registry := chaptercache.NewRegistry(chaptercache.WithRegistryLogger(logger.With("component", "registry")))
	kernelRuntime := buildKernel(cfg, logger)

	if err := registerRuntimeServices(kernelRuntime, runtime.Sink, registry); err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, cfg, deps, logger); err != nil {
		return err
	}
	if err := kernelRuntime.RegisterDriver(runtime.Driver); err != nil {
		return fmt.Errorf("register driver %s: %w", runtime.Driver.Name(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	adminErr := make(chan error, 1)
	if cfg.adminAddr != "" {
		server, err := admin.New(
			registry,
			admin.WithBusStats(kernelRuntime.EventBus()),
			admin.WithLogger(logger.With("component", "admin")),
		)
		if err != nil {
			return err
		}
		go func() {
			err := server.Run(runCtx, cfg.adminAddr)
			if err != nil {
				cancel()
			}
			adminErr <- err
		}()
	} else {
		close(adminErr)
	}

	logger.InfoContext(ctx, "bot starting",
		"driver", runtime.Driver.Name(),
		"admin_addr", cfg.adminAddr,
		"postgres", cfg.databaseURL != "",
		"redis", cfg.redis.Address != "",
	)

	runErr := kernelRuntime.Run(runCtx)
	cancel()
	if err := <-adminErr; err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("admin server: %w", err))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("run kernel: %w", runErr)
	}

	logger.InfoContext(ctx, "bot stopped")

	return nil
}

func runMigrations(ctx context.Context, cfg appConfig, logger *slog.Logger) error {
	if cfg.databaseURL == "" {
		return fmt.Errorf("store.database_url is required to migrate")
	}

	db, err := store.Connect(ctx, cfg.databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Migrate(ctx, logger)
}

func openBackends(ctx context.Context, cfg appConfig, logger *slog.Logger) (*backends, error) {
	deps := &backends{}

	if cfg.databaseURL != "" {
		db, err := store.Connect(ctx, cfg.databaseURL)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, db.Close)
		if cfg.migrateOnStart {
			if err := db.Migrate(ctx, logger); err != nil {
				deps.Close()
				return nil, err
			}
		}
		deps.store = db
	} else {
		logger.WarnContext(ctx, "store.database_url is empty, completion records are kept in memory")
		deps.store = store.NewMemory()
	}

	options := []mangadex.Option{
		mangadex.WithBaseURL(cfg.mangadex.baseURL),
		mangadex.WithRequestTimeout(cfg.mangadex.requestTimeout),
		mangadex.WithRetry(cfg.mangadex.retryAttempts, cfg.mangadex.retryDelay),
		mangadex.WithDataSaver(cfg.mangadex.dataSaver),
		mangadex.WithLogger(logger.With("component", "mangadex")),
	}
	if cfg.redis.Address != "" {
		cache, err := mangadex.NewRedisCache(ctx, cfg.redis)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.closers = append(deps.closers, func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis cache", "error", err)
			}
		})
		options = append(options, mangadex.WithCache(cache))
	}
	client := mangadex.NewClient(options...)
	deps.metadata = client
	deps.pages = client

	articles, err := telegraph.NewClient(
		cfg.telegraph,
		telegraph.WithRetry(cfg.mangadex.retryAttempts, cfg.mangadex.retryDelay),
		telegraph.WithLogger(logger.With("component", "telegraph")),
	)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.articles = articles

	return deps, nil
}

func buildKernel(cfg appConfig, logger *slog.Logger) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
		kernel.WithDefaultHandlerTimeout(cfg.handlerTimeout),
	)
}

// serviceRegistrar is the part of the kernel service registration uses.
type serviceRegistrar interface {
	RegisterService(name string, service any) error
}

func registerRuntimeServices(registrar serviceRegistrar, sink chat.SinkDispatcher, registry *chaptercache.Registry) error {
	services := []struct {
		name    string
		service any
	}{
		{name: chat.ServiceSinkDispatcher, service: sink},
		{name: chaptercache.ServiceJobRegistry, service: registry},
	}
	for _, entry := range services {
		if err := registrar.RegisterService(entry.name, entry.service); err != nil {
			return fmt.Errorf("register service %s: %w", entry.name, err)
		}
	}

	return nil
}

// moduleRegistrar is the part of the kernel module registration uses.
type moduleRegistrar interface {
	RegisterModule(ctx context.Context, module chat.Module) error
}

func registerRuntimeModules(
	ctx context.Context,
	registrar moduleRegistrar,
	cfg appConfig,
	deps *backends,
	logger *slog.Logger,
) error {
	chapterModule, err := chapter.New(chapter.Config{
		Metadata:  deps.metadata,
		Pages:     deps.pages,
		Publisher: deps.articles,
		Store:     deps.store,
		Policy: chaptercache.Policy{
			MaxPages:              cfg.caching.maxPages,
			AllowedContentRatings: cfg.caching.allowedContentRatings,
		},
		AuthorName:     cfg.telegraph.AuthorName,
		AuthorURL:      cfg.telegraph.AuthorURL,
		PageTimeout:    cfg.caching.pageTimeout,
		ProgressWindow: cfg.caching.progressWindow,
	}, chapter.WithLogger(logger.With("module", "chapter")))
	if err != nil {
		return fmt.Errorf("new chapter module: %w", err)
	}

	modules := []chat.Module{
		dismiss.New(),
		chapterModule,
	}
	for _, module := range modules {
		if err := registrar.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register module %s: %w", module.Name(), err)
		}
	}

	return nil
}
