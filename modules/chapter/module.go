// Package chapter serves chapter buttons: it shows cached chapters and starts
// caching the rest while reporting progress in the chat.
package chapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"mangabot/internal/chaptercache"
	"mangabot/pkg/chat"
)

const validationCacheTime = 10 * time.Second

// Config holds the collaborators and limits the module caches chapters with.
type Config struct {
	Metadata  chaptercache.MetadataSource
	Pages     chaptercache.PageSource
	Publisher chaptercache.Publisher
	Store     chaptercache.ChapterStore
	Policy    chaptercache.Policy
	// AuthorName and AuthorURL are stamped on published articles.
	AuthorName string
	AuthorURL  string
	// PageTimeout bounds one page fetch and upload.
	PageTimeout time.Duration
	// ProgressWindow is the minimum spacing between progress edits.
	ProgressWindow time.Duration
}

// Option mutates chapter module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithClock replaces the clock used for job timestamps and progress throttling.
func WithClock(clock clockwork.Clock) Option {
	return func(module *Module) {
		if clock != nil {
			module.clock = clock
		}
	}
}

// Module handles chapter callbacks.
type Module struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger

	dispatcher chat.SinkDispatcher
	registry   *chaptercache.Registry
}

// New creates a chapter module.
func New(cfg Config, options ...Option) (*Module, error) {
	if cfg.Metadata == nil || cfg.Pages == nil || cfg.Publisher == nil || cfg.Store == nil {
		return nil, fmt.Errorf("new chapter module: metadata, pages, publisher and store are required")
	}

	module := &Module{
		cfg:    cfg,
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, option := range options {
		option(module)
	}

	return module, nil
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "chapter"
}

// Spec declares interest in chapter callback queries.
func (m *Module) Spec() chat.ModuleSpec {
	return chat.ModuleSpec{
		Handlers: []chat.ModuleHandler{
			{
				Capability: chat.Capability{
					Name:        "chapter-callback-handler",
					Description: "shows cached chapters and caches the rest",
					Interest: chat.InterestSet{
						Kinds:            []chat.EventKind{chat.EventKindCallbackQuery},
						CallbackPrefixes: []string{"chapter=", "list="},
					},
					RequiredServices: []string{
						chat.ServiceSinkDispatcher,
						chaptercache.ServiceJobRegistry,
					},
				},
				Subscription: chat.NewDefaultSubscriptionSpec("chapter-callbacks"),
				Handler:      m.handleCallback,
			},
		},
	}
}

// OnRegister resolves the sink dispatcher, the shared job registry and the
// optional logger.
func (m *Module) OnRegister(_ context.Context, runtime chat.ModuleRuntime) error {
	logger, err := chat.ResolveAs[*slog.Logger](runtime.Services(), chat.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, chat.ErrServiceNotFound):
	default:
		return fmt.Errorf("chapter resolve logger: %w", err)
	}

	dispatcher, err := chat.ResolveAs[chat.SinkDispatcher](runtime.Services(), chat.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("chapter resolve sink dispatcher: %w", err)
	}
	registry, err := chat.ResolveAs[*chaptercache.Registry](runtime.Services(), chaptercache.ServiceJobRegistry)
	if err != nil {
		return fmt.Errorf("chapter resolve job registry: %w", err)
	}

	m.dispatcher = dispatcher
	m.registry = registry

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle. Running jobs are left to finish.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}
