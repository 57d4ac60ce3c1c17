package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
)

const (
	defaultRuntimeSessionFile = ".cache/telegram/session.json"
	defaultRuntimeRPCTimeout  = 3 * time.Second
	defaultRuntimeAuthTimeout = time.Minute
)

// RuntimeConfig holds the settings needed to run one bot session.
type RuntimeConfig struct {
	Name         string
	AppID        int
	AppHash      string
	BotToken     string
	SessionFile  string
	RPCTimeout   time.Duration
	AuthTimeout  time.Duration
	UpdateBuffer int
}

// Validate checks credentials and fills defaults.
func (c *RuntimeConfig) Validate() error {
	c.AppHash = strings.TrimSpace(c.AppHash)
	c.BotToken = strings.TrimSpace(c.BotToken)
	c.SessionFile = strings.TrimSpace(c.SessionFile)

	if c.AppID <= 0 {
		return fmt.Errorf("telegram app_id must be > 0")
	}
	if c.AppHash == "" {
		return fmt.Errorf("telegram app_hash is required")
	}
	if c.BotToken == "" {
		return fmt.Errorf("telegram bot_token is required")
	}
	if c.Name == "" {
		c.Name = DriverType
	}
	if c.SessionFile == "" {
		c.SessionFile = defaultRuntimeSessionFile
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = defaultRuntimeRPCTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = defaultRuntimeAuthTimeout
	}
	if c.UpdateBuffer <= 0 {
		c.UpdateBuffer = defaultGotdUpdateBuffer
	}

	return nil
}

// Runtime is one wired bot session: the inbound driver and its outbound dispatcher.
type Runtime struct {
	Driver *Driver
	Sink   *SinkDispatcher
	Peers  *PeerCache
}

// BuildRuntime wires a gotd bot client into a Driver and a SinkDispatcher that
// share one session and peer cache.
func BuildRuntime(cfg RuntimeConfig, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("build telegram runtime: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	storage, err := newGotdSessionStorage(cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("build telegram runtime: %w", err)
	}

	updates := NewGotdUpdateChannel(cfg.UpdateBuffer)
	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: storage,
	})

	peers := NewPeerCache()
	source, err := NewGotdBotSource(
		gotdBotClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateBot(ctx, logger, client, cfg)
			},
		},
		updates,
		NewDefaultGotdUpdateMapper(WithPeerCache(peers)),
		func(ctx context.Context, err error) {
			logger.WarnContext(ctx, "telegram update skipped", "error", err)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("build telegram runtime: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithName(cfg.Name),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram driver async error", "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("build telegram runtime: %w", err)
	}

	sink, err := NewOutboundDispatcher(
		client,
		peers,
		WithOutboundTimeout(cfg.RPCTimeout),
		WithOutboundLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("build telegram runtime: %w", err)
	}

	return &Runtime{Driver: driver, Sink: sink, Peers: peers}, nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

type gotdBotClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

// Run connects, authenticates, then invokes fn inside the session.
func (c gotdBotClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("run gotd bot client: nil callback")
	}

	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd bot: %w", err)
		}

		return fn(runCtx)
	}); err != nil {
		return fmt.Errorf("run gotd bot client: %w", err)
	}

	return nil
}

func authenticateBot(ctx context.Context, logger *slog.Logger, client *gotdtelegram.Client, cfg RuntimeConfig) error {
	authCtx, cancel := context.WithTimeout(ctx, cfg.AuthTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.InfoContext(ctx, "telegram session restored", "session_file", cfg.SessionFile)
		return nil
	}

	if _, err := client.Auth().Bot(authCtx, cfg.BotToken); err != nil {
		return fmt.Errorf("bot login: %w", err)
	}
	logger.InfoContext(ctx, "telegram bot authorized", "session_file", cfg.SessionFile)

	return nil
}
