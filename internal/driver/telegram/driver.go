package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mangabot/pkg/chat"
)

const defaultPublishTimeout = 2 * time.Second

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates Telegram driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout configures the dispatcher publish timeout per event.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithErrorHandler configures where per-update failures are reported.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver turns Telegram bot updates into neutral chat events.
//
// A single undecodable or undeliverable update is reported and skipped; only
// source failures stop the driver.
type Driver struct {
	cfg     driverConfig
	source  UpdateSource
	decoder Decoder
}

// NewDriver creates a Telegram driver.
func NewDriver(source UpdateSource, decoder Decoder, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new telegram driver: nil source")
	}
	if decoder == nil {
		return nil, fmt.Errorf("new telegram driver: nil decoder")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{
		cfg:     cfg,
		source:  source,
		decoder: decoder,
	}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start consumes Telegram updates until ctx ends or the source fails.
func (d *Driver) Start(ctx context.Context, dispatcher chat.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start telegram driver: nil dispatcher")
	}

	handler := func(handlerCtx context.Context, update Update) error {
		d.handleUpdate(handlerCtx, update, dispatcher)
		return nil
	}

	if err := d.source.Consume(ctx, handler); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		return fmt.Errorf("start telegram driver: consume updates: %w", err)
	}

	return nil
}

func (d *Driver) handleUpdate(ctx context.Context, update Update, dispatcher chat.EventDispatcher) {
	event, err := d.decodeSafely(ctx, update)
	if err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("handle update %s: %w", update.ID, err))
		return
	}
	event.Source = chat.EventSource{Platform: DriverPlatform, ID: d.cfg.name}

	publishCtx := ctx
	if d.cfg.publishTimeout > 0 {
		var cancel context.CancelFunc
		publishCtx, cancel = context.WithTimeout(ctx, d.cfg.publishTimeout)
		defer cancel()
	}

	if err := dispatcher.Publish(publishCtx, event); err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("handle update %s publish: %w", update.ID, err))
	}
}

func (d *Driver) decodeSafely(ctx context.Context, update Update) (decoded *chat.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("decode telegram update %s panic: %v", update.Type, recovered)
		}
	}()

	decoded, err = d.decoder.Decode(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("decode telegram update %s: %w", update.Type, err)
	}

	return decoded, nil
}

// Shutdown releases resources not controlled by the Start context.
func (d *Driver) Shutdown(_ context.Context) error {
	return nil
}
