package telegram

import (
	"context"
	"fmt"
)

// GotdClient abstracts one connected gotd session.
type GotdClient interface {
	// Run starts the session and executes fn within the connected lifecycle.
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// GotdRawUpdateStream provides raw gotd updates from an active session.
type GotdRawUpdateStream interface {
	// Updates returns a channel of raw gotd updates bound to ctx lifetime.
	Updates(ctx context.Context) (<-chan any, error)
}

// GotdUpdateMapper maps raw gotd updates into driver Update DTOs.
type GotdUpdateMapper interface {
	// Map converts a raw update into driver DTO form.
	// The accepted flag allows skipping update classes the bot ignores.
	Map(ctx context.Context, raw any) (Update, bool, error)
}

// GotdBotSource wires a gotd bot session into UpdateSource.
type GotdBotSource struct {
	client GotdClient
	stream GotdRawUpdateStream
	mapper GotdUpdateMapper
	onSkip func(context.Context, error)
}

// NewGotdBotSource creates a source backed by a gotd bot session.
//
// onSkip receives raw updates that failed to map; nil discards them.
func NewGotdBotSource(
	client GotdClient,
	stream GotdRawUpdateStream,
	mapper GotdUpdateMapper,
	onSkip func(context.Context, error),
) (*GotdBotSource, error) {
	if client == nil {
		return nil, fmt.Errorf("new gotd bot source: nil client")
	}
	if stream == nil {
		return nil, fmt.Errorf("new gotd bot source: nil stream")
	}
	if mapper == nil {
		return nil, fmt.Errorf("new gotd bot source: nil mapper")
	}
	if onSkip == nil {
		onSkip = func(context.Context, error) {}
	}

	return &GotdBotSource{
		client: client,
		stream: stream,
		mapper: mapper,
		onSkip: onSkip,
	}, nil
}

// Consume runs the gotd session and forwards mapped updates to handler.
func (s *GotdBotSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd bot updates: nil handler")
	}

	err := s.client.Run(ctx, func(runCtx context.Context) error {
		updates, err := s.stream.Updates(runCtx)
		if err != nil {
			return fmt.Errorf("get gotd updates stream: %w", err)
		}

		for {
			select {
			case <-runCtx.Done():
				return nil
			case rawUpdate, ok := <-updates:
				if !ok {
					return nil
				}

				mapped, accepted, mapErr := s.mapUpdateSafely(runCtx, rawUpdate)
				if mapErr != nil {
					s.onSkip(runCtx, mapErr)
					continue
				}
				if !accepted {
					continue
				}
				if err := handler(runCtx, mapped); err != nil {
					return fmt.Errorf("consume gotd update %s: %w", mapped.ID, err)
				}
			}
		}
	})
	if err != nil {
		return fmt.Errorf("consume gotd bot updates: %w", err)
	}

	return nil
}

func (s *GotdBotSource) mapUpdateSafely(ctx context.Context, rawUpdate any) (mapped Update, accepted bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("map gotd update panic: %v", recovered)
		}
	}()

	mapped, accepted, err = s.mapper.Map(ctx, rawUpdate)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd raw update: %w", err)
	}

	return mapped, accepted, nil
}
