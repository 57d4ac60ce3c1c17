// Package dismiss removes bot status messages when their "Ok!" button is pressed.
package dismiss

import (
	"context"
	"fmt"

	"mangabot/pkg/chat"
)

// CallbackData is the payload carried by dismiss buttons.
const CallbackData = "delete"

// Module deletes the message carrying a pressed dismiss button.
type Module struct {
	dispatcher chat.SinkDispatcher
}

// New creates a dismiss module.
func New() *Module {
	return &Module{}
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "dismiss"
}

// Spec declares interest in dismiss callback queries.
func (m *Module) Spec() chat.ModuleSpec {
	return chat.ModuleSpec{
		Handlers: []chat.ModuleHandler{
			{
				Capability: chat.Capability{
					Name:        "dismiss-callback-handler",
					Description: "deletes status messages when their dismiss button is pressed",
					Interest: chat.InterestSet{
						Kinds:            []chat.EventKind{chat.EventKindCallbackQuery},
						CallbackPrefixes: []string{CallbackData},
					},
					RequiredServices: []string{chat.ServiceSinkDispatcher},
				},
				Subscription: chat.NewDefaultSubscriptionSpec("dismiss-callbacks"),
				Handler:      m.handleCallback,
			},
		},
	}
}

// OnRegister resolves outbound dependencies required by this module.
func (m *Module) OnRegister(_ context.Context, runtime chat.ModuleRuntime) error {
	dispatcher, err := chat.ResolveAs[chat.SinkDispatcher](
		runtime.Services(),
		chat.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("dismiss resolve sink dispatcher: %w", err)
	}

	m.dispatcher = dispatcher

	return nil
}

// OnStart starts the module lifecycle.
func (m *Module) OnStart(_ context.Context) error {
	return nil
}

// OnShutdown stops the module lifecycle.
func (m *Module) OnShutdown(_ context.Context) error {
	return nil
}

func (m *Module) handleCallback(ctx context.Context, event *chat.Event) error {
	if event == nil || event.Callback == nil || event.Kind != chat.EventKindCallbackQuery {
		return nil
	}
	if event.Callback.Data != CallbackData || event.Callback.MessageID == "" {
		return nil
	}

	target, err := chat.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("dismiss derive outbound target: %w", err)
	}
	if err := m.dispatcher.AnswerCallback(ctx, chat.AnswerCallbackRequest{QueryID: event.Callback.ID}); err != nil {
		return fmt.Errorf("dismiss answer callback: %w", err)
	}
	err = m.dispatcher.DeleteMessage(ctx, chat.DeleteMessageRequest{
		Target:    target,
		MessageID: event.Callback.MessageID,
		Revoke:    true,
	})
	if err != nil {
		return fmt.Errorf("dismiss delete message %s: %w", event.Callback.MessageID, err)
	}

	return nil
}
