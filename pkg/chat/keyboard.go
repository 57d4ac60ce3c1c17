package chat

import (
	"fmt"
)

// ButtonKind identifies what pressing an inline button does.
type ButtonKind string

const (
	// ButtonKindCallback sends Data back to the bot as a callback query.
	ButtonKindCallback ButtonKind = "callback"
	// ButtonKindURL opens URL in the client.
	ButtonKindURL ButtonKind = "url"
	// ButtonKindSwitchInline opens an inline query with Query in another chat.
	ButtonKindSwitchInline ButtonKind = "switch_inline"
)

// CallbackDataLimit is the largest callback payload Telegram accepts.
const CallbackDataLimit = 64

// Button is one inline keyboard button.
type Button struct {
	Kind  ButtonKind
	Text  string
	Data  string
	URL   string
	Query string
}

// CallbackButton builds a button that reports data back to the bot.
func CallbackButton(text, data string) Button {
	return Button{Kind: ButtonKindCallback, Text: text, Data: data}
}

// URLButton builds a button that opens url.
func URLButton(text, url string) Button {
	return Button{Kind: ButtonKindURL, Text: text, URL: url}
}

// SwitchInlineButton builds a button that starts an inline query.
func SwitchInlineButton(text, query string) Button {
	return Button{Kind: ButtonKindSwitchInline, Text: text, Query: query}
}

// Validate checks that the button carries the payload its kind needs.
func (b Button) Validate() error {
	if b.Text == "" {
		return fmt.Errorf("%w: button missing text", ErrInvalidOutboundRequest)
	}

	switch b.Kind {
	case ButtonKindCallback:
		if b.Data == "" {
			return fmt.Errorf("%w: callback button %q missing data", ErrInvalidOutboundRequest, b.Text)
		}
		if len(b.Data) > CallbackDataLimit {
			return fmt.Errorf(
				"%w: callback button %q data exceeds %d bytes",
				ErrInvalidOutboundRequest,
				b.Text,
				CallbackDataLimit,
			)
		}
	case ButtonKindURL:
		if b.URL == "" {
			return fmt.Errorf("%w: url button %q missing url", ErrInvalidOutboundRequest, b.Text)
		}
	case ButtonKindSwitchInline:
	default:
		return fmt.Errorf("%w: unsupported button kind %q", ErrInvalidOutboundRequest, b.Kind)
	}

	return nil
}

// InlineKeyboard is a grid of buttons attached under a message.
type InlineKeyboard struct {
	Rows [][]Button
}

// Validate checks every button and rejects empty rows.
func (k *InlineKeyboard) Validate() error {
	if k == nil {
		return nil
	}
	for rowIndex, row := range k.Rows {
		if len(row) == 0 {
			return fmt.Errorf("%w: keyboard row %d is empty", ErrInvalidOutboundRequest, rowIndex)
		}
		for _, button := range row {
			if err := button.Validate(); err != nil {
				return fmt.Errorf("keyboard row %d: %w", rowIndex, err)
			}
		}
	}

	return nil
}
