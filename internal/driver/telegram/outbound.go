package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"mangabot/pkg/chat"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
)

const defaultOutboundTimeout = 3 * time.Second

// OutboundOption mutates outbound dispatcher configuration.
type OutboundOption func(*outboundConfig)

// WithOutboundTimeout bounds each outbound RPC call.
func WithOutboundTimeout(timeout time.Duration) OutboundOption {
	return func(cfg *outboundConfig) {
		if timeout > 0 {
			cfg.rpcTimeout = timeout
		}
	}
}

// WithOutboundLogger configures structured logging for outbound operations.
func WithOutboundLogger(logger *slog.Logger) OutboundOption {
	return func(cfg *outboundConfig) {
		cfg.logger = logger
	}
}

// SinkDispatcher implements chat.SinkDispatcher over Telegram bot RPC calls.
type SinkDispatcher struct {
	cfg      outboundConfig
	peers    *PeerCache
	telegram outboundRPC
}

type outboundConfig struct {
	rpcTimeout time.Duration
	logger     *slog.Logger
}

var _ chat.SinkDispatcher = (*SinkDispatcher)(nil)

// NewOutboundDispatcher creates a Telegram outbound dispatcher using gotd client APIs.
func NewOutboundDispatcher(
	client *gotdtelegram.Client,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if client == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil client")
	}

	return newOutboundDispatcherWithRPC(newGotdOutboundRPC(client), peers, options...)
}

func newOutboundDispatcherWithRPC(
	rpc outboundRPC,
	peers *PeerCache,
	options ...OutboundOption,
) (*SinkDispatcher, error) {
	if rpc == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil rpc adapter")
	}
	if peers == nil {
		return nil, fmt.Errorf("new telegram outbound dispatcher: nil peer cache")
	}

	cfg := outboundConfig{rpcTimeout: defaultOutboundTimeout}
	for _, option := range options {
		option(&cfg)
	}

	return &SinkDispatcher{
		cfg:      cfg,
		peers:    peers,
		telegram: rpc,
	}, nil
}

// SendMessage publishes a text message, optionally as a reply and with buttons.
func (d *SinkDispatcher) SendMessage(
	ctx context.Context,
	request chat.SendMessageRequest,
) (*chat.OutboundMessage, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("send message validate: %w", err)
	}

	peer, err := d.peers.Resolve(request.Target.Conversation)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	entities, err := mapOutboundTextEntities(request.Text, request.Entities)
	if err != nil {
		return nil, fmt.Errorf("send message map entities: %w", err)
	}

	rpcRequest := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   request.Text,
		NoWebpage: request.DisableLinkPreview,
		Entities:  entities,
	}
	if markup := mapInlineKeyboard(request.Keyboard); markup != nil {
		rpcRequest.ReplyMarkup = markup
	}
	if request.ReplyToMessageID != "" {
		replyID, err := parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return nil, fmt.Errorf("send message parse reply id %s: %w", request.ReplyToMessageID, err)
		}
		rpcRequest.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyID}
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	id, err := d.telegram.SendMessage(rpcCtx, rpcRequest)
	if err != nil {
		return nil, fmt.Errorf(
			"send message to %s: %w",
			request.Target.Conversation.ID,
			mapTelegramOutboundError(chat.OutboundOperationSendMessage, err),
		)
	}

	d.logOutbound(ctx, chat.OutboundOperationSendMessage,
		"conversation", request.Target.Conversation.ID,
		"message_id", id,
		"reply_to_message_id", request.ReplyToMessageID,
	)

	return &chat.OutboundMessage{
		ID:     strconv.Itoa(id),
		Target: request.Target,
	}, nil
}

// EditMessage replaces the text and keyboard of an existing message.
func (d *SinkDispatcher) EditMessage(ctx context.Context, request chat.EditMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("edit message validate: %w", err)
	}

	peer, err := d.peers.Resolve(request.Target.Conversation)
	if err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("edit message parse id %s: %w", request.MessageID, err)
	}
	entities, err := mapOutboundTextEntities(request.Text, request.Entities)
	if err != nil {
		return fmt.Errorf("edit message map entities: %w", err)
	}

	rpcRequest := &tg.MessagesEditMessageRequest{
		Peer:      peer,
		ID:        messageID,
		Message:   request.Text,
		NoWebpage: request.DisableLinkPreview,
		Entities:  entities,
	}
	if markup := mapInlineKeyboard(request.Keyboard); markup != nil {
		rpcRequest.ReplyMarkup = markup
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.telegram.EditMessage(rpcCtx, rpcRequest); err != nil {
		return fmt.Errorf(
			"edit message %s: %w",
			request.MessageID,
			mapTelegramOutboundError(chat.OutboundOperationEditMessage, err),
		)
	}

	d.logOutbound(ctx, chat.OutboundOperationEditMessage,
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
	)

	return nil
}

// DeleteMessage removes an existing message.
func (d *SinkDispatcher) DeleteMessage(ctx context.Context, request chat.DeleteMessageRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("delete message validate: %w", err)
	}

	peer, err := d.peers.Resolve(request.Target.Conversation)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	messageID, err := parseMessageID(request.MessageID)
	if err != nil {
		return fmt.Errorf("delete message parse id %s: %w", request.MessageID, err)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	if err := d.telegram.DeleteMessage(rpcCtx, peer, messageID, request.Revoke); err != nil {
		return fmt.Errorf(
			"delete message %s: %w",
			request.MessageID,
			mapTelegramOutboundError(chat.OutboundOperationDeleteMessage, err),
		)
	}

	d.logOutbound(ctx, chat.OutboundOperationDeleteMessage,
		"conversation", request.Target.Conversation.ID,
		"message_id", request.MessageID,
		"revoke", request.Revoke,
	)

	return nil
}

// AnswerCallback acknowledges a callback query. CacheTime is rounded down to seconds.
func (d *SinkDispatcher) AnswerCallback(ctx context.Context, request chat.AnswerCallbackRequest) error {
	if err := request.Validate(); err != nil {
		return fmt.Errorf("answer callback validate: %w", err)
	}

	queryID, err := strconv.ParseInt(strings.TrimSpace(request.QueryID), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid callback query id %q", chat.ErrInvalidOutboundRequest, request.QueryID)
	}

	rpcCtx, cancel := d.withTimeout(ctx)
	defer cancel()

	err = d.telegram.AnswerCallback(rpcCtx, &tg.MessagesSetBotCallbackAnswerRequest{
		QueryID:   queryID,
		Message:   request.Text,
		Alert:     request.Alert,
		CacheTime: int(request.CacheTime / time.Second),
	})
	if err != nil {
		return fmt.Errorf(
			"answer callback %s: %w",
			request.QueryID,
			mapTelegramOutboundError(chat.OutboundOperationAnswerCallback, err),
		)
	}

	d.logOutbound(ctx, chat.OutboundOperationAnswerCallback,
		"query_id", request.QueryID,
		"alert", request.Alert,
	)

	return nil
}

func (d *SinkDispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.rpcTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, d.cfg.rpcTimeout)
}

func (d *SinkDispatcher) logOutbound(ctx context.Context, operation chat.OutboundOperation, attrs ...any) {
	if d.cfg.logger == nil {
		return
	}

	values := make([]any, 0, 4+len(attrs))
	values = append(values, "operation", operation, "platform", DriverPlatform)
	values = append(values, attrs...)
	d.cfg.logger.DebugContext(ctx, "telegram outbound operation", values...)
}

func parseMessageID(raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid message id: %w", chat.ErrInvalidOutboundRequest, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: invalid message id", chat.ErrInvalidOutboundRequest)
	}

	return value, nil
}

// mapInlineKeyboard returns nil for an absent or empty keyboard.
func mapInlineKeyboard(keyboard *chat.InlineKeyboard) *tg.ReplyInlineMarkup {
	if keyboard == nil || len(keyboard.Rows) == 0 {
		return nil
	}

	rows := make([]tg.KeyboardButtonRow, 0, len(keyboard.Rows))
	for _, row := range keyboard.Rows {
		buttons := make([]tg.KeyboardButtonClass, 0, len(row))
		for _, button := range row {
			switch button.Kind {
			case chat.ButtonKindCallback:
				buttons = append(buttons, &tg.KeyboardButtonCallback{Text: button.Text, Data: []byte(button.Data)})
			case chat.ButtonKindURL:
				buttons = append(buttons, &tg.KeyboardButtonURL{Text: button.Text, URL: button.URL})
			case chat.ButtonKindSwitchInline:
				buttons = append(buttons, &tg.KeyboardButtonSwitchInline{Text: button.Text, Query: button.Query})
			}
		}
		rows = append(rows, tg.KeyboardButtonRow{Buttons: buttons})
	}

	return &tg.ReplyInlineMarkup{Rows: rows}
}

// mapOutboundTextEntities converts code point ranges to Telegram's UTF-16 ranges.
func mapOutboundTextEntities(text string, entities []chat.TextEntity) ([]tg.MessageEntityClass, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	utf16Offsets := buildUTF16Offsets(text)
	converted := make([]tg.MessageEntityClass, 0, len(entities))
	for index, entity := range entities {
		start := entity.Offset
		end := entity.Offset + entity.Length
		if start < 0 || end < start || end >= len(utf16Offsets) {
			return nil, fmt.Errorf(
				"%w: entity[%d] range [%d,%d) outside %d code points",
				chat.ErrInvalidOutboundRequest,
				index,
				start,
				end,
				len(utf16Offsets)-1,
			)
		}

		offset := utf16Offsets[start]
		length := utf16Offsets[end] - offset
		switch entity.Type {
		case chat.TextEntityTypeBold:
			converted = append(converted, &tg.MessageEntityBold{Offset: offset, Length: length})
		case chat.TextEntityTypeItalic:
			converted = append(converted, &tg.MessageEntityItalic{Offset: offset, Length: length})
		case chat.TextEntityTypeCode:
			converted = append(converted, &tg.MessageEntityCode{Offset: offset, Length: length})
		case chat.TextEntityTypeURL:
			converted = append(converted, &tg.MessageEntityURL{Offset: offset, Length: length})
		case chat.TextEntityTypeTextURL:
			converted = append(converted, &tg.MessageEntityTextURL{Offset: offset, Length: length, URL: entity.URL})
		default:
			return nil, fmt.Errorf("%w: entity[%d] type %q", chat.ErrOutboundUnsupported, index, entity.Type)
		}
	}

	return converted, nil
}

func buildUTF16Offsets(text string) []int {
	offsets := make([]int, 1, len(text)+1)
	current := 0
	for _, value := range text {
		current += utf16RuneLength(value)
		offsets = append(offsets, current)
	}

	return offsets
}

func utf16RuneLength(value rune) int {
	if value >= 0x10000 && value <= 0x10FFFF {
		return 2
	}

	return 1
}

type outboundRPC interface {
	SendMessage(ctx context.Context, request *tg.MessagesSendMessageRequest) (int, error)
	EditMessage(ctx context.Context, request *tg.MessagesEditMessageRequest) error
	DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int, revoke bool) error
	AnswerCallback(ctx context.Context, request *tg.MessagesSetBotCallbackAnswerRequest) error
}

type gotdOutboundRPC struct {
	raw    *tg.Client
	rand   io.Reader
	sender *message.Sender
}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	raw := client.API()

	return gotdOutboundRPC{
		raw:    raw,
		rand:   crypto.DefaultRand(),
		sender: message.NewSender(raw),
	}
}

func (r gotdOutboundRPC) SendMessage(ctx context.Context, request *tg.MessagesSendMessageRequest) (int, error) {
	randomID, err := crypto.RandInt64(r.rand)
	if err != nil {
		return 0, fmt.Errorf("send message random id: %w", err)
	}
	request.RandomID = randomID

	updates, err := r.raw.MessagesSendMessage(ctx, request)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}

	messageID, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("extract sent message id: %w", err)
	}

	return messageID, nil
}

func (r gotdOutboundRPC) EditMessage(ctx context.Context, request *tg.MessagesEditMessageRequest) error {
	if _, err := r.raw.MessagesEditMessage(ctx, request); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) DeleteMessage(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	revoke bool,
) error {
	if revoke {
		if _, err := r.sender.To(peer).Revoke().Messages(ctx, messageID); err != nil {
			return fmt.Errorf("revoke delete message: %w", err)
		}

		return nil
	}

	if _, isChannel := peer.(*tg.InputPeerChannel); isChannel {
		return fmt.Errorf("%w: non-revoke channel delete", chat.ErrOutboundUnsupported)
	}
	if _, err := r.sender.Delete().Messages(ctx, messageID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	return nil
}

func (r gotdOutboundRPC) AnswerCallback(ctx context.Context, request *tg.MessagesSetBotCallbackAnswerRequest) error {
	if _, err := r.raw.MessagesSetBotCallbackAnswer(ctx, request); err != nil {
		return fmt.Errorf("set bot callback answer: %w", err)
	}

	return nil
}
