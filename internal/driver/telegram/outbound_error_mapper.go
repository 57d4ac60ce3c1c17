package telegram

import (
	"errors"
	"strings"

	"mangabot/pkg/chat"

	"github.com/gotd/td/tgerr"
)

const telegramMessageNotModified = "MESSAGE_NOT_MODIFIED"

// mapTelegramOutboundError wraps RPC failures in *chat.OutboundError so
// callers can branch on flood waits and no-op edits without importing gotd.
func mapTelegramOutboundError(operation chat.OutboundOperation, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, chat.ErrInvalidOutboundRequest) || errors.Is(err, chat.ErrOutboundUnsupported) {
		return err
	}

	outboundErr := &chat.OutboundError{
		Operation: operation,
		Kind:      chat.OutboundErrorKindUnknown,
		Platform:  DriverPlatform,
		Cause:     err,
	}

	if retryAfter, ok := tgerr.AsFloodWait(err); ok {
		outboundErr.Kind = chat.OutboundErrorKindRateLimited
		outboundErr.RetryAfter = retryAfter
		if rpcErr, hasRPC := tgerr.As(err); hasRPC {
			outboundErr.Code = rpcErr.Code
			outboundErr.Type = rpcErr.Type
		}

		return outboundErr
	}

	rpcErr, ok := tgerr.As(err)
	if !ok {
		return outboundErr
	}

	outboundErr.Code = rpcErr.Code
	outboundErr.Type = rpcErr.Type
	outboundErr.Kind = classifyTelegramRPCError(rpcErr)

	return outboundErr
}

func classifyTelegramRPCError(rpcErr *tgerr.Error) chat.OutboundErrorKind {
	errorType := strings.ToUpper(strings.TrimSpace(rpcErr.Type))
	if errorType == telegramMessageNotModified {
		return chat.OutboundErrorKindNotModified
	}
	if rpcErr.Code == 420 || rpcErr.Code == 429 || strings.Contains(errorType, "FLOOD") {
		return chat.OutboundErrorKindRateLimited
	}

	switch {
	case rpcErr.Code == 303:
		return chat.OutboundErrorKindTemporary
	case rpcErr.Code >= 400 && rpcErr.Code < 500:
		return chat.OutboundErrorKindPermanent
	case rpcErr.Code >= 500:
		return chat.OutboundErrorKindTemporary
	default:
		return chat.OutboundErrorKindUnknown
	}
}
