package adapter

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"songbot/internal/delivery"
)

// goneErrors are Bot API failures that mean the chat will never accept
// messages from this bot again.
var goneErrors = []error{
	tele.ErrBlockedByUser,
	tele.ErrUserIsDeactivated,
	tele.ErrChatNotFound,
	tele.ErrNotStartedByUser,
	tele.ErrKickedFromGroup,
	tele.ErrKickedFromSuperGroup,
	tele.ErrKickedFromChannel,
}

var (
	reRetryAfter = regexp.MustCompile(`(?i)retry after (\d+)`)
	reCode       = regexp.MustCompile(`\((\d{3})\)\s*$`)

	goneText = []string{
		"bot was blocked by the user",
		"user is deactivated",
		"chat not found",
		"bot was kicked",
		"bot can't initiate conversation",
		"bot is not a member",
		"have no rights to send",
	}
)

// translateError maps a telebot error to *delivery.ChannelError. Unknown
// Bot API responses reach us as plain fmt errors ending in "(code)", so the
// text is inspected as a last resort.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var ce *delivery.ChannelError
	if errors.As(err, &ce) {
		return err
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &delivery.ChannelError{
			Kind:       delivery.KindRateLimited,
			Code:       429,
			RetryAfter: time.Duration(flood.RetryAfter) * time.Second,
			Message:    flood.Error(),
			Err:        err,
		}
	}
	var floodPtr *tele.FloodError
	if errors.As(err, &floodPtr) && floodPtr != nil {
		return &delivery.ChannelError{
			Kind:       delivery.KindRateLimited,
			Code:       429,
			RetryAfter: time.Duration(floodPtr.RetryAfter) * time.Second,
			Message:    floodPtr.Error(),
			Err:        err,
		}
	}

	for _, g := range goneErrors {
		if errors.Is(err, g) {
			return &delivery.ChannelError{Kind: delivery.KindRecipientGone, Code: 403, Message: g.Error(), Err: err}
		}
	}

	code := 0
	var te *tele.Error
	if errors.As(err, &te) && te != nil {
		code = te.Code
	} else if m := reCode.FindStringSubmatch(err.Error()); m != nil {
		code, _ = strconv.Atoi(m[1])
	}
	return classifyText(code, err)
}

func classifyText(code int, err error) *delivery.ChannelError {
	msg := err.Error()
	lower := strings.ToLower(msg)
	out := &delivery.ChannelError{Kind: delivery.KindGeneric, Code: code, Message: msg, Err: err}

	if m := reRetryAfter.FindStringSubmatch(msg); m != nil || code == 429 {
		out.Kind = delivery.KindRateLimited
		if m != nil {
			n, _ := strconv.Atoi(m[1])
			out.RetryAfter = time.Duration(n) * time.Second
		}
		return out
	}
	for _, p := range goneText {
		if strings.Contains(lower, p) {
			out.Kind = delivery.KindRecipientGone
			return out
		}
	}
	switch code {
	case 403:
		out.Kind = delivery.KindRecipientGone
	case 400:
		out.Kind = delivery.KindBadRequest
	}
	return out
}
