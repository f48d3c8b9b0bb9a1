package telegram

import (
	"context"
	"errors"
	"net"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// IsTransient classifies a Telegram call failure for retry purposes.
// Rate limiting, server-side errors and timeouts are worth retrying;
// permission problems (bot not admin, user blocked the bot, bad chat id)
// are not and retrying them only burns the retry budget.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}

	return false
}
