package grantqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/aimanhazmi/GroupGate/internal/pkg/telegram"
)

const (
	// DefaultMaxAttempts bounds grant retries.
	DefaultMaxAttempts = 3
	// DefaultBackoffBase is the first retry delay; it doubles per attempt.
	DefaultBackoffBase = time.Second
	// DefaultCallTimeout bounds each individual Telegram call.
	DefaultCallTimeout = 10 * time.Second
)

// Granter performs the actual access grant: create a single-use invite link
// for the group and deliver it to the user by direct message. Only transient
// failures (rate limit, timeout, 5xx) are retried.
type Granter struct {
	messenger   telegram.Messenger
	groupID     int64
	maxAttempts int
	backoffBase time.Duration
	callTimeout time.Duration
	sleep       func(time.Duration)
}

func NewGranter(messenger telegram.Messenger, groupID int64) *Granter {
	return &Granter{
		messenger:   messenger,
		groupID:     groupID,
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		callTimeout: DefaultCallTimeout,
		sleep:       time.Sleep,
	}
}

// Grant issues an invite link and messages it to userID. On a fatal error or
// after exhausting retries it returns the last error; the caller decides how
// to surface that to the user.
func (g *Granter) Grant(ctx context.Context, userID int64) (Outcome, error) {
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		outcome, err := g.attempt(ctx, userID)
		if err == nil {
			return outcome, nil
		}
		lastErr = err

		if !telegram.IsTransient(err) {
			log.Errorf("[GrantQueue] Grant for user %d failed fatally: %v", userID, err)
			break
		}
		log.Warnf("[GrantQueue] Grant for user %d failed (attempt %d/%d): %v", userID, attempt, g.maxAttempts, err)
		if attempt < g.maxAttempts {
			g.sleep(g.backoffBase << (attempt - 1))
		}
	}

	return Outcome{}, fmt.Errorf("grant for user %d: %w", userID, lastErr)
}

func (g *Granter) attempt(ctx context.Context, userID int64) (Outcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	link, err := g.messenger.CreateInviteLink(callCtx, g.groupID)
	if err != nil {
		return Outcome{}, fmt.Errorf("create invite link: %w", err)
	}

	sendCtx, cancelSend := context.WithTimeout(ctx, g.callTimeout)
	defer cancelSend()

	text := fmt.Sprintf("✅ Payment successful! Join the group: %s", link)
	if err := g.messenger.SendMessage(sendCtx, userID, text); err != nil {
		return Outcome{}, fmt.Errorf("send invite message: %w", err)
	}

	return Outcome{InviteLink: link}, nil
}

// Notify sends a plain message, single attempt with timeout.
func (g *Granter) Notify(ctx context.Context, userID int64, text string) error {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.messenger.SendMessage(callCtx, userID, text)
}

// Approve accepts a pending join request for the group.
func (g *Granter) Approve(ctx context.Context, userID int64) error {
	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.messenger.ApproveJoinRequest(callCtx, g.groupID, userID)
}
