package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// defaultHTTPTimeout bounds every Bot API call. A stuck call would block the
// single consumer loop that owns this client, so the transport-level timeout
// is mandatory.
const defaultHTTPTimeout = 10 * time.Second

// Messenger is the surface the grant pipeline needs from the messaging
// platform. Keeping it narrow makes test doubles trivial.
type Messenger interface {
	CreateInviteLink(ctx context.Context, chatID int64) (string, error)
	SendMessage(ctx context.Context, userID int64, text string) error
	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
}

// Client wraps the Telegram Bot API. It must only be driven from one
// goroutine at a time; the grant queue's single consumer owns it.
type Client struct {
	api *tgbotapi.BotAPI
}

func NewClient(token string) (*Client, error) {
	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Client{api: api}, nil
}

// NewClientWithAPI wires an existing BotAPI instance (tests, custom endpoints).
func NewClientWithAPI(api *tgbotapi.BotAPI) *Client {
	return &Client{api: api}
}

// API exposes the underlying BotAPI for the update polling loop.
func (c *Client) API() *tgbotapi.BotAPI {
	return c.api
}

// CreateInviteLink creates a fresh single-use invite link for the group.
// member_limit=1 makes each paid grant its own link.
func (c *Client) CreateInviteLink(ctx context.Context, chatID int64) (string, error) {
	type inviteResult struct {
		link string
		err  error
	}
	done := make(chan inviteResult, 1)

	go func() {
		cfg := tgbotapi.CreateChatInviteLinkConfig{
			ChatConfig:  tgbotapi.ChatConfig{ChatID: chatID},
			MemberLimit: 1,
		}
		resp, err := c.api.Request(cfg)
		if err != nil {
			done <- inviteResult{err: err}
			return
		}
		var link struct {
			InviteLink string `json:"invite_link"`
		}
		if err := json.Unmarshal(resp.Result, &link); err != nil {
			done <- inviteResult{err: fmt.Errorf("decode invite link: %w", err)}
			return
		}
		done <- inviteResult{link: link.InviteLink}
	}()

	select {
	case res := <-done:
		return res.link, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) SendMessage(ctx context.Context, userID int64, text string) error {
	done := make(chan error, 1)
	go func() {
		msg := tgbotapi.NewMessage(userID, text)
		_, err := c.api.Send(msg)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApproveJoinRequest accepts a pending chat join request. Telegram bots
// cannot force-add members, so this is the "add to group" variant: the
// invite link is shared with join requests enabled and paid users get
// approved.
func (c *Client) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	done := make(chan error, 1)
	go func() {
		params := tgbotapi.Params{
			"chat_id": strconv.FormatInt(chatID, 10),
			"user_id": strconv.FormatInt(userID, 10),
		}
		_, err := c.api.MakeRequest("approveChatJoinRequest", params)
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
