package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofiber/fiber/v2/log"

	"github.com/aimanhazmi/GroupGate/internal/pkg/grantqueue"
	"github.com/aimanhazmi/GroupGate/internal/pkg/payment"
	"github.com/aimanhazmi/GroupGate/internal/pkg/telegram"
)

const welcomeText = "Welcome! Use /subscribe to start your subscription."
const linksFailedText = "❌ Payment link generation failed. Please try again later."

// Bot runs the command surface over long polling. It never drives the
// Telegram client directly for outbound sends: everything is submitted to
// the grant queue so the single consumer stays the only writer.
type Bot struct {
	client   *telegram.Client
	queue    *grantqueue.Queue
	checkout *payment.Checkout
	ledger   payment.Ledger
	groupID  int64

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func New(client *telegram.Client, queue *grantqueue.Queue, checkout *payment.Checkout, ledger payment.Ledger, groupID int64) *Bot {
	return &Bot{
		client:   client,
		queue:    queue,
		checkout: checkout,
		ledger:   ledger,
		groupID:  groupID,
		stopCh:   make(chan struct{}),
	}
}

// Start begins polling for updates.
func (b *Bot) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return
	}
	b.running = true

	log.Info("[Bot] Starting update polling")
	b.wg.Add(1)
	go b.poll()
}

// Stop halts polling and waits for the loop to exit.
func (b *Bot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}
	close(b.stopCh)
	b.running = false
	b.client.API().StopReceivingUpdates()
	b.wg.Wait()
	log.Info("[Bot] Stopped")
}

func (b *Bot) poll() {
	defer b.wg.Done()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.client.API().GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.ChatJoinRequest != nil {
		b.handleJoinRequest(update.ChatJoinRequest)
		return
	}

	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.From == nil {
		return
	}

	switch msg.Command() {
	case "start":
		log.Infof("[Bot] /start from %s", msg.From.UserName)
		if err := b.queue.SubmitNotify(msg.Chat.ID, welcomeText); err != nil {
			log.Errorf("[Bot] Failed to queue welcome for %d: %v", msg.Chat.ID, err)
		}
	case "subscribe":
		b.handleSubscribe(msg)
	}
}

func (b *Bot) handleSubscribe(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	links, err := b.checkout.CreatePaymentLinks(ctx, msg.From.ID, msg.From.UserName)
	if err != nil {
		log.Errorf("[Bot] Payment links for user %d failed: %v", msg.From.ID, err)
		if qerr := b.queue.SubmitNotify(msg.Chat.ID, linksFailedText); qerr != nil {
			log.Errorf("[Bot] Failed to queue failure notice for %d: %v", msg.Chat.ID, qerr)
		}
		return
	}

	var sb strings.Builder
	sb.WriteString("Choose your payment method:\n\n")
	option := 1
	if links.ToyyibPay != "" {
		fmt.Fprintf(&sb, "%d. Pay with ToyyibPay: %s\n", option, links.ToyyibPay)
		option++
	}
	if links.Stripe != "" {
		fmt.Fprintf(&sb, "%d. Pay with Stripe: %s\n", option, links.Stripe)
	}

	if err := b.queue.SubmitNotify(msg.Chat.ID, sb.String()); err != nil {
		log.Errorf("[Bot] Failed to queue payment links for %d: %v", msg.Chat.ID, err)
	}
}

// handleJoinRequest approves join requests from users who already hold a
// grant. Anyone else keeps waiting for a human admin.
func (b *Bot) handleJoinRequest(req *tgbotapi.ChatJoinRequest) {
	if req.Chat.ID != b.groupID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	granted, err := b.ledger.HasGrantedUser(ctx, req.From.ID)
	if err != nil {
		log.Errorf("[Bot] Grant lookup for join request from %d failed: %v", req.From.ID, err)
		return
	}
	if !granted {
		log.Infof("[Bot] Join request from %d has no grant, leaving for admins", req.From.ID)
		return
	}

	if err := b.queue.SubmitApprove(req.From.ID); err != nil {
		log.Errorf("[Bot] Failed to queue join approval for %d: %v", req.From.ID, err)
	}
}
