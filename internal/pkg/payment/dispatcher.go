package payment

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/aimanhazmi/GroupGate/app/models"
	"github.com/aimanhazmi/GroupGate/internal/pkg/grantqueue"
)

// State is the terminal state of one processed callback.
type State string

const (
	StateRejected State = "rejected" // bad signature / unverifiable
	StateIgnored  State = "ignored"  // valid but non-success or unusable payload
	StateReplayed State = "replayed" // already granted, idempotent no-op
	StateGranted  State = "granted"
	StateFailed   State = "failed" // grant exhausted retries, needs support
)

// Result is what a webhook handler returns to the provider: a state for
// logging plus the HTTP status and a minimal detail string. Internal error
// text never leaks into Detail.
type Result struct {
	State  State
	Status int
	Detail string
}

// GrantSubmitter is the slice of the grant queue the dispatcher needs.
type GrantSubmitter interface {
	SubmitGrant(ctx context.Context, userID int64, provider, reference string) (<-chan grantqueue.Result, error)
	SubmitNotify(userID int64, text string) error
}

const supportText = "⚠️ Payment received, but we couldn't grant access automatically. Please contact support."

// Dispatcher runs the verify → normalize → admit → grant pipeline for one
// inbound callback and owns the handoff into the grant queue. Verification
// and normalization run synchronously in the calling goroutine; the grant
// itself runs on the queue's consumer, and the dispatcher blocks on the
// per-item result so the ledger is settled before the HTTP response goes
// out.
type Dispatcher struct {
	verifier   *Verifier
	normalizer Normalizer
	ledger     Ledger
	queue      GrantSubmitter
	events     EventStore // optional; nil disables the audit trail
}

func NewDispatcher(verifier *Verifier, ledger Ledger, queue GrantSubmitter, events EventStore) *Dispatcher {
	return &Dispatcher{
		verifier: verifier,
		ledger:   ledger,
		queue:    queue,
		events:   events,
	}
}

// Process takes a raw callback through the full state machine. Every path
// out of an admitted grant calls Ledger.Complete, so no record is left
// pending once Process returns.
func (d *Dispatcher) Process(ctx context.Context, cb RawCallback) Result {
	if err := d.verifier.VerifyCallback(cb, time.Now()); err != nil {
		log.Warnf("[Reconcile] %s callback rejected: %v", cb.Provider, err)
		return rejectionResult(cb.Provider)
	}

	event, err := d.normalizer.Normalize(cb)
	if err != nil {
		// Acknowledged so the provider stops retrying a payload that will
		// never parse. No grant was attempted.
		log.Errorf("[Reconcile] %s payload dropped: %v", cb.Provider, err)
		stored, _ := d.recordEvent(ctx, cb, "")
		d.markEvent(ctx, stored, err)
		return Result{State: StateIgnored, Status: fiber.StatusOK, Detail: "acknowledged"}
	}
	if event == nil {
		// Non-success status: a valid, non-terminal callback.
		stored, _ := d.recordEvent(ctx, cb, "")
		d.markEvent(ctx, stored, nil)
		return Result{State: StateIgnored, Status: fiber.StatusOK, Detail: "ignored"}
	}

	stored, dupProcessed := d.recordEvent(ctx, cb, event.RawEventID)
	if dupProcessed {
		log.Infof("[Reconcile] Duplicate event %s/%s, already processed", event.Provider, event.RawEventID)
		return Result{State: StateReplayed, Status: fiber.StatusOK, Detail: "duplicate"}
	}

	admission, err := d.ledger.TryBegin(ctx, event.Provider, event.ExternalReference, event.UserID)
	if err != nil {
		log.Errorf("[Reconcile] Ledger admission failed for %s/%s: %v", event.Provider, event.ExternalReference, err)
		return Result{State: StateFailed, Status: fiber.StatusInternalServerError, Detail: "error"}
	}
	switch admission {
	case AdmissionAlreadyGranted:
		log.Infof("[Reconcile] Replay for %s/%s, already granted", event.Provider, event.ExternalReference)
		d.markEvent(ctx, stored, nil)
		return Result{State: StateReplayed, Status: fiber.StatusOK, Detail: "already granted"}
	case AdmissionInProgress:
		log.Infof("[Reconcile] Grant for %s/%s already in flight", event.Provider, event.ExternalReference)
		return Result{State: StateReplayed, Status: fiber.StatusOK, Detail: "in progress"}
	}

	return d.executeGrant(ctx, event, stored)
}

// executeGrant hands the admitted event to the queue consumer and settles
// the ledger with the outcome.
func (d *Dispatcher) executeGrant(ctx context.Context, event *PaymentConfirmed, stored *models.WebhookEvent) Result {
	resultCh, err := d.queue.SubmitGrant(ctx, event.UserID, string(event.Provider), event.ExternalReference)
	if err != nil {
		// The record must not stay pending; mark failed so a provider
		// resend can re-admit once the queue has room again.
		if cerr := d.ledger.Complete(ctx, event.Provider, event.ExternalReference, "", err); cerr != nil {
			log.Errorf("[Reconcile] Failed to settle ledger for %s/%s: %v", event.Provider, event.ExternalReference, cerr)
		}
		log.Errorf("[Reconcile] Grant handoff for user %d failed: %v", event.UserID, err)
		return Result{State: StateFailed, Status: fiber.StatusServiceUnavailable, Detail: "retry later"}
	}

	res := <-resultCh

	if cerr := d.ledger.Complete(ctx, event.Provider, event.ExternalReference, res.Outcome.InviteLink, res.Err); cerr != nil {
		log.Errorf("[Reconcile] Failed to settle ledger for %s/%s: %v", event.Provider, event.ExternalReference, cerr)
	}
	d.markEvent(ctx, stored, res.Err)

	if res.Err != nil {
		// The payment itself was valid: acknowledge the callback, tell the
		// user support will follow up, and leave the Failed record for a
		// manual or resend-triggered retry.
		if nerr := d.queue.SubmitNotify(event.UserID, supportText); nerr != nil {
			log.Errorf("[Reconcile] Support notification for user %d failed: %v", event.UserID, nerr)
		}
		log.Errorf("[Reconcile] Grant for user %d failed terminally: %v", event.UserID, res.Err)
		return Result{State: StateFailed, Status: fiber.StatusOK, Detail: "grant failed"}
	}

	log.Infof("[Reconcile] Granted access for user %d (%s/%s)", event.UserID, event.Provider, event.ExternalReference)
	return Result{State: StateGranted, Status: fiber.StatusOK, Detail: "granted"}
}

// recordEvent persists the callback in the audit trail. The bool is true
// when the event id was seen and fully processed before (secondary dedupe).
func (d *Dispatcher) recordEvent(ctx context.Context, cb RawCallback, eventID string) (*models.WebhookEvent, bool) {
	if d.events == nil {
		return nil, false
	}

	created, stored, err := d.events.CreateIfNotExists(ctx, &models.WebhookEvent{
		Provider:        string(cb.Provider),
		ProviderEventID: eventID,
		EventType:       eventTypeFor(cb.Provider),
		PayloadJSON:     string(cb.Body),
		SignatureValid:  true,
	})
	if err != nil {
		log.Errorf("[Reconcile] Failed to persist webhook event: %v", err)
		return nil, false
	}
	if !created && stored.ProcessedAt != nil {
		return stored, true
	}
	return stored, false
}

// markEvent settles the audit row once its callback has reached a terminal
// state. Successful outcomes stamp processed_at; failed ones only record the
// error so a resend of the same event id is not swallowed as a duplicate.
// Nil-safe: the audit trail is optional.
func (d *Dispatcher) markEvent(ctx context.Context, stored *models.WebhookEvent, processingErr error) {
	if d.events == nil || stored == nil {
		return
	}
	if err := d.events.MarkProcessed(ctx, stored.ID, processingErr); err != nil {
		log.Errorf("[Reconcile] Failed to mark webhook event %d: %v", stored.ID, err)
	}
}

func eventTypeFor(provider Provider) string {
	if provider == ProviderStripe {
		return stripeCompletedEvent
	}
	return "payment_callback"
}

// rejectionResult maps an authentication failure to the provider-facing
// status: 403 for the shared-secret scheme, 400 for signature schemes.
func rejectionResult(provider Provider) Result {
	status := fiber.StatusBadRequest
	if provider == ProviderToyyibPay {
		status = fiber.StatusForbidden
	}
	return Result{State: StateRejected, Status: status, Detail: "verification failed"}
}
