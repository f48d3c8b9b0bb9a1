package payment

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	stripe "github.com/stripe/stripe-go/v82"
)

// toyyibPaySuccessStatus is the status_id value ToyyibPay sends for a
// completed payment. Everything else is a non-terminal callback we ignore.
const toyyibPaySuccessStatus = "1"

// stripeCompletedEvent is the only Stripe event type that confirms payment.
const stripeCompletedEvent = "checkout.session.completed"

var validate = validator.New()

// Normalizer maps verified provider payloads into canonical PaymentConfirmed
// events. A (nil, nil) return means the callback was valid but reported a
// non-success status and must simply be acknowledged.
type Normalizer struct{}

func (Normalizer) Normalize(cb RawCallback) (*PaymentConfirmed, error) {
	switch cb.Provider {
	case ProviderStripe:
		return normalizeStripe(cb.Body)
	case ProviderToyyibPay:
		return normalizeToyyibPay(cb.Body)
	default:
		return nil, ErrUnknownProvider
	}
}

func normalizeStripe(body []byte) (*PaymentConfirmed, error) {
	var event stripe.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: invalid Stripe event JSON", ErrMalformedPayload)
	}
	if string(event.Type) != stripeCompletedEvent {
		return nil, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: invalid checkout session object", ErrMalformedPayload)
	}

	reference := strings.TrimSpace(session.Metadata["reference"])
	if reference == "" {
		return nil, fmt.Errorf("%w: missing reference metadata", ErrMalformedPayload)
	}

	userID, err := ParseReference(reference)
	if err != nil {
		return nil, err
	}

	return &PaymentConfirmed{
		Provider:          ProviderStripe,
		ExternalReference: reference,
		UserID:            userID,
		AmountCents:       session.AmountTotal,
		RawEventID:        event.ID,
	}, nil
}

// toyyibPayCallback is the subset of the ToyyibPay callback form the
// normalizer consumes. The reference is only required once the status says
// the payment succeeded.
type toyyibPayCallback struct {
	StatusID  string `validate:"required"`
	Reference string `validate:"required_if=StatusID 1"`
	RefNo     string
	BillCode  string
	Amount    string
}

func normalizeToyyibPay(body []byte) (*PaymentConfirmed, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable form body", ErrMalformedPayload)
	}

	cb := toyyibPayCallback{
		StatusID:  form.Get("status_id"),
		Reference: strings.TrimSpace(form.Get("billExternalReferenceNo")),
		RefNo:     form.Get("refno"),
		BillCode:  form.Get("billcode"),
		Amount:    form.Get("amount"),
	}
	if err := validate.Struct(cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if cb.StatusID != toyyibPaySuccessStatus {
		return nil, nil
	}

	userID, err := ParseReference(cb.Reference)
	if err != nil {
		return nil, err
	}

	eventID := cb.RefNo
	if eventID == "" {
		eventID = cb.BillCode
	}

	return &PaymentConfirmed{
		Provider:          ProviderToyyibPay,
		ExternalReference: cb.Reference,
		UserID:            userID,
		AmountCents:       parseAmountCents(cb.Amount),
		RawEventID:        eventID,
	}, nil
}

// ParseReference recovers the target user id from a payment reference of the
// form "user_<userId>_<timestamp>". Anything that does not parse is
// malformed; a parseable but non-positive id is an unknown reference. An
// event is never constructed with a placeholder id.
func ParseReference(reference string) (int64, error) {
	parts := strings.Split(reference, "_")
	if len(parts) < 2 || parts[0] != "user" {
		return 0, fmt.Errorf("%w: reference %q", ErrMalformedPayload, reference)
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: reference %q", ErrMalformedPayload, reference)
	}
	if userID <= 0 {
		return 0, fmt.Errorf("%w: non-positive user id in %q", ErrUnknownReference, reference)
	}
	return userID, nil
}

// parseAmountCents parses ToyyibPay's amount field (cents as a string).
// Informational only, so failures degrade to zero.
func parseAmountCents(s string) int64 {
	cents, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return cents
}
