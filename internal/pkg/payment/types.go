package payment

import (
	"errors"

	"github.com/aimanhazmi/GroupGate/app/models"
)

// Provider identifies which payment provider an inbound callback claims to
// originate from. The set is closed: routing picks the variant once at
// ingress and every later stage switches on it.
type Provider string

const (
	ProviderStripe    Provider = models.PaymentProviderStripe
	ProviderToyyibPay Provider = models.PaymentProviderToyyibPay
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	return p == ProviderStripe || p == ProviderToyyibPay
}

// RawCallback is one inbound provider callback, captured before any
// verification. Body is the raw request body; Headers carries only the
// headers the pipeline needs (e.g. Stripe-Signature).
type RawCallback struct {
	Provider Provider
	Headers  map[string]string
	Body     []byte
}

// PaymentConfirmed is the canonical event produced after a callback has been
// verified and normalized. ExternalReference is the dedupe key; RawEventID is
// the provider's own event/transaction id, kept as a secondary signal.
type PaymentConfirmed struct {
	Provider          Provider
	ExternalReference string
	UserID            int64
	AmountCents       int64
	RawEventID        string
}

var (
	// ErrBadSignature means the callback failed authentication. No side
	// effect has happened when it is returned.
	ErrBadSignature = errors.New("webhook signature verification failed")

	// ErrMalformedPayload means a verified payload could not be parsed into
	// a canonical event (bad reference grammar, missing fields).
	ErrMalformedPayload = errors.New("malformed payment payload")

	// ErrUnknownReference means the reference parsed but does not map to a
	// plausible user id.
	ErrUnknownReference = errors.New("reference does not map to a user")

	// ErrUnknownProvider means the callback was routed with a provider tag
	// outside the closed set.
	ErrUnknownProvider = errors.New("unknown payment provider")
)
