package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultStripeTolerance is the replay window for Stripe signature
// timestamps. ToyyibPay callbacks carry no timestamp, so their replay
// defense lives entirely in the ledger.
const DefaultStripeTolerance = 5 * time.Minute

// VerifierConfig holds the shared secrets for callback authentication.
type VerifierConfig struct {
	StripeWebhookSecret string
	ToyyibPayAPIKey     string
	StripeTolerance     time.Duration
}

// Verifier authenticates raw callbacks. It is a pure predicate: no call
// mutates state, and a rejected callback has produced no side effect.
type Verifier struct {
	cfg VerifierConfig
}

func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.StripeTolerance <= 0 {
		cfg.StripeTolerance = DefaultStripeTolerance
	}
	return &Verifier{cfg: cfg}
}

// VerifyCallback checks the authenticity of cb against the configured
// secrets. now is injected so the tolerance window is testable.
func (v *Verifier) VerifyCallback(cb RawCallback, now time.Time) error {
	switch cb.Provider {
	case ProviderStripe:
		return v.verifyStripe(cb, now)
	case ProviderToyyibPay:
		return v.verifyToyyibPay(cb)
	default:
		return ErrUnknownProvider
	}
}

// verifyStripe recomputes HMAC-SHA256 over "<timestamp>.<body>" and compares
// it against every v1 candidate in the Stripe-Signature header.
func (v *Verifier) verifyStripe(cb RawCallback, now time.Time) error {
	if v.cfg.StripeWebhookSecret == "" {
		return fmt.Errorf("%w: no webhook secret configured", ErrBadSignature)
	}

	header := headerValue(cb.Headers, "Stripe-Signature")
	if header == "" {
		return fmt.Errorf("%w: missing Stripe-Signature header", ErrBadSignature)
	}

	timestamp, candidates, err := parseStripeSignatureHeader(header)
	if err != nil {
		return err
	}

	age := now.Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > v.cfg.StripeTolerance {
		return fmt.Errorf("%w: signature timestamp outside tolerance", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(v.cfg.StripeWebhookSecret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(cb.Body)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, decoded) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching v1 signature", ErrBadSignature)
}

// parseStripeSignatureHeader splits "t=<ts>,v1=<hex>,v1=<hex>,..." into the
// timestamp and the list of v1 candidates.
func parseStripeSignatureHeader(header string) (int64, []string, error) {
	var timestamp int64 = -1
	var candidates []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: malformed signature timestamp", ErrBadSignature)
			}
			timestamp = ts
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}

	if timestamp < 0 || len(candidates) == 0 {
		return 0, nil, fmt.Errorf("%w: malformed Stripe-Signature header", ErrBadSignature)
	}
	return timestamp, candidates, nil
}

// verifyToyyibPay compares the submitted shared secret field against the
// configured API key in constant time.
func (v *Verifier) verifyToyyibPay(cb RawCallback) error {
	if v.cfg.ToyyibPayAPIKey == "" {
		return fmt.Errorf("%w: no ToyyibPay API key configured", ErrBadSignature)
	}

	form, err := url.ParseQuery(string(cb.Body))
	if err != nil {
		return fmt.Errorf("%w: unparseable form body", ErrBadSignature)
	}

	submitted := form.Get("userSecretKey")
	if !hmac.Equal([]byte(submitted), []byte(v.cfg.ToyyibPayAPIKey)) {
		return fmt.Errorf("%w: userSecretKey mismatch", ErrBadSignature)
	}
	return nil
}

// headerValue does a case-insensitive lookup so controllers can pass header
// maps without worrying about canonicalization.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
