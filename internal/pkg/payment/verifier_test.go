package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

func stripeSignatureHeader(t *testing.T, secret string, body []byte, ts time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyStripeCallback(t *testing.T) {
	secret := "whsec_test"
	now := time.Unix(1700000000, 0)
	body := []byte(`{"type":"checkout.session.completed"}`)
	v := NewVerifier(VerifierConfig{StripeWebhookSecret: secret})

	valid := RawCallback{
		Provider: ProviderStripe,
		Headers:  map[string]string{"Stripe-Signature": stripeSignatureHeader(t, secret, body, now)},
		Body:     body,
	}
	if err := v.VerifyCallback(valid, now); err != nil {
		t.Fatalf("expected valid signature to verify, got %v", err)
	}

	altered := valid
	altered.Body = []byte(`{"type":"checkout.session.completed","amount":9}`)
	if err := v.VerifyCallback(altered, now); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected altered body to fail verification, got %v", err)
	}
}

func TestVerifyStripeCallback_HeaderEdgeCases(t *testing.T) {
	secret := "whsec_test"
	now := time.Unix(1700000000, 0)
	body := []byte(`{}`)
	v := NewVerifier(VerifierConfig{StripeWebhookSecret: secret})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"no timestamp", "v1=deadbeef"},
		{"no v1", "t=1700000000"},
		{"garbage timestamp", "t=abc,v1=deadbeef"},
		{"wrong signature", "t=1700000000,v1=deadbeef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb := RawCallback{
				Provider: ProviderStripe,
				Headers:  map[string]string{"Stripe-Signature": tt.header},
				Body:     body,
			}
			if err := v.VerifyCallback(cb, now); !errors.Is(err, ErrBadSignature) {
				t.Fatalf("expected ErrBadSignature, got %v", err)
			}
		})
	}
}

func TestVerifyStripeCallback_ToleranceWindow(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{}`)
	signed := time.Unix(1700000000, 0)
	v := NewVerifier(VerifierConfig{StripeWebhookSecret: secret})

	cb := RawCallback{
		Provider: ProviderStripe,
		Headers:  map[string]string{"Stripe-Signature": stripeSignatureHeader(t, secret, body, signed)},
		Body:     body,
	}

	if err := v.VerifyCallback(cb, signed.Add(4*time.Minute)); err != nil {
		t.Fatalf("expected signature inside tolerance to verify, got %v", err)
	}
	if err := v.VerifyCallback(cb, signed.Add(6*time.Minute)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected signature outside tolerance to fail, got %v", err)
	}
}

func TestVerifyToyyibPayCallback(t *testing.T) {
	v := NewVerifier(VerifierConfig{ToyyibPayAPIKey: "secret-key"})

	valid := RawCallback{
		Provider: ProviderToyyibPay,
		Body:     []byte("userSecretKey=secret-key&status_id=1"),
	}
	if err := v.VerifyCallback(valid, time.Now()); err != nil {
		t.Fatalf("expected matching secret to verify, got %v", err)
	}

	invalid := RawCallback{
		Provider: ProviderToyyibPay,
		Body:     []byte("userSecretKey=wrong&status_id=1"),
	}
	if err := v.VerifyCallback(invalid, time.Now()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected mismatched secret to fail, got %v", err)
	}

	missing := RawCallback{Provider: ProviderToyyibPay, Body: []byte("status_id=1")}
	if err := v.VerifyCallback(missing, time.Now()); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected missing secret to fail, got %v", err)
	}
}

func TestVerifyCallback_UnknownProvider(t *testing.T) {
	v := NewVerifier(VerifierConfig{})
	cb := RawCallback{Provider: Provider("paypal")}
	if err := v.VerifyCallback(cb, time.Now()); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}
