package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewReferenceRoundTrips(t *testing.T) {
	reference := NewReference(555123)
	if !strings.HasPrefix(reference, "user_555123_") {
		t.Fatalf("unexpected reference %q", reference)
	}
	userID, err := ParseReference(reference)
	if err != nil {
		t.Fatalf("ParseReference: %v", err)
	}
	if userID != 555123 {
		t.Fatalf("expected user id 555123, got %d", userID)
	}
}

func TestCreateToyyibPayBill(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/index.php/api/createBill" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		gotForm = map[string]string{}
		for key := range r.PostForm {
			gotForm[key] = r.PostForm.Get(key)
		}
		w.Write([]byte(`[{"BillCode":"a1b2c3"}]`))
	}))
	defer server.Close()

	checkout := NewCheckout(CheckoutConfig{
		ToyyibPayAPIKey:       "secret-key",
		ToyyibPayCategoryCode: "cat1",
		ToyyibPayBaseURL:      server.URL,
		SuccessURL:            "https://example.test/success",
		CallbackURL:           "https://example.test/callback",
		AmountCents:           200,
	}, nil)

	link, err := checkout.CreateToyyibPayBill(context.Background(), 555123, "aiman")
	if err != nil {
		t.Fatalf("CreateToyyibPayBill: %v", err)
	}
	if link != server.URL+"/a1b2c3" {
		t.Fatalf("unexpected payment link %q", link)
	}

	if gotForm["userSecretKey"] != "secret-key" {
		t.Fatalf("unexpected userSecretKey %q", gotForm["userSecretKey"])
	}
	if gotForm["billAmount"] != "200" {
		t.Fatalf("unexpected billAmount %q", gotForm["billAmount"])
	}
	if gotForm["billCallbackUrl"] != "https://example.test/callback" {
		t.Fatalf("unexpected billCallbackUrl %q", gotForm["billCallbackUrl"])
	}
	if !strings.HasPrefix(gotForm["billExternalReferenceNo"], "user_555123_") {
		t.Fatalf("unexpected reference %q", gotForm["billExternalReferenceNo"])
	}
	if gotForm["billTo"] != "aiman" {
		t.Fatalf("unexpected billTo %q", gotForm["billTo"])
	}
}

func TestCreateToyyibPayBill_BadResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"http error", http.StatusBadGateway, ""},
		{"empty array", http.StatusOK, `[]`},
		{"error object", http.StatusOK, `{"msg":"KEY-DID-NOT-EXIST"}`},
		{"missing bill code", http.StatusOK, `[{"BillCode":""}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.payload))
			}))
			defer server.Close()

			checkout := NewCheckout(CheckoutConfig{
				ToyyibPayAPIKey:  "secret-key",
				ToyyibPayBaseURL: server.URL,
			}, nil)
			if _, err := checkout.CreateToyyibPayBill(context.Background(), 42, ""); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestCreatePaymentLinks_ToyyibPayOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"BillCode":"a1b2c3"}]`))
	}))
	defer server.Close()

	// No Stripe key configured: only the ToyyibPay link is attempted.
	checkout := NewCheckout(CheckoutConfig{
		ToyyibPayAPIKey:  "secret-key",
		ToyyibPayBaseURL: server.URL,
	}, nil)

	links, err := checkout.CreatePaymentLinks(context.Background(), 42, "aiman")
	if err != nil {
		t.Fatalf("CreatePaymentLinks: %v", err)
	}
	if links.ToyyibPay == "" {
		t.Fatal("expected a ToyyibPay link")
	}
	if links.Stripe != "" {
		t.Fatalf("expected no Stripe link, got %q", links.Stripe)
	}
}

func TestCreatePaymentLinks_NoProviderAvailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	checkout := NewCheckout(CheckoutConfig{
		ToyyibPayAPIKey:  "secret-key",
		ToyyibPayBaseURL: server.URL,
	}, nil)

	if _, err := checkout.CreatePaymentLinks(context.Background(), 42, ""); err == nil {
		t.Fatal("expected an error when no link could be created")
	}
}
