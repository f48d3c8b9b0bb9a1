package controllers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aimanhazmi/GroupGate/internal/pkg/grantqueue"
	"github.com/aimanhazmi/GroupGate/internal/pkg/payment"
)

// stubSubmitter settles every grant inline with a fixed outcome.
type stubSubmitter struct {
	link string
	err  error
}

func (s *stubSubmitter) SubmitGrant(ctx context.Context, userID int64, provider, reference string) (<-chan grantqueue.Result, error) {
	ch := make(chan grantqueue.Result, 1)
	ch <- grantqueue.Result{Outcome: grantqueue.Outcome{InviteLink: s.link}, Err: s.err}
	return ch, nil
}

func (s *stubSubmitter) SubmitNotify(userID int64, text string) error {
	return nil
}

func newWebhookTestApp() (*fiber.App, *payment.MemoryLedger) {
	ledger := payment.NewMemoryLedger()
	verifier := payment.NewVerifier(payment.VerifierConfig{
		ToyyibPayAPIKey:     "secret-key",
		StripeWebhookSecret: "whsec_test",
	})
	InitializeWebhookController(payment.NewDispatcher(verifier, ledger, &stubSubmitter{link: "https://t.me/+abc"}, nil))

	app := fiber.New()
	app.Post("/webhook/stripe", HandleStripeWebhook)
	app.Post("/webhook/toyyibpay/callback", HandleToyyibPayCallback)
	app.Post("/webhook/toyyibpay/success", HandleToyyibPaySuccess)
	return app, ledger
}

func postForm(app *fiber.App, path, body string) (*fiber.Map, int, error) {
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := app.Test(req, 5000)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	var payload fiber.Map
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, resp.StatusCode, err
	}
	return &payload, resp.StatusCode, nil
}

func TestHandleToyyibPayCallback(t *testing.T) {
	app, ledger := newWebhookTestApp()
	body := "userSecretKey=secret-key&status_id=1&refno=TP1&amount=200&billExternalReferenceNo=user_555123_1700000000.0"

	payload, status, err := postForm(app, "/webhook/toyyibpay/callback", body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "granted", (*payload)["state"])

	record, err := ledger.Lookup(context.Background(), payment.ProviderToyyibPay, "user_555123_1700000000.0")
	require.NoError(t, err)
	assert.EqualValues(t, 555123, record.TelegramUserID)

	// Provider resend of the same callback is a no-op.
	payload, status, err = postForm(app, "/webhook/toyyibpay/callback", body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "replayed", (*payload)["state"])
}

func TestHandleToyyibPayCallback_WrongSecret(t *testing.T) {
	app, _ := newWebhookTestApp()
	body := "userSecretKey=wrong&status_id=1&refno=TP1&billExternalReferenceNo=user_42_1700000000"

	payload, status, err := postForm(app, "/webhook/toyyibpay/callback", body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "rejected", (*payload)["state"])
}

func TestHandleToyyibPaySuccess_VerifiesLikeCallback(t *testing.T) {
	app, _ := newWebhookTestApp()

	// The return-URL route must not grant without the shared secret.
	body := "status_id=1&refno=TP1&billExternalReferenceNo=user_42_1700000000"
	payload, status, err := postForm(app, "/webhook/toyyibpay/success", body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "rejected", (*payload)["state"])

	body = "userSecretKey=secret-key&" + body
	payload, status, err = postForm(app, "/webhook/toyyibpay/success", body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "granted", (*payload)["state"])
}

func TestHandleStripeWebhook_MissingSignature(t *testing.T) {
	app, _ := newWebhookTestApp()

	req := httptest.NewRequest(fiber.MethodPost, "/webhook/stripe", strings.NewReader(`{"type":"checkout.session.completed"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleGetGrant(t *testing.T) {
	_, ledger := newWebhookTestApp()
	InitializeAPIController(ledger, nil)

	app := fiber.New()
	app.Get("/api/v1/grants/:provider/:reference", HandleGetGrant)

	require.NoError(t, func() error {
		_, err := ledger.TryBegin(context.Background(), payment.ProviderToyyibPay, "user_42_1700000000", 42)
		if err != nil {
			return err
		}
		return ledger.Complete(context.Background(), payment.ProviderToyyibPay, "user_42_1700000000", "https://t.me/+abc", nil)
	}())

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/grants/toyyibpay/user_42_1700000000", nil), 5000)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/grants/toyyibpay/user_999_1", nil), 5000)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/api/v1/grants/paypal/user_42_1700000000", nil), 5000)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
