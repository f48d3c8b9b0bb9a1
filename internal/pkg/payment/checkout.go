package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	stripe "github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"gorm.io/gorm"

	"github.com/aimanhazmi/GroupGate/app/models"
)

// CheckoutConfig holds everything needed to create payment links.
type CheckoutConfig struct {
	ToyyibPayAPIKey       string
	ToyyibPayCategoryCode string
	ToyyibPayBaseURL      string
	StripeAPIKey          string
	SuccessURL            string
	CallbackURL           string
	AmountCents           int64
	BillName              string
	BillDescription       string
}

// PaymentLinks is the result of a /subscribe request: whichever provider
// links could be created.
type PaymentLinks struct {
	ToyyibPay string
	Stripe    string
}

// Checkout creates provider payment sessions. The external reference it
// embeds ("user_<id>_<unix>") is what the reconciliation pipeline later
// recovers the user from, so both providers carry the exact same grammar.
type Checkout struct {
	cfg        CheckoutConfig
	httpClient *http.Client
	db         *gorm.DB // optional; records Subscriber rows when present
}

func NewCheckout(cfg CheckoutConfig, db *gorm.DB) *Checkout {
	if cfg.ToyyibPayBaseURL == "" {
		cfg.ToyyibPayBaseURL = "https://toyyibpay.com"
	}
	if cfg.AmountCents <= 0 {
		cfg.AmountCents = 200
	}
	if cfg.BillName == "" {
		cfg.BillName = "Group Subscription"
	}
	if cfg.BillDescription == "" {
		cfg.BillDescription = "Subscription for Telegram Group Access"
	}
	if cfg.StripeAPIKey != "" {
		stripe.Key = cfg.StripeAPIKey
	}
	return &Checkout{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		db:         db,
	}
}

// NewReference builds the round-tripped external reference for a user.
func NewReference(userID int64) string {
	return fmt.Sprintf("user_%d_%d", userID, time.Now().Unix())
}

// CreatePaymentLinks creates both provider links best-effort and returns
// whatever succeeded. An error is only returned when no link at all could
// be created.
func (c *Checkout) CreatePaymentLinks(ctx context.Context, userID int64, username string) (PaymentLinks, error) {
	var links PaymentLinks

	if c.cfg.ToyyibPayAPIKey != "" {
		link, err := c.CreateToyyibPayBill(ctx, userID, username)
		if err != nil {
			log.Errorf("[Checkout] ToyyibPay bill for user %d failed: %v", userID, err)
		} else {
			links.ToyyibPay = link
		}
	}

	if c.cfg.StripeAPIKey != "" {
		link, err := c.CreateStripeSession(ctx, userID, username)
		if err != nil {
			log.Errorf("[Checkout] Stripe session for user %d failed: %v", userID, err)
		} else {
			links.Stripe = link
		}
	}

	if links.ToyyibPay == "" && links.Stripe == "" {
		return links, fmt.Errorf("no payment link could be created for user %d", userID)
	}
	return links, nil
}

// CreateToyyibPayBill creates a bill via the createBill API and returns the
// payment URL.
func (c *Checkout) CreateToyyibPayBill(ctx context.Context, userID int64, username string) (string, error) {
	reference := NewReference(userID)
	billTo := username
	if billTo == "" {
		billTo = "Anonymous"
	}

	form := url.Values{
		"userSecretKey":           {c.cfg.ToyyibPayAPIKey},
		"categoryCode":            {c.cfg.ToyyibPayCategoryCode},
		"billName":                {c.cfg.BillName},
		"billDescription":         {c.cfg.BillDescription},
		"billPriceSetting":        {"1"},
		"billPayorInfo":           {"1"},
		"billAmount":              {strconv.FormatInt(c.cfg.AmountCents, 10)},
		"billReturnUrl":           {c.cfg.SuccessURL},
		"billCallbackUrl":         {c.cfg.CallbackURL},
		"billExternalReferenceNo": {reference},
		"billTo":                  {billTo},
		"billEmail":               {"example@example.com"},
		"billPhone":               {"0123456789"},
	}

	endpoint := c.cfg.ToyyibPayBaseURL + "/index.php/api/createBill"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("createBill request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("createBill returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var bills []struct {
		BillCode string `json:"BillCode"`
	}
	if err := json.Unmarshal(body, &bills); err != nil || len(bills) == 0 || bills[0].BillCode == "" {
		return "", fmt.Errorf("unexpected createBill response: %s", truncate(string(body), 200))
	}

	c.recordSubscriber(userID, username, ProviderToyyibPay, reference, bills[0].BillCode)
	return c.cfg.ToyyibPayBaseURL + "/" + bills[0].BillCode, nil
}

// CreateStripeSession creates a Checkout Session with the reference embedded
// in the session metadata.
func (c *Checkout) CreateStripeSession(ctx context.Context, userID int64, username string) (string, error) {
	reference := NewReference(userID)

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CallbackURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String("myr"),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(c.cfg.BillName),
					},
					UnitAmount: stripe.Int64(c.cfg.AmountCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("reference", reference)

	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}

	c.recordSubscriber(userID, username, ProviderStripe, reference, sess.ID)
	return sess.URL, nil
}

func (c *Checkout) recordSubscriber(userID int64, username string, provider Provider, reference, providerRef string) {
	if c.db == nil {
		return
	}
	sub := &models.Subscriber{
		TelegramUserID: userID,
		Username:       username,
		Provider:       string(provider),
		Reference:      reference,
		ProviderRef:    providerRef,
		AmountCents:    c.cfg.AmountCents,
	}
	if err := c.db.Create(sub).Error; err != nil {
		log.Errorf("[Checkout] Failed to record subscriber row for user %d: %v", userID, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
