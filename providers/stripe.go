package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// StripeGateway implements Gateway with Stripe PaymentIntents.
type StripeGateway struct {
	api        *client.API
	webhookKey string
}

// NewStripeGateway creates a StripeGateway. A non-empty apiURL points the SDK at
// another backend, e.g. stripe-mock.
func NewStripeGateway(secretKey, webhookKey, apiURL string) *StripeGateway {
	var backends *stripe.Backends
	if apiURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(apiURL),
			MaxNetworkRetries: stripe.Int64(0),
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	return &StripeGateway{api: client.New(secretKey, backends), webhookKey: webhookKey}
}

func (s *StripeGateway) Name() string { return "stripe" }

// CreatePayment opens a PaymentIntent. When the card source carries a payment_method
// the intent is confirmed immediately with the callback as return URL.
func (s *StripeGateway) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	params.AddMetadata("invoice_id", req.InvoiceID)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if pm, ok := req.CardSource["payment_method"].(string); ok && pm != "" {
		params.PaymentMethod = stripe.String(pm)
		params.Confirm = stripe.Bool(true)
		params.ReturnURL = stripe.String(req.CallbackURL)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe CreatePayment: %w", stripeErr(err))
	}
	pay := stripePayment(pi)
	pay.CallbackURL = req.CallbackURL
	return pay, nil
}

func (s *StripeGateway) FetchPayment(ctx context.Context, id string) (*Payment, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe FetchPayment: %w", stripeErr(err))
	}
	return stripePayment(pi), nil
}

func (s *StripeGateway) CapturePayment(ctx context.Context, id string) (*Payment, error) {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Capture(id, params)
	if err != nil {
		return nil, fmt.Errorf("stripe CapturePayment: %w", stripeErr(err))
	}
	return stripePayment(pi), nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts the PaymentIntent.
func (s *StripeGateway) ParseWebhook(_ context.Context, header http.Header, body []byte) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(body, header.Get("Stripe-Signature"), s.webhookKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !strings.HasPrefix(string(event.Type), "payment_intent.") {
		return &WebhookEvent{Type: string(event.Type)}, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}
	return &WebhookEvent{
		Type:      string(event.Type),
		PaymentID: pi.ID,
		InvoiceID: pi.Metadata["invoice_id"],
	}, nil
}

func stripePayment(pi *stripe.PaymentIntent) *Payment {
	pay := &Payment{
		ID:        pi.ID,
		Status:    stripeStatus(pi.Status),
		Amount:    pi.Amount,
		Currency:  strings.ToUpper(string(pi.Currency)),
		InvoiceID: pi.Metadata["invoice_id"],
	}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		pay.TransactionURL = pi.NextAction.RedirectToURL.URL
	}
	if pi.LastPaymentError != nil {
		pay.Message = pi.LastPaymentError.Msg
	}
	return pay
}

func stripeStatus(s stripe.PaymentIntentStatus) PaymentStatus {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusPaid
	case stripe.PaymentIntentStatusRequiresCapture:
		return StatusAuthorized
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusInitiated
	}
}

func stripeErr(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &APIError{Provider: "stripe", StatusCode: se.HTTPStatusCode, Message: se.Msg}
	}
	return err
}
