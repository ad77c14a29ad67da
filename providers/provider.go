package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
)

type PaymentStatus string

const (
	StatusInitiated  PaymentStatus = "initiated"
	StatusAuthorized PaymentStatus = "authorized"
	StatusPaid       PaymentStatus = "paid"
	StatusFailed     PaymentStatus = "failed"
	StatusRefunded   PaymentStatus = "refunded"
)

// PaymentRequest asks a gateway to open a payment. Amount is in minor units.
type PaymentRequest struct {
	Amount      int64
	Currency    string
	Description string
	CardSource  map[string]any
	Metadata    map[string]string
	InvoiceID   string
	CallbackURL string
}

// Payment is the gateway's view of a payment, normalised across providers.
type Payment struct {
	ID             string
	Status         PaymentStatus
	Amount         int64
	Currency       string
	CallbackURL    string
	TransactionURL string // where the buyer completes the payment, if any
	InvoiceID      string
	Message        string
}

// Gateway defines what every payment provider integration must implement.
type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error)
	FetchPayment(ctx context.Context, id string) (*Payment, error)
	// CapturePayment settles an authorized payment.
	CapturePayment(ctx context.Context, id string) (*Payment, error)
}

// WebhookEvent identifies the payment a verified webhook delivery refers to.
type WebhookEvent struct {
	Type      string
	PaymentID string
	InvoiceID string
}

// WebhookVerifier authenticates a raw webhook delivery.
type WebhookVerifier interface {
	ParseWebhook(ctx context.Context, header http.Header, body []byte) (*WebhookEvent, error)
}

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnknownProvider  = errors.New("unknown payment provider")
)

// APIError is a non-2xx answer from a gateway.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Rejected reports whether the gateway refused the request itself, as opposed to
// failing to process it.
func (e *APIError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// Registry resolves gateways by name.
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return g, nil
}

// Verifier returns the webhook verifier for name, if the gateway supports webhooks.
func (r *Registry) Verifier(name string) (WebhookVerifier, error) {
	g, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	v, ok := g.(WebhookVerifier)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no webhooks", ErrUnknownProvider, name)
	}
	return v, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for n := range r.gateways {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
