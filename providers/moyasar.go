package providers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const moyasarBaseURL = "https://api.moyasar.com"

// MoyasarGateway implements Gateway using the Moyasar payments API.
type MoyasarGateway struct {
	secretKey     string
	webhookSecret string
	baseURL       string
	httpClient    *http.Client
}

// NewMoyasarGateway creates a MoyasarGateway. An empty baseURL uses the public API.
func NewMoyasarGateway(secretKey, webhookSecret, baseURL string) *MoyasarGateway {
	if baseURL == "" {
		baseURL = moyasarBaseURL
	}
	return &MoyasarGateway{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ---- Moyasar API structs ----

type moyasarPaymentRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	CallbackURL string            `json:"callback_url"`
	Source      map[string]any    `json:"source"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type moyasarPayment struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	CallbackURL string            `json:"callback_url"`
	Metadata    map[string]string `json:"metadata"`
	Source      struct {
		TransactionURL string `json:"transaction_url"`
		Message        string `json:"message"`
	} `json:"source"`
}

type moyasarWebhook struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	SecretToken string         `json:"secret_token"`
	Data        moyasarPayment `json:"data"`
}

// ---- Gateway implementation ----

func (m *MoyasarGateway) Name() string { return "moyasar" }

func (m *MoyasarGateway) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	source := req.CardSource
	if source == nil {
		source = map[string]any{"type": "creditcard"}
	}
	metadata := map[string]string{"invoice_id": req.InvoiceID}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	body := moyasarPaymentRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		Description: req.Description,
		CallbackURL: req.CallbackURL,
		Source:      source,
		Metadata:    metadata,
	}

	var resp moyasarPayment
	if err := m.do(ctx, http.MethodPost, "/v1/payments", body, &resp); err != nil {
		return nil, fmt.Errorf("moyasar CreatePayment: %w", err)
	}
	return resp.toPayment(), nil
}

func (m *MoyasarGateway) FetchPayment(ctx context.Context, id string) (*Payment, error) {
	var resp moyasarPayment
	if err := m.do(ctx, http.MethodGet, "/v1/payments/"+id, nil, &resp); err != nil {
		return nil, fmt.Errorf("moyasar FetchPayment: %w", err)
	}
	return resp.toPayment(), nil
}

func (m *MoyasarGateway) CapturePayment(ctx context.Context, id string) (*Payment, error) {
	var resp moyasarPayment
	if err := m.do(ctx, http.MethodPost, "/v1/payments/"+id+"/capture", struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("moyasar CapturePayment: %w", err)
	}
	return resp.toPayment(), nil
}

// ParseWebhook checks the shared secret token carried in the body.
func (m *MoyasarGateway) ParseWebhook(_ context.Context, _ http.Header, body []byte) (*WebhookEvent, error) {
	var hook moyasarWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if m.webhookSecret == "" ||
		subtle.ConstantTimeCompare([]byte(hook.SecretToken), []byte(m.webhookSecret)) != 1 {
		return nil, ErrInvalidSignature
	}
	return &WebhookEvent{
		Type:      hook.Type,
		PaymentID: hook.Data.ID,
		InvoiceID: hook.Data.Metadata["invoice_id"],
	}, nil
}

func (m *MoyasarGateway) do(ctx context.Context, method, path string, body, out any) error {
	return doJSON(ctx, m.httpClient, m.Name(), method, m.baseURL+path, body, out, func(r *http.Request) {
		r.SetBasicAuth(m.secretKey, "")
	})
}

func (p moyasarPayment) toPayment() *Payment {
	return &Payment{
		ID:             p.ID,
		Status:         moyasarStatus(p.Status),
		Amount:         p.Amount,
		Currency:       p.Currency,
		CallbackURL:    p.CallbackURL,
		TransactionURL: p.Source.TransactionURL,
		InvoiceID:      p.Metadata["invoice_id"],
		Message:        p.Source.Message,
	}
}

func moyasarStatus(s string) PaymentStatus {
	switch s {
	case "paid", "captured":
		return StatusPaid
	case "authorized":
		return StatusAuthorized
	case "failed", "voided":
		return StatusFailed
	case "refunded":
		return StatusRefunded
	default:
		return StatusInitiated
	}
}
