package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const payPalBaseURL = "https://api-m.sandbox.paypal.com"

// PayPalGateway implements Gateway on the PayPal Orders v2 API.
type PayPalGateway struct {
	baseURL    string
	webhookID  string
	httpClient *http.Client
}

// NewPayPalGateway builds a client whose requests carry an OAuth2 client-credentials
// token fetched and refreshed by x/oauth2.
func NewPayPalGateway(clientID, clientSecret, webhookID, baseURL string) *PayPalGateway {
	if baseURL == "" {
		baseURL = payPalBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := &http.Client{Timeout: 15 * time.Second}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	client := cc.Client(tokenCtx)
	client.Timeout = 15 * time.Second

	return &PayPalGateway{baseURL: baseURL, webhookID: webhookID, httpClient: client}
}

// ---- PayPal API structs ----

type payPalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type payPalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	CustomID    string       `json:"custom_id,omitempty"`
	Description string       `json:"description,omitempty"`
	Amount      payPalAmount `json:"amount"`
}

type payPalOrderRequest struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []payPalPurchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL string `json:"return_url"`
		CancelURL string `json:"cancel_url"`
	} `json:"application_context"`
}

type payPalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []payPalPurchaseUnit `json:"purchase_units"`
	Links         []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

type payPalWebhook struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		CustomID          string `json:"custom_id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

type payPalVerifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

// ---- Gateway implementation ----

func (p *PayPalGateway) Name() string { return "paypal" }

func (p *PayPalGateway) CreatePayment(ctx context.Context, req PaymentRequest) (*Payment, error) {
	body := payPalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []payPalPurchaseUnit{{
			ReferenceID: req.InvoiceID,
			CustomID:    req.InvoiceID,
			Description: req.Description,
			Amount:      payPalAmount{CurrencyCode: req.Currency, Value: formatMinor(req.Amount)},
		}},
	}
	body.ApplicationContext.ReturnURL = req.CallbackURL
	body.ApplicationContext.CancelURL = req.CallbackURL

	var order payPalOrder
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return nil, fmt.Errorf("paypal CreatePayment: %w", err)
	}
	pay, err := order.toPayment()
	if err != nil {
		return nil, fmt.Errorf("paypal CreatePayment: %w", err)
	}
	pay.CallbackURL = req.CallbackURL
	return pay, nil
}

func (p *PayPalGateway) FetchPayment(ctx context.Context, id string) (*Payment, error) {
	var order payPalOrder
	if err := p.do(ctx, http.MethodGet, "/v2/checkout/orders/"+id, nil, &order); err != nil {
		return nil, fmt.Errorf("paypal FetchPayment: %w", err)
	}
	return order.toPayment()
}

func (p *PayPalGateway) CapturePayment(ctx context.Context, id string) (*Payment, error) {
	var order payPalOrder
	if err := p.do(ctx, http.MethodPost, "/v2/checkout/orders/"+id+"/capture", struct{}{}, &order); err != nil {
		return nil, fmt.Errorf("paypal CapturePayment: %w", err)
	}
	// The capture answer omits the order amount; read it back.
	return p.FetchPayment(ctx, id)
}

// ParseWebhook asks PayPal to verify the transmission signature headers.
func (p *PayPalGateway) ParseWebhook(ctx context.Context, header http.Header, body []byte) (*WebhookEvent, error) {
	if p.webhookID == "" {
		return nil, ErrInvalidSignature
	}
	verify := payPalVerifyRequest{
		AuthAlgo:         header.Get("Paypal-Auth-Algo"),
		CertURL:          header.Get("Paypal-Cert-Url"),
		TransmissionID:   header.Get("Paypal-Transmission-Id"),
		TransmissionSig:  header.Get("Paypal-Transmission-Sig"),
		TransmissionTime: header.Get("Paypal-Transmission-Time"),
		WebhookID:        p.webhookID,
		WebhookEvent:     json.RawMessage(body),
	}
	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", verify, &result); err != nil {
		return nil, fmt.Errorf("paypal verify webhook: %w", err)
	}
	if result.VerificationStatus != "SUCCESS" {
		return nil, ErrInvalidSignature
	}

	var hook payPalWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	orderID := hook.Resource.SupplementaryData.RelatedIDs.OrderID
	if orderID == "" {
		orderID = hook.Resource.ID
	}
	return &WebhookEvent{Type: hook.EventType, PaymentID: orderID, InvoiceID: hook.Resource.CustomID}, nil
}

func (p *PayPalGateway) do(ctx context.Context, method, path string, body, out any) error {
	return doJSON(ctx, p.httpClient, p.Name(), method, p.baseURL+path, body, out, nil)
}

func (o payPalOrder) toPayment() (*Payment, error) {
	pay := &Payment{ID: o.ID, Status: payPalStatus(o.Status)}
	if len(o.PurchaseUnits) > 0 {
		unit := o.PurchaseUnits[0]
		pay.InvoiceID = unit.CustomID
		if pay.InvoiceID == "" {
			pay.InvoiceID = unit.ReferenceID
		}
		pay.Currency = unit.Amount.CurrencyCode
		if unit.Amount.Value != "" {
			minor, err := parseMajor(unit.Amount.Value)
			if err != nil {
				return nil, err
			}
			pay.Amount = minor
		}
	}
	for _, l := range o.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			pay.TransactionURL = l.Href
		}
	}
	return pay, nil
}

func payPalStatus(s string) PaymentStatus {
	switch s {
	case "APPROVED":
		return StatusAuthorized
	case "COMPLETED":
		return StatusPaid
	case "VOIDED":
		return StatusFailed
	default:
		return StatusInitiated
	}
}

// formatMinor renders minor units as a major unit decimal string, e.g. 18000 -> "180.00".
func formatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

func parseMajor(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
