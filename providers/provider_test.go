package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
)

func TestMoyasar_CreateFetchCapture(t *testing.T) {
	var created map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "sk_test", user)

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payments":
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &created))
			_, _ = io.WriteString(w, `{"id":"pay_1","status":"initiated","amount":18000,"currency":"SAR",
				"metadata":{"invoice_id":"12345"},"source":{"transaction_url":"https://pay.example/3ds"}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payments/pay_1":
			_, _ = io.WriteString(w, `{"id":"pay_1","status":"authorized","amount":18000,"currency":"SAR","metadata":{"invoice_id":"12345"}}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payments/pay_1/capture":
			_, _ = io.WriteString(w, `{"id":"pay_1","status":"captured","amount":18000,"currency":"SAR","metadata":{"invoice_id":"12345"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"type":"not_found","message":"not found"}`)
		}
	}))
	defer srv.Close()

	gw := NewMoyasarGateway("sk_test", "whsec", srv.URL)
	ctx := context.Background()

	pay, err := gw.CreatePayment(ctx, PaymentRequest{
		Amount: 18000, Currency: "SAR", Description: "Order 12345",
		CardSource: map[string]any{"type": "token", "token": "tok_1"},
		InvoiceID:  "12345", CallbackURL: "https://shop/payments/callback/moyasar/checkout/12345",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay_1", pay.ID)
	assert.Equal(t, StatusInitiated, pay.Status)
	assert.Equal(t, "https://pay.example/3ds", pay.TransactionURL)
	assert.Equal(t, float64(18000), created["amount"])
	assert.Equal(t, "https://shop/payments/callback/moyasar/checkout/12345", created["callback_url"])
	assert.Equal(t, map[string]any{"invoice_id": "12345"}, created["metadata"])

	pay, err = gw.FetchPayment(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, pay.Status)

	pay, err = gw.CapturePayment(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, pay.Status)
	assert.Equal(t, "12345", pay.InvoiceID)

	_, err = gw.FetchPayment(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.True(t, apiErr.Rejected())
	assert.Equal(t, "not found", apiErr.Message)
}

func TestMoyasar_ParseWebhook(t *testing.T) {
	gw := NewMoyasarGateway("sk_test", "whsec", "")
	body := []byte(`{"id":"evt_1","type":"payment_paid","secret_token":"whsec","data":{"id":"pay_1","metadata":{"invoice_id":"12345"}}}`)

	ev, err := gw.ParseWebhook(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, "pay_1", ev.PaymentID)
	assert.Equal(t, "12345", ev.InvoiceID)

	bad := []byte(`{"type":"payment_paid","secret_token":"nope","data":{"id":"pay_1"}}`)
	_, err = gw.ParseWebhook(context.Background(), http.Header{}, bad)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func newPayPalServer(t *testing.T, status string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/v1/oauth2/token" {
			_, _ = io.WriteString(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/checkout/orders":
			var req payPalOrderRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "180.00", req.PurchaseUnits[0].Amount.Value)
			_, _ = io.WriteString(w, `{"id":"ORD-1","status":"CREATED","purchase_units":[{"custom_id":"12345","amount":{"currency_code":"SAR","value":"180.00"}}],
				"links":[{"href":"https://paypal.example/approve","rel":"approve"}]}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v2/checkout/orders/ORD-1":
			_, _ = io.WriteString(w, `{"id":"ORD-1","status":"`+status+`","purchase_units":[{"custom_id":"12345","amount":{"currency_code":"SAR","value":"180.00"}}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/v2/checkout/orders/ORD-1/capture":
			status = "COMPLETED"
			_, _ = io.WriteString(w, `{"id":"ORD-1","status":"COMPLETED"}`)
		case r.URL.Path == "/v1/notifications/verify-webhook-signature":
			_, _ = io.WriteString(w, `{"verification_status":"SUCCESS"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestPayPal_OrderLifecycle(t *testing.T) {
	srv := newPayPalServer(t, "APPROVED")
	defer srv.Close()

	gw := NewPayPalGateway("client", "secret", "WH-1", srv.URL)
	ctx := context.Background()

	pay, err := gw.CreatePayment(ctx, PaymentRequest{Amount: 18000, Currency: "SAR", InvoiceID: "12345", CallbackURL: "https://cb"})
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", pay.ID)
	assert.Equal(t, StatusInitiated, pay.Status)
	assert.Equal(t, "https://paypal.example/approve", pay.TransactionURL)
	assert.Equal(t, int64(18000), pay.Amount)

	pay, err = gw.FetchPayment(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, StatusAuthorized, pay.Status)

	pay, err = gw.CapturePayment(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, pay.Status)
	assert.Equal(t, "12345", pay.InvoiceID)
	assert.Equal(t, int64(18000), pay.Amount)
}

func TestPayPal_ParseWebhook(t *testing.T) {
	srv := newPayPalServer(t, "COMPLETED")
	defer srv.Close()

	gw := NewPayPalGateway("client", "secret", "WH-1", srv.URL)
	body := []byte(`{"id":"WH-EVT","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-1","custom_id":"12345",
		"supplementary_data":{"related_ids":{"order_id":"ORD-1"}}}}`)

	ev, err := gw.ParseWebhook(context.Background(), http.Header{}, body)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1", ev.PaymentID)
	assert.Equal(t, "12345", ev.InvoiceID)

	unconfigured := NewPayPalGateway("client", "secret", "", srv.URL)
	_, err = unconfigured.ParseWebhook(context.Background(), http.Header{}, body)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripe_ParseWebhook(t *testing.T) {
	gw := NewStripeGateway("sk_test", "whsec_test", "")
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","api_version":"` + stripe.APIVersion + `",
		"data":{"object":{"id":"pi_1","object":"payment_intent","status":"succeeded","amount":18000,"metadata":{"invoice_id":"12345"}}}}`)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	header := http.Header{}
	header.Set("Stripe-Signature", signed.Header)

	ev, err := gw.ParseWebhook(context.Background(), header, payload)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", ev.PaymentID)
	assert.Equal(t, "12345", ev.InvoiceID)

	header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	_, err = gw.ParseWebhook(context.Background(), header, payload)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, StatusPaid, moyasarStatus("captured"))
	assert.Equal(t, StatusFailed, moyasarStatus("voided"))
	assert.Equal(t, StatusAuthorized, payPalStatus("APPROVED"))
	assert.Equal(t, StatusInitiated, payPalStatus("PAYER_ACTION_REQUIRED"))
	assert.Equal(t, StatusAuthorized, stripeStatus(stripe.PaymentIntentStatusRequiresCapture))
	assert.Equal(t, StatusInitiated, stripeStatus(stripe.PaymentIntentStatusProcessing))
}

func TestAmountConversion(t *testing.T) {
	assert.Equal(t, "180.00", formatMinor(18000))
	assert.Equal(t, "0.05", formatMinor(5))
	n, err := parseMajor("180.5")
	require.NoError(t, err)
	assert.Equal(t, int64(18050), n)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewMoyasarGateway("k", "w", ""), NewStripeGateway("k", "w", ""))
	assert.Equal(t, []string{"moyasar", "stripe"}, r.Names())

	_, err := r.Get("bank")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	v, err := r.Verifier("moyasar")
	require.NoError(t, err)
	assert.NotNil(t, v)
}
