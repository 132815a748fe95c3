package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountDecoding(t *testing.T) {
	cases := []struct {
		in    string
		want  Amount
		isErr bool
	}{
		{`50000`, NewAmount(50000), false},
		{`"50000"`, NewAmount(50000), false},
		{`"50000.00"`, NewAmount(50000), false},
		{`50000.0`, NewAmount(50000), false},
		{`null`, Amount{}, false},
		{`"50000.5"`, Amount{}, true},
		{`"abc"`, Amount{}, true},
	}
	for _, tc := range cases {
		var a Amount
		err := json.Unmarshal([]byte(tc.in), &a)
		if tc.isErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, a, tc.in)
	}
}

func validCallback() Callback {
	return Callback{
		ObjectID:        "INV-1",
		ObjectType:      "INVOICE",
		PaymentStatus:   StatusPaid,
		PaymentAmount:   NewAmount(50000),
		SenderInvoiceNo: "ORD-20260101-ABCDEF12",
		PaymentID:       "P1",
		PaymentDate:     "2026-01-02T03:04:05Z",
	}
}

func TestCallbackValidate(t *testing.T) {
	require.NoError(t, validCallback().Validate())

	cb := validCallback()
	cb.PaymentAmount = Amount{}
	cb.PaymentID = ""
	err := cb.Validate()
	require.ErrorIs(t, err, ErrMalformedCallback)
	assert.Contains(t, err.Error(), "PaymentAmount")
	assert.Contains(t, err.Error(), "PaymentID")

	cb = validCallback()
	cb.PaymentDate = "yesterday"
	assert.ErrorIs(t, cb.Validate(), ErrMalformedCallback)
}

func TestParseTimeLayouts(t *testing.T) {
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, s := range []string{"2026-01-02T03:04:05Z", "2026-01-02 03:04:05", "2026-01-02T11:04:05+08:00"} {
		got, err := ParseTime(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}
}

func TestSandboxClient(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://unused"}, nil, zerolog.Nop())
	require.True(t, c.Sandbox())

	inv, err := c.CreateInvoice(context.Background(), InvoiceRequest{SenderInvoiceNo: "ORD-1", Amount: 100})
	require.NoError(t, err)
	assert.True(t, inv.IsTest)
	assert.Contains(t, inv.InvoiceID, "TEST_INV_")
	assert.NotEmpty(t, inv.QRText)

	check, err := c.CheckPayment(context.Background(), inv.InvoiceID)
	require.NoError(t, err)
	_, paid := check.Paid()
	assert.False(t, paid)
	assert.NoError(t, c.CancelInvoice(context.Background(), inv.InvoiceID))
}

func TestClientAgainstGateway(t *testing.T) {
	var authCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "merchant" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		atomic.AddInt32(&authCalls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600})
	})
	mux.HandleFunc("/invoice", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ORD-1", body["sender_invoice_no"])
		assert.Equal(t, float64(50000), body["amount"])
		assert.Equal(t, "https://shop.example/gateway/callback?order=ORD-1", body["callback_url"])
		_ = json.NewEncoder(w).Encode(map[string]any{"invoice_id": "INV-9", "qr_text": "qr"})
	})
	mux.HandleFunc("/payment/check", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"count":1,"paid_amount":50000,"rows":[{"payment_id":"P1","payment_status":"PAID","payment_amount":"50000.00","payment_date":"2026-01-02 03:04:05"}]}`))
	})
	mux.HandleFunc("/invoice/INV-9", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "nope", http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(Config{
		BaseURL: srv.URL, ClientID: "merchant", ClientSecret: "pw",
		CallbackURL: "https://shop.example/gateway/callback",
	}, srv.Client(), zerolog.Nop())
	ctx := context.Background()

	inv, err := c.CreateInvoice(ctx, InvoiceRequest{SenderInvoiceNo: "ORD-1", Amount: 50000})
	require.NoError(t, err)
	assert.Equal(t, "INV-9", inv.InvoiceID)
	assert.False(t, inv.IsTest)

	check, err := c.CheckPayment(ctx, "INV-9")
	require.NoError(t, err)
	p, ok := check.Paid()
	require.True(t, ok)
	assert.Equal(t, "P1", p.PaymentID)
	assert.Equal(t, NewAmount(50000), p.Amount)

	require.NoError(t, c.CancelInvoice(ctx, "INV-9"))

	_, err = c.GetInvoice(ctx, "INV-9")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls), "token is cached between calls")
}
