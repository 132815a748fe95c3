// Package gateway talks to the QPay-style payment gateway: invoice
// creation, lookup and cancellation, payment checks, and the schema of the
// callback the gateway posts when a payment settles.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// tokenLifetime is how long an access token is reused.  The gateway issues
// hour-long tokens; refreshing early avoids using one that is about to lapse.
const tokenLifetime = 50 * time.Minute

// Config holds the merchant credentials.  An empty ClientID puts the
// client in sandbox mode: no network calls, test invoices only.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	InvoiceCode  string
	CallbackURL  string
	Timeout      time.Duration
}

// InvoiceRequest describes the invoice created for one order.
type InvoiceRequest struct {
	SenderInvoiceNo string // order public id, echoed back in callbacks
	Description     string
	Amount          int64
}

// DeepLink is a bank-app or web link that opens the invoice.
type DeepLink struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Logo        string `json:"logo,omitempty"`
	Link        string `json:"link"`
}

// Invoice is the gateway's view of an invoice.
type Invoice struct {
	InvoiceID string     `json:"invoice_id"`
	Status    string     `json:"invoice_status,omitempty"`
	QRText    string     `json:"qr_text,omitempty"`
	QRImage   string     `json:"qr_image,omitempty"`
	ShortURL  string     `json:"qPay_shortUrl,omitempty"`
	URLs      []DeepLink `json:"urls,omitempty"`
	IsTest    bool       `json:"is_test,omitempty"`
}

// Payment is one row of a payment check.
type Payment struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"payment_status"`
	Amount    Amount `json:"payment_amount"`
	Currency  string `json:"payment_currency"`
	Date      string `json:"payment_date"`
}

// PaymentCheck is the result of checking an invoice for payments.
type PaymentCheck struct {
	Count      int       `json:"count"`
	PaidAmount Amount    `json:"paid_amount"`
	Rows       []Payment `json:"rows"`
}

// Paid returns the first settled payment, if any.
func (p PaymentCheck) Paid() (Payment, bool) {
	for _, r := range p.Rows {
		if r.Status == StatusPaid {
			return r, true
		}
	}
	return Payment{}, false
}

// APIError is returned for non-2xx gateway responses.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Client is safe for concurrent use.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
	now  func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// NewClient builds a Client.  hc may be nil.
func NewClient(cfg Config, hc *http.Client, log zerolog.Logger) *Client {
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: hc,
		log:  log.With().Str("component", "gateway").Logger(),
		now:  time.Now,
	}
}

// Sandbox reports whether the client fabricates test invoices instead of
// calling the gateway.
func (c *Client) Sandbox() bool { return c.cfg.ClientID == "" }

// CreateInvoice creates an invoice for an order.
func (c *Client) CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error) {
	if c.Sandbox() {
		inv := testInvoice("TEST_INV_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12]))
		c.log.Info().Str("order_id", req.SenderInvoiceNo).Str("invoice_id", inv.InvoiceID).Msg("sandbox invoice created")
		return inv, nil
	}
	body := map[string]any{
		"invoice_code":          c.cfg.InvoiceCode,
		"sender_invoice_no":     req.SenderInvoiceNo,
		"invoice_receiver_code": "terminal",
		"invoice_description":   req.Description,
		"amount":                req.Amount,
		"callback_url":          c.callbackURL(req.SenderInvoiceNo),
	}
	var inv Invoice
	if err := c.do(ctx, "create invoice", http.MethodPost, "/invoice", body, &inv); err != nil {
		return Invoice{}, err
	}
	if inv.InvoiceID == "" {
		return Invoice{}, &APIError{Op: "create invoice", Status: http.StatusOK, Body: "response without invoice_id"}
	}
	return inv, nil
}

// GetInvoice fetches an existing invoice.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	if c.Sandbox() || strings.HasPrefix(invoiceID, "TEST_INV_") {
		return testInvoice(invoiceID), nil
	}
	var inv Invoice
	if err := c.do(ctx, "get invoice", http.MethodGet, "/invoice/"+url.PathEscape(invoiceID), nil, &inv); err != nil {
		return Invoice{}, err
	}
	if inv.InvoiceID == "" {
		inv.InvoiceID = invoiceID
	}
	return inv, nil
}

// CheckPayment lists the payments made against an invoice.
func (c *Client) CheckPayment(ctx context.Context, invoiceID string) (PaymentCheck, error) {
	if c.Sandbox() || strings.HasPrefix(invoiceID, "TEST_INV_") {
		return PaymentCheck{}, nil
	}
	body := map[string]any{
		"object_type": "INVOICE",
		"object_id":   invoiceID,
		"offset":      map[string]int{"page_number": 1, "page_limit": 100},
	}
	var out PaymentCheck
	if err := c.do(ctx, "check payment", http.MethodPost, "/payment/check", body, &out); err != nil {
		return PaymentCheck{}, err
	}
	return out, nil
}

// CancelInvoice deletes an unpaid invoice.
func (c *Client) CancelInvoice(ctx context.Context, invoiceID string) error {
	if c.Sandbox() || strings.HasPrefix(invoiceID, "TEST_INV_") {
		return nil
	}
	return c.do(ctx, "cancel invoice", http.MethodDelete, "/invoice/"+url.PathEscape(invoiceID), nil, nil)
}

func (c *Client) callbackURL(orderID string) string {
	if c.cfg.CallbackURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(c.cfg.CallbackURL, "?") {
		sep = "&"
	}
	return c.cfg.CallbackURL + sep + "order=" + url.QueryEscape(orderID)
}

// accessToken returns a cached bearer token, fetching a new one when the
// cached token is older than tokenLifetime.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExp) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth/token", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway auth: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", apiError("auth", resp)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway auth: decode: %w", err)
	}
	if out.AccessToken == "" {
		return "", &APIError{Op: "auth", Status: resp.StatusCode, Body: "empty access_token"}
	}
	c.token = out.AccessToken
	c.tokenExp = c.now().Add(tokenLifetime)
	return c.token, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
	if resp.StatusCode/100 != 2 {
		return apiError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway %s: decode: %w", op, err)
	}
	return nil
}

func apiError(op string, resp *http.Response) *APIError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

func testInvoice(id string) Invoice {
	qr := "qpay://payment/" + id
	return Invoice{
		InvoiceID: id,
		Status:    "OPEN",
		QRText:    qr,
		QRImage:   "https://api.qrserver.com/v1/create-qr-code/?size=300x300&data=" + url.QueryEscape(qr),
		URLs: []DeepLink{
			{Name: "web", Description: "Web", Link: "https://sandbox.qpay.mn/payment/" + id},
			{Name: "deeplink", Description: "QPay App", Link: qr},
		},
		IsTest: true,
	}
}
