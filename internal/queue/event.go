// Package queue defines message payloads exchanged over the message broker.
package queue

// OrderPaidEvent is published when an order transitions to paid.  It
// contains enough information for downstream consumers to log, notify or
// trigger analytics without querying the primary database.
type OrderPaidEvent struct {
    OrderID   string  `json:"order_id"`
    UserID    uint64  `json:"user_id"`
    LoginKey  string  `json:"login_key,omitempty"`
    Amount    int64   `json:"amount"`
    Currency  string  `json:"currency,omitempty"`
    Method    string  `json:"method"`
    Source    string  `json:"source"` // "admin", "gateway" or "reconcile"
    PaymentID *string `json:"payment_id,omitempty"`
    PaidAt    string  `json:"paid_at"`
}
