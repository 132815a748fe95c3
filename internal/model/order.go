package model

import (
    "fmt"
    "strings"
    "time"
)

// OrderStatus is the lifecycle state of an order.  pending is the only
// non-terminal state; every other status freezes the order.
type OrderStatus string

const (
    OrderPending   OrderStatus = "pending"
    OrderPaid      OrderStatus = "paid"
    OrderRejected  OrderStatus = "rejected"
    OrderCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted.
func (s OrderStatus) Terminal() bool { return s != OrderPending }

// ParseOrderStatus normalizes a status filter received from a client.
func ParseOrderStatus(raw string) (OrderStatus, error) {
    switch s := OrderStatus(strings.ToLower(strings.TrimSpace(raw))); s {
    case OrderPending, OrderPaid, OrderRejected, OrderCancelled:
        return s, nil
    }
    return "", fmt.Errorf("unknown order status %q", raw)
}

// PaymentMethod tags how an order is expected to be paid.  The ledger and
// verifier are shared by every method; only checkout instructions differ.
type PaymentMethod string

const (
    MethodBankTransfer PaymentMethod = "bank_transfer"
    MethodGateway      PaymentMethod = "gateway"
)

// ParsePaymentMethod validates a method name.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
    switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw))); m {
    case MethodBankTransfer, MethodGateway:
        return m, nil
    }
    return "", fmt.Errorf("unknown payment method %q", raw)
}

// Order records one purchase attempt in the `orders` table.  ID is the
// storage key and never leaves the server; clients, admins and the
// payment gateway refer to an order by PublicID.
//
// Fields:
//  ID        – internal primary key.
//  PublicID  – unique external reference (also the bank transfer reference).
//  UserID    – owner of the order.
//  Amount    – price in the smallest currency unit; immutable.
//  Method    – payment method chosen at creation.
//  Status    – pending, paid, rejected or cancelled.
//  InvoiceID – gateway invoice reference (nullable).
//  PaymentID – gateway payment reference, set only once paid (nullable).
//  CreatedAt – creation timestamp.
//  UpdatedAt – last update timestamp.
//  DecidedAt – when the order left pending (nullable).
//  DecidedBy – admin user id that approved or rejected (nullable).
//  Notes     – admin notes or rejection reason (nullable).
type Order struct {
    ID        uint64        `json:"-"`
    PublicID  string        `json:"order_id"`
    UserID    uint64        `json:"user_id"`
    Amount    int64         `json:"amount"`
    Method    PaymentMethod `json:"method"`
    Status    OrderStatus   `json:"status"`
    InvoiceID *string       `json:"invoice_id,omitempty"`
    PaymentID *string       `json:"payment_id,omitempty"`
    CreatedAt time.Time     `json:"created_at"`
    UpdatedAt time.Time     `json:"updated_at"`
    DecidedAt *time.Time    `json:"decided_at,omitempty"`
    DecidedBy *uint64       `json:"decided_by,omitempty"`
    Notes     *string       `json:"notes,omitempty"`
}

// OrderStats aggregates the ledger for the admin dashboard.
type OrderStats struct {
    TotalOrders     int64 `json:"total_orders"`
    PendingOrders   int64 `json:"pending_orders"`
    PaidOrders      int64 `json:"paid_orders"`
    RejectedOrders  int64 `json:"rejected_orders"`
    CancelledOrders int64 `json:"cancelled_orders"`
    TotalRevenue    int64 `json:"total_revenue"`
    EntitledUsers   int64 `json:"entitled_users"`
}
