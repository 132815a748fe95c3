package service

import (
	"context"
	"fmt"

	"github.com/iliyamo/bundle-store/internal/gateway"
	"github.com/iliyamo/bundle-store/internal/model"
)

// Checkout tells the buyer how to pay a pending order.  Exactly one of Bank
// and Invoice is set, depending on Method.
type Checkout struct {
	Method    model.PaymentMethod `json:"method"`
	Reference string              `json:"reference"`
	Amount    int64               `json:"amount"`
	Currency  string              `json:"currency"`
	Bank      *BankInstructions   `json:"bank,omitempty"`
	Invoice   *gateway.Invoice    `json:"invoice,omitempty"`
}

// BankInstructions are shown for manual bank transfers; an admin verifies
// the transfer and approves the order.
type BankInstructions struct {
	BankName string `json:"bank_name"`
	Account  string `json:"account"`
	Holder   string `json:"holder"`
	Note     string `json:"note"`
}

// PaymentProvider produces checkout instructions for one payment method.
type PaymentProvider interface {
	Method() model.PaymentMethod
	Checkout(ctx context.Context, o model.Order) (Checkout, error)
}

// Payments dispatches to the provider of an order's method.
type Payments struct {
	providers map[model.PaymentMethod]PaymentProvider
}

// NewPayments registers providers by method.
func NewPayments(providers ...PaymentProvider) *Payments {
	m := make(map[model.PaymentMethod]PaymentProvider, len(providers))
	for _, p := range providers {
		m[p.Method()] = p
	}
	return &Payments{providers: m}
}

// Checkout returns instructions for o.  Only pending orders can be paid.
func (p *Payments) Checkout(ctx context.Context, o model.Order) (Checkout, error) {
	if o.Status != model.OrderPending {
		return Checkout{}, ErrInvalidState
	}
	prov, ok := p.providers[o.Method]
	if !ok {
		return Checkout{}, fmt.Errorf("%w: payment method %q is not available", ErrInvalidInput, o.Method)
	}
	return prov.Checkout(ctx, o)
}

// BankTransfer renders static transfer instructions.  The order public id
// is the payment reference the admin matches against the bank statement.
type BankTransfer struct {
	Instructions BankInstructions
	Currency     string
}

func (b BankTransfer) Method() model.PaymentMethod { return model.MethodBankTransfer }

func (b BankTransfer) Checkout(_ context.Context, o model.Order) (Checkout, error) {
	ins := b.Instructions
	ins.Note = fmt.Sprintf("Put %s in the transfer description. The download unlocks once an administrator confirms the transfer.", o.PublicID)
	return Checkout{
		Method:    model.MethodBankTransfer,
		Reference: o.PublicID,
		Amount:    o.Amount,
		Currency:  b.Currency,
		Bank:      &ins,
	}, nil
}

// InvoiceGateway is the part of the gateway client used at checkout.
type InvoiceGateway interface {
	CreateInvoice(ctx context.Context, req gateway.InvoiceRequest) (gateway.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (gateway.Invoice, error)
}

// GatewayCheckout creates one gateway invoice per order and reuses it on
// later checkouts of the same order.
type GatewayCheckout struct {
	Client      InvoiceGateway
	Ledger      *Ledger
	Description string
	Currency    string
}

func (g GatewayCheckout) Method() model.PaymentMethod { return model.MethodGateway }

func (g GatewayCheckout) Checkout(ctx context.Context, o model.Order) (Checkout, error) {
	out := Checkout{Method: model.MethodGateway, Reference: o.PublicID, Amount: o.Amount, Currency: g.Currency}

	if o.InvoiceID != nil {
		inv, err := g.Client.GetInvoice(ctx, *o.InvoiceID)
		if err != nil {
			return Checkout{}, fmt.Errorf("get invoice: %w", err)
		}
		out.Invoice = &inv
		return out, nil
	}

	inv, err := g.Client.CreateInvoice(ctx, gateway.InvoiceRequest{
		SenderInvoiceNo: o.PublicID,
		Description:     g.Description,
		Amount:          o.Amount,
	})
	if err != nil {
		return Checkout{}, fmt.Errorf("create invoice: %w", err)
	}
	attached, err := g.Ledger.AttachInvoice(ctx, o.ID, inv.InvoiceID)
	if err != nil {
		return Checkout{}, fmt.Errorf("attach invoice: %w", err)
	}
	if !attached {
		// A concurrent checkout attached its invoice first; use that one.
		cur, err := g.Ledger.Reload(ctx, o.PublicID)
		if err != nil {
			return Checkout{}, err
		}
		if cur.InvoiceID != nil {
			return g.Checkout(ctx, cur)
		}
	}
	out.Invoice = &inv
	return out, nil
}
