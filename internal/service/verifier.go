package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/gateway"
	"github.com/iliyamo/bundle-store/internal/metrics"
	"github.com/iliyamo/bundle-store/internal/model"
	"github.com/iliyamo/bundle-store/internal/queue"
	"github.com/iliyamo/bundle-store/internal/repository"
)

// Decision sources recorded in metrics and events.
const (
	SourceAdmin     = "admin"
	SourceGateway   = "gateway"
	SourceReconcile = "reconcile"
)

// publishTimeout bounds the broker round trip on the request path.
const publishTimeout = 3 * time.Second

// CallbackResult is how a well-formed callback was acknowledged.
type CallbackResult string

const (
	CallbackPaid      CallbackResult = "paid"      // order transitioned to paid
	CallbackDuplicate CallbackResult = "duplicate" // order was already paid
	CallbackIgnored   CallbackResult = "ignored"   // status other than PAID
)

// EventPublisher receives order.paid events.  Publishing is best effort.
type EventPublisher interface {
	PublishOrderPaid(ctx context.Context, ev queue.OrderPaidEvent) error
}

// PaymentChecker polls the gateway for payments against an invoice.
type PaymentChecker interface {
	CheckPayment(ctx context.Context, invoiceID string) (gateway.PaymentCheck, error)
}

// Verifier moves orders out of pending.  Every transition is a conditional
// update inside a transaction; a paid transition grants the owner's
// entitlement in the same transaction.
type Verifier struct {
	users    *repository.UserRepo
	orders   *repository.OrderRepo
	events   EventPublisher
	checker  PaymentChecker
	metrics  *metrics.Metrics
	currency string
	log      zerolog.Logger
	now      func() time.Time
}

// VerifierDeps are the optional collaborators of a Verifier; nil fields
// disable the matching feature.
type VerifierDeps struct {
	Events   EventPublisher
	Checker  PaymentChecker
	Metrics  *metrics.Metrics
	Currency string
}

// NewVerifier returns a Verifier.
func NewVerifier(users *repository.UserRepo, orders *repository.OrderRepo, deps VerifierDeps, log zerolog.Logger) *Verifier {
	return &Verifier{
		users:    users,
		orders:   orders,
		events:   deps.Events,
		checker:  deps.Checker,
		metrics:  deps.Metrics,
		currency: deps.Currency,
		log:      log.With().Str("component", "verifier").Logger(),
		now:      time.Now,
	}
}

// Approve marks a pending order paid on behalf of an admin.  An order that
// is already terminal is returned unchanged with changed=false.
func (v *Verifier) Approve(ctx context.Context, publicID string, adminID uint64, notes *string) (model.Order, bool, error) {
	o, err := v.load(ctx, publicID)
	if err != nil {
		return model.Order{}, false, err
	}
	if o.Status.Terminal() {
		return o, false, nil
	}

	now := v.now().UTC()
	changed, err := v.markPaid(ctx, o, repository.Decision{At: now, By: &adminID, Notes: notes}, now)
	if err != nil {
		return model.Order{}, false, err
	}
	o, err = v.load(ctx, publicID)
	if err != nil {
		return model.Order{}, false, err
	}
	if changed {
		v.afterPaid(ctx, o, SourceAdmin)
	}
	return o, changed, nil
}

// Reject marks a pending order rejected.  Rejecting a rejected order is a
// no-op; rejecting a paid or cancelled order fails with ErrInvalidState.
// Entitlement is never touched.
func (v *Verifier) Reject(ctx context.Context, publicID string, adminID uint64, reason *string) (model.Order, bool, error) {
	o, err := v.load(ctx, publicID)
	if err != nil {
		return model.Order{}, false, err
	}
	switch o.Status {
	case model.OrderRejected:
		return o, false, nil
	case model.OrderPaid, model.OrderCancelled:
		return model.Order{}, false, ErrInvalidState
	}

	var changed bool
	err = repository.InTx(ctx, v.orders.DB(), func(tx *sql.Tx) error {
		var err error
		changed, err = v.orders.MarkRejectedTx(ctx, tx, o.ID, repository.Decision{At: v.now(), By: &adminID, Notes: reason})
		return err
	})
	if err != nil {
		return model.Order{}, false, err
	}
	o, err = v.load(ctx, publicID)
	if err != nil {
		return model.Order{}, false, err
	}
	if changed {
		v.metrics.Decision(string(model.OrderRejected), SourceAdmin)
		v.log.Info().Str("order_id", o.PublicID).Uint64("admin_id", adminID).Msg("order rejected")
		return o, true, nil
	}
	// Lost a race against another decision.
	if o.Status == model.OrderRejected {
		return o, false, nil
	}
	return model.Order{}, false, ErrInvalidState
}

// HandleCallback applies a gateway payment notification.  Only PAID
// notifications are actionable, the amount must equal the order amount,
// and duplicates of an already applied payment are acknowledged.
func (v *Verifier) HandleCallback(ctx context.Context, cb gateway.Callback) (CallbackResult, error) {
	return v.applyPayment(ctx, cb, SourceGateway)
}

func (v *Verifier) applyPayment(ctx context.Context, cb gateway.Callback, source string) (CallbackResult, error) {
	if err := cb.Validate(); err != nil {
		v.metrics.Callback("malformed")
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	logger := v.log.With().Str("order_id", cb.SenderInvoiceNo).Str("invoice_id", cb.ObjectID).
		Str("payment_id", cb.PaymentID).Str("source", source).Logger()

	if !cb.IsPaid() {
		logger.Info().Str("payment_status", cb.PaymentStatus).Msg("non-paid notification ignored")
		v.metrics.Callback(string(CallbackIgnored))
		return CallbackIgnored, nil
	}

	o, err := v.load(ctx, cb.SenderInvoiceNo)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Warn().Msg("callback for unknown order")
			v.metrics.Callback("not_found")
		}
		return "", err
	}
	if o.Status == model.OrderPaid {
		logger.Info().Msg("order already paid")
		v.metrics.Callback(string(CallbackDuplicate))
		return CallbackDuplicate, nil
	}
	if cb.PaymentAmount.Value != o.Amount {
		logger.Warn().Int64("expected", o.Amount).Int64("received", cb.PaymentAmount.Value).Msg("payment amount mismatch")
		v.metrics.Callback("amount_mismatch")
		return "", ErrAmountMismatch
	}
	if o.Status != model.OrderPending {
		logger.Error().Str("status", string(o.Status)).Msg("payment received for a closed order")
		v.metrics.Callback("invalid_state")
		return "", ErrInvalidState
	}

	paidAt, _ := cb.PaidAt() // validated above
	paymentID := cb.PaymentID
	changed, err := v.markPaid(ctx, o, repository.Decision{At: v.now(), PaymentID: &paymentID}, paidAt)
	if err != nil {
		return "", err
	}
	o, err = v.load(ctx, o.PublicID)
	if err != nil {
		return "", err
	}
	if changed {
		logger.Info().Int64("amount", o.Amount).Msg("payment applied")
		v.metrics.Callback(string(CallbackPaid))
		v.afterPaid(ctx, o, source)
		return CallbackPaid, nil
	}
	if o.Status == model.OrderPaid {
		v.metrics.Callback(string(CallbackDuplicate))
		return CallbackDuplicate, nil
	}
	logger.Error().Str("status", string(o.Status)).Msg("payment received for a closed order")
	v.metrics.Callback("invalid_state")
	return "", ErrInvalidState
}

// Reconcile asks the gateway whether a pending gateway order has been paid
// and applies the payment when it has.  It covers callbacks that never
// arrived.  Gateway errors are logged and the order is returned as stored.
func (v *Verifier) Reconcile(ctx context.Context, o model.Order) (model.Order, error) {
	if v.checker == nil || o.Status != model.OrderPending || o.Method != model.MethodGateway || o.InvoiceID == nil {
		return o, nil
	}
	check, err := v.checker.CheckPayment(ctx, *o.InvoiceID)
	if err != nil {
		v.log.Warn().Err(err).Str("order_id", o.PublicID).Msg("payment check failed")
		return o, nil
	}
	p, ok := check.Paid()
	if !ok {
		return o, nil
	}
	paymentDate := p.Date
	if paymentDate == "" {
		paymentDate = v.now().UTC().Format(time.RFC3339)
	}
	_, err = v.applyPayment(ctx, gateway.Callback{
		ObjectID:        *o.InvoiceID,
		ObjectType:      "INVOICE",
		PaymentStatus:   p.Status,
		PaymentAmount:   p.Amount,
		SenderInvoiceNo: o.PublicID,
		PaymentID:       p.PaymentID,
		PaymentDate:     paymentDate,
	}, SourceReconcile)
	switch {
	case err == nil:
	case errors.Is(err, ErrAmountMismatch), errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidInput):
		// Logged by applyPayment; the order stays as stored.
	default:
		return model.Order{}, err
	}
	return v.load(ctx, o.PublicID)
}

// markPaid runs the paired order + entitlement update.  It reports false
// when the order was no longer pending, in which case nothing is written.
func (v *Verifier) markPaid(ctx context.Context, o model.Order, d repository.Decision, entitledAt time.Time) (bool, error) {
	var changed bool
	err := repository.InTx(ctx, v.orders.DB(), func(tx *sql.Tx) error {
		ok, err := v.orders.MarkPaidTx(ctx, tx, o.ID, d)
		if err != nil || !ok {
			return err
		}
		if err := v.users.GrantEntitlementTx(ctx, tx, o.UserID, entitledAt); err != nil {
			return fmt.Errorf("grant entitlement: %w", err)
		}
		changed = true
		return nil
	})
	return changed, err
}

func (v *Verifier) afterPaid(ctx context.Context, o model.Order, source string) {
	v.metrics.Decision(string(model.OrderPaid), source)
	v.log.Info().Str("order_id", o.PublicID).Uint64("user_id", o.UserID).Str("source", source).Msg("order paid")
	if v.events == nil {
		return
	}
	ev := queue.OrderPaidEvent{
		OrderID:   o.PublicID,
		UserID:    o.UserID,
		Amount:    o.Amount,
		Currency:  v.currency,
		Method:    string(o.Method),
		Source:    source,
		PaymentID: o.PaymentID,
		PaidAt:    v.now().UTC().Format(time.RFC3339),
	}
	if u, err := v.users.GetByID(ctx, o.UserID); err == nil {
		ev.LoginKey = u.LoginKey
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := v.events.PublishOrderPaid(pubCtx, ev); err != nil {
		v.log.Warn().Err(err).Str("order_id", o.PublicID).Msg("order.paid event not published")
	}
}

func (v *Verifier) load(ctx context.Context, publicID string) (model.Order, error) {
	o, err := v.orders.GetByPublicID(ctx, publicID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Order{}, ErrNotFound
	}
	return o, err
}
