package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iliyamo/bundle-store/internal/metrics"
	"github.com/iliyamo/bundle-store/internal/model"
	"github.com/iliyamo/bundle-store/internal/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	publicIDTries   = 5
)

// InvoiceCanceller is the part of the gateway client the ledger needs.
type InvoiceCanceller interface {
	CancelInvoice(ctx context.Context, invoiceID string) error
}

// LedgerConfig describes the single product on sale.
type LedgerConfig struct {
	Price   int64
	Methods []model.PaymentMethod // enabled methods; the first is the default
}

// Ledger owns the orders table: creation with pending-order reuse, lookup
// with ownership checks, cancellation and the admin views.
type Ledger struct {
	users    *repository.UserRepo
	orders   *repository.OrderRepo
	cfg      LedgerConfig
	invoices InvoiceCanceller
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// NewLedger returns a Ledger.  invoices and m may be nil.
func NewLedger(users *repository.UserRepo, orders *repository.OrderRepo, cfg LedgerConfig,
	invoices InvoiceCanceller, m *metrics.Metrics, log zerolog.Logger) *Ledger {
	if len(cfg.Methods) == 0 {
		cfg.Methods = []model.PaymentMethod{model.MethodBankTransfer}
	}
	return &Ledger{
		users:    users,
		orders:   orders,
		cfg:      cfg,
		invoices: invoices,
		metrics:  m,
		log:      log.With().Str("component", "ledger").Logger(),
		now:      time.Now,
	}
}

// Price returns the configured product price.
func (l *Ledger) Price() int64 { return l.cfg.Price }

// Methods returns the enabled payment methods.
func (l *Ledger) Methods() []model.PaymentMethod { return l.cfg.Methods }

func (l *Ledger) resolveMethod(raw string) (model.PaymentMethod, error) {
	if strings.TrimSpace(raw) == "" {
		return l.cfg.Methods[0], nil
	}
	m, err := model.ParsePaymentMethod(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for _, enabled := range l.cfg.Methods {
		if enabled == m {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: payment method %q is not enabled", ErrInvalidInput, m)
}

// CreateOrRetrievePending returns the user's pending order, creating one at
// the configured price when none exists.  created reports whether a new row
// was inserted.  The user row is locked first so concurrent requests of the
// same user cannot both insert.
func (l *Ledger) CreateOrRetrievePending(ctx context.Context, userID uint64, method string) (order model.Order, created bool, err error) {
	m, err := l.resolveMethod(method)
	if err != nil {
		return model.Order{}, false, err
	}

	err = repository.InTx(ctx, l.orders.DB(), func(tx *sql.Tx) error {
		u, err := l.users.LockForUpdateTx(ctx, tx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if u.Entitled {
			return ErrAlreadyEntitled
		}

		existing, err := l.orders.PendingForUserTx(ctx, tx, userID)
		if err == nil {
			order = existing
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		for i := 0; i < publicIDTries; i++ {
			o := model.Order{
				PublicID: NewPublicID(l.now()),
				UserID:   userID,
				Amount:   l.cfg.Price,
				Method:   m,
			}
			err = l.orders.CreateTx(ctx, tx, &o)
			if errors.Is(err, repository.ErrConflict) {
				continue
			}
			if err != nil {
				return err
			}
			order, created = o, true
			return nil
		}
		return fmt.Errorf("could not allocate a unique order id: %w", err)
	})
	if err != nil {
		return model.Order{}, false, err
	}
	if created {
		l.metrics.OrderCreated(string(order.Method))
		l.log.Info().Str("order_id", order.PublicID).Uint64("user_id", userID).
			Str("method", string(order.Method)).Int64("amount", order.Amount).Msg("order created")
	}
	return order, created, nil
}

// GetOrder returns an order visible to p.  Orders of other users are
// reported as missing unless p is an admin.
func (l *Ledger) GetOrder(ctx context.Context, publicID string, p Principal) (model.Order, error) {
	o, err := l.orders.GetByPublicID(ctx, publicID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	if o.UserID != p.UserID && !p.IsAdmin() {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

// Current returns the user's pending order, else the most recent one (nil
// when the user never ordered), together with the entitlement flag.
func (l *Ledger) Current(ctx context.Context, userID uint64) (*model.Order, bool, error) {
	u, err := l.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	o, err := l.orders.CurrentForUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, u.Entitled, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &o, u.Entitled, nil
}

// Cancel moves the caller's pending order to cancelled.  A gateway invoice
// attached to the order is cancelled as well; failures there are logged and
// do not undo the local cancellation.
func (l *Ledger) Cancel(ctx context.Context, publicID string, userID uint64) (model.Order, error) {
	o, err := l.GetOrder(ctx, publicID, Principal{UserID: userID, Role: model.RoleUser})
	if err != nil {
		return model.Order{}, err
	}
	if o.Status != model.OrderPending {
		return model.Order{}, ErrInvalidState
	}

	err = repository.InTx(ctx, l.orders.DB(), func(tx *sql.Tx) error {
		ok, err := l.orders.CancelTx(ctx, tx, o.ID, userID)
		if err != nil || ok {
			return err
		}
		return ErrInvalidState
	})
	if err != nil {
		return model.Order{}, err
	}
	l.metrics.Decision(string(model.OrderCancelled), "user")
	l.log.Info().Str("order_id", o.PublicID).Uint64("user_id", userID).Msg("order cancelled")

	if o.InvoiceID != nil && l.invoices != nil {
		if err := l.invoices.CancelInvoice(ctx, *o.InvoiceID); err != nil {
			l.log.Warn().Err(err).Str("order_id", o.PublicID).Str("invoice_id", *o.InvoiceID).
				Msg("gateway invoice cancel failed")
		}
	}
	return l.orders.GetByPublicID(ctx, publicID)
}

// AttachInvoice stores the gateway invoice reference of an order.  It
// returns false when the order already had one.
func (l *Ledger) AttachInvoice(ctx context.Context, orderID uint64, invoiceID string) (bool, error) {
	return l.orders.AttachInvoice(ctx, orderID, invoiceID)
}

// Reload re-reads an order by public id.
func (l *Ledger) Reload(ctx context.Context, publicID string) (model.Order, error) {
	o, err := l.orders.GetByPublicID(ctx, publicID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.Order{}, ErrNotFound
	}
	return o, err
}

// List returns orders for the admin view, newest first.
func (l *Ledger) List(ctx context.Context, status *model.OrderStatus, limit, offset int) ([]repository.OrderListItem, error) {
	limit, offset = page(limit, offset)
	return l.orders.List(ctx, status, limit, offset)
}

// Stats aggregates the ledger.
func (l *Ledger) Stats(ctx context.Context) (model.OrderStats, error) {
	return l.orders.Stats(ctx)
}

// Users lists registrants for the admin view.
func (l *Ledger) Users(ctx context.Context, limit, offset int) ([]model.User, error) {
	limit, offset = page(limit, offset)
	return l.users.List(ctx, limit, offset)
}

func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// NewPublicID returns an order reference such as ORD-20260102-9F1C2B7A.
// It doubles as the bank transfer reference, so it avoids lower case.
func NewPublicID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:8]
	return "ORD-" + now.UTC().Format("20060102") + "-" + suffix
}
