package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/bundle-store/internal/model"
)

// OrderRepo provides persistence for the orders table.  Status changes
// are written as conditional updates ("... WHERE status='pending'") so
// that the affected row count tells the caller whether it won a race
// against a concurrent decision on the same order.  All timestamps are
// stored in UTC.
type OrderRepo struct {
	db *sql.DB
}

// NewOrderRepo returns a new OrderRepo bound to the given database.
func NewOrderRepo(db *sql.DB) *OrderRepo { return &OrderRepo{db: db} }

// DB exposes the underlying handle so services can open transactions.
func (r *OrderRepo) DB() *sql.DB { return r.db }

const orderColumns = "id, public_id, user_id, amount, method, status, invoice_id, payment_id, created_at, updated_at, decided_at, decided_by, notes"

// Decision carries the metadata written when an order leaves pending.
type Decision struct {
	At        time.Time
	By        *uint64
	Notes     *string
	PaymentID *string
}

// OrderListItem is an order joined with its owner's login key for the
// admin listing.
type OrderListItem struct {
	model.Order
	LoginKey string `json:"login_key"`
}

// CreateTx inserts a new pending order within the scope of an existing
// transaction and populates the generated ID and timestamps on o.  A
// public id collision is reported as ErrConflict so the caller can retry
// with a fresh id.
func (r *OrderRepo) CreateTx(ctx context.Context, tx *sql.Tx, o *model.Order) error {
	now := time.Now().UTC()
	const q = `INSERT INTO orders (public_id, user_id, amount, method, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, o.PublicID, o.UserID, o.Amount, string(o.Method), string(model.OrderPending), now, now)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = uint64(id)
	o.Status = model.OrderPending
	o.CreatedAt = now
	o.UpdatedAt = now
	return nil
}

// PendingForUserTx returns the user's pending order, or ErrNotFound.
func (r *OrderRepo) PendingForUserTx(ctx context.Context, tx *sql.Tx, userID uint64) (model.Order, error) {
	return scanOrder(tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = ? AND status = ? ORDER BY id DESC LIMIT 1",
		userID, string(model.OrderPending)))
}

// GetByPublicID loads an order by its external identifier.
func (r *OrderRepo) GetByPublicID(ctx context.Context, publicID string) (model.Order, error) {
	return getOrderByPublicID(ctx, r.db, publicID)
}

// GetByPublicIDTx is GetByPublicID inside a transaction.
func (r *OrderRepo) GetByPublicIDTx(ctx context.Context, tx *sql.Tx, publicID string) (model.Order, error) {
	return getOrderByPublicID(ctx, tx, publicID)
}

// CurrentForUser returns the user's pending order if there is one,
// otherwise the most recently created order.
func (r *OrderRepo) CurrentForUser(ctx context.Context, userID uint64) (model.Order, error) {
	return scanOrder(r.db.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = ? ORDER BY CASE WHEN status = ? THEN 0 ELSE 1 END, id DESC LIMIT 1",
		userID, string(model.OrderPending)))
}

// MarkPaidTx moves a pending order to paid.  It returns false when the
// order was no longer pending.
func (r *OrderRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, id uint64, d Decision) (bool, error) {
	const q = `UPDATE orders SET status = ?, decided_at = ?, decided_by = ?, notes = ?, payment_id = ?, updated_at = ? WHERE id = ? AND status = ?`
	return affectedOne(tx.ExecContext(ctx, q, string(model.OrderPaid), d.At.UTC(), nullUint(d.By),
		nullString(d.Notes), nullString(d.PaymentID), time.Now().UTC(), id, string(model.OrderPending)))
}

// MarkRejectedTx moves a pending order to rejected.
func (r *OrderRepo) MarkRejectedTx(ctx context.Context, tx *sql.Tx, id uint64, d Decision) (bool, error) {
	const q = `UPDATE orders SET status = ?, decided_at = ?, decided_by = ?, notes = ?, updated_at = ? WHERE id = ? AND status = ?`
	return affectedOne(tx.ExecContext(ctx, q, string(model.OrderRejected), d.At.UTC(), nullUint(d.By),
		nullString(d.Notes), time.Now().UTC(), id, string(model.OrderPending)))
}

// CancelTx moves a pending order owned by userID to cancelled.
func (r *OrderRepo) CancelTx(ctx context.Context, tx *sql.Tx, id, userID uint64) (bool, error) {
	now := time.Now().UTC()
	const q = `UPDATE orders SET status = ?, decided_at = ?, updated_at = ? WHERE id = ? AND user_id = ? AND status = ?`
	return affectedOne(tx.ExecContext(ctx, q, string(model.OrderCancelled), now, now, id, userID, string(model.OrderPending)))
}

// AttachInvoice records the gateway invoice reference of an order.  An
// existing reference is never overwritten; false is returned in that case.
func (r *OrderRepo) AttachInvoice(ctx context.Context, id uint64, invoiceID string) (bool, error) {
	const q = `UPDATE orders SET invoice_id = ?, updated_at = ? WHERE id = ? AND invoice_id IS NULL`
	return affectedOne(r.db.ExecContext(ctx, q, invoiceID, time.Now().UTC(), id))
}

// List returns orders newest first, optionally filtered by status.
func (r *OrderRepo) List(ctx context.Context, status *model.OrderStatus, limit, offset int) ([]OrderListItem, error) {
	query := `SELECT o.id, o.public_id, o.user_id, o.amount, o.method, o.status, o.invoice_id, o.payment_id,
        o.created_at, o.updated_at, o.decided_at, o.decided_by, o.notes, u.login_key
        FROM orders o JOIN users u ON u.id = o.user_id`
	args := make([]any, 0, 3)
	if status != nil {
		query += ` WHERE o.status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY o.created_at DESC, o.id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []OrderListItem{}
	for rows.Next() {
		var (
			it   OrderListItem
			cols orderNulls
		)
		if err := rows.Scan(append(cols.dest(&it.Order), &it.LoginKey)...); err != nil {
			return nil, err
		}
		cols.apply(&it.Order)
		items = append(items, it)
	}
	return items, rows.Err()
}

// Stats aggregates order counts, revenue and the number of entitled users.
func (r *OrderRepo) Stats(ctx context.Context) (model.OrderStats, error) {
	var s model.OrderStats
	const q = `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = 'paid' THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = 'paid' THEN amount ELSE 0 END), 0)
        FROM orders`
	err := r.db.QueryRowContext(ctx, q).Scan(&s.TotalOrders, &s.PendingOrders, &s.PaidOrders,
		&s.RejectedOrders, &s.CancelledOrders, &s.TotalRevenue)
	if err != nil {
		return s, err
	}
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE entitled = ?`, true).Scan(&s.EntitledUsers)
	return s, err
}

func getOrderByPublicID(ctx context.Context, q querier, publicID string) (model.Order, error) {
	return scanOrder(q.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE public_id = ? LIMIT 1", publicID))
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// orderNulls holds the nullable columns of an orders row while scanning.
type orderNulls struct {
	method    string
	status    string
	invoiceID sql.NullString
	paymentID sql.NullString
	decidedAt sql.NullTime
	decidedBy sql.NullInt64
	notes     sql.NullString
}

func (n *orderNulls) dest(o *model.Order) []any {
	return []any{&o.ID, &o.PublicID, &o.UserID, &o.Amount, &n.method, &n.status,
		&n.invoiceID, &n.paymentID, &o.CreatedAt, &o.UpdatedAt, &n.decidedAt, &n.decidedBy, &n.notes}
}

func (n *orderNulls) apply(o *model.Order) {
	o.Method = model.PaymentMethod(n.method)
	o.Status = model.OrderStatus(n.status)
	o.InvoiceID = stringPtr(n.invoiceID)
	o.PaymentID = stringPtr(n.paymentID)
	o.DecidedAt = timePtr(n.decidedAt)
	if n.decidedBy.Valid {
		by := uint64(n.decidedBy.Int64)
		o.DecidedBy = &by
	}
	o.Notes = stringPtr(n.notes)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
}

func scanOrder(row rowScanner) (model.Order, error) {
	var (
		o    model.Order
		cols orderNulls
	)
	if err := row.Scan(cols.dest(&o)...); err != nil {
		return model.Order{}, notFound(err)
	}
	cols.apply(&o)
	return o, nil
}
