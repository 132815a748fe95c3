package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bundle-store/internal/gateway"
	"github.com/iliyamo/bundle-store/internal/model"
)

func TestApproveIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	o := f.pendingOrder(t, u.ID)
	notes := "transfer seen"

	first, changed, err := f.verifier.Approve(ctx, o.PublicID, 7, &notes)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.OrderPaid, first.Status)
	require.NotNil(t, first.DecidedBy)
	assert.Equal(t, uint64(7), *first.DecidedBy)

	second, changed, err := f.verifier.Approve(ctx, o.PublicID, 8, nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.OrderPaid, second.Status)
	assert.Equal(t, uint64(7), *second.DecidedBy)
	assert.True(t, first.DecidedAt.Equal(*second.DecidedAt))
	assert.Equal(t, "transfer seen", *second.Notes)

	usr := f.reloadUser(t, u.ID)
	assert.True(t, usr.Entitled)
	assert.NotNil(t, usr.EntitledAt)
	assert.Equal(t, 1, f.events.count())
}

func TestConcurrentApproveChangesOnce(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "a@x.com")
	o := f.pendingOrder(t, u.ID)

	var changes int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(admin uint64) {
			defer wg.Done()
			got, changed, err := f.verifier.Approve(context.Background(), o.PublicID, admin, nil)
			if assert.NoError(t, err) {
				assert.Equal(t, model.OrderPaid, got.Status)
			}
			if changed {
				atomic.AddInt32(&changes, 1)
			}
		}(uint64(i + 1))
	}
	wg.Wait()
	assert.Equal(t, int32(1), changes)
	assert.Equal(t, 1, f.events.count())
}

func TestApproveUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.verifier.Approve(context.Background(), "ORD-missing", 1, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	o := f.pendingOrder(t, u.ID)
	reason := "no transfer found"

	got, changed, err := f.verifier.Reject(ctx, o.PublicID, 3, &reason)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.OrderRejected, got.Status)
	assert.False(t, f.reloadUser(t, u.ID).Entitled)

	_, changed, err = f.verifier.Reject(ctx, o.PublicID, 3, nil)
	require.NoError(t, err)
	assert.False(t, changed)

	// Approving a rejected order is an idempotent no-op.
	got, changed, err = f.verifier.Approve(ctx, o.PublicID, 3, nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, model.OrderRejected, got.Status)
	assert.False(t, f.reloadUser(t, u.ID).Entitled)

	paidUser := f.user(t, "b@x.com")
	paid := f.pendingOrder(t, paidUser.ID)
	_, _, err = f.verifier.Approve(ctx, paid.PublicID, 3, nil)
	require.NoError(t, err)
	_, _, err = f.verifier.Reject(ctx, paid.PublicID, 3, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, model.OrderPaid, f.reloadOrder(t, paid.PublicID).Status)
}

func TestCallbackPaysAndEntitlesTogether(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	o := f.pendingOrder(t, u.ID)

	res, err := f.verifier.HandleCallback(ctx, paidCallback(o.PublicID, testPrice, "P1"))
	require.NoError(t, err)
	assert.Equal(t, CallbackPaid, res)

	got := f.reloadOrder(t, o.PublicID)
	assert.Equal(t, model.OrderPaid, got.Status)
	require.NotNil(t, got.PaymentID)
	assert.Equal(t, "P1", *got.PaymentID)
	assert.Nil(t, got.DecidedBy)

	usr := f.reloadUser(t, u.ID)
	assert.True(t, usr.Entitled)
	require.NotNil(t, usr.EntitledAt)
	assert.True(t, time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC).Equal(*usr.EntitledAt))

	res, err = f.verifier.HandleCallback(ctx, paidCallback(o.PublicID, testPrice, "P1"))
	require.NoError(t, err)
	assert.Equal(t, CallbackDuplicate, res)
	assert.Equal(t, 1, f.events.count())
	assert.Equal(t, "a@x.com", f.events.events[0].LoginKey)
	assert.Equal(t, SourceGateway, f.events.events[0].Source)
}

func TestCallbackAmountMismatchLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	o := f.pendingOrder(t, u.ID)

	for _, status := range []string{gateway.StatusPaid, "FAILED"} {
		cb := paidCallback(o.PublicID, testPrice-1, "P1")
		cb.PaymentStatus = status
		_, err := f.verifier.HandleCallback(ctx, cb)
		if status == gateway.StatusPaid {
			assert.ErrorIs(t, err, ErrAmountMismatch)
		} else {
			assert.NoError(t, err)
		}
		assert.Equal(t, model.OrderPending, f.reloadOrder(t, o.PublicID).Status)
		assert.False(t, f.reloadUser(t, u.ID).Entitled)
	}
}

func TestCallbackEdgeCases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	o := f.pendingOrder(t, u.ID)

	cb := paidCallback(o.PublicID, testPrice, "P1")
	cb.PaymentStatus = "NEW"
	res, err := f.verifier.HandleCallback(ctx, cb)
	require.NoError(t, err)
	assert.Equal(t, CallbackIgnored, res)

	cb = paidCallback(o.PublicID, testPrice, "")
	_, err = f.verifier.HandleCallback(ctx, cb)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.verifier.HandleCallback(ctx, paidCallback("ORD-missing", testPrice, "P1"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.ledger.Cancel(ctx, o.PublicID, u.ID)
	require.NoError(t, err)
	_, err = f.verifier.HandleCallback(ctx, paidCallback(o.PublicID, testPrice, "P1"))
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.False(t, f.reloadUser(t, u.ID).Entitled)
}

func TestReconcileAppliesGatewayPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	o := f.pendingOrder(t, u.ID)
	_, err := f.ledger.AttachInvoice(ctx, o.ID, "INV-1")
	require.NoError(t, err)
	o = f.reloadOrder(t, o.PublicID)

	got, err := f.verifier.Reconcile(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, got.Status)

	f.gateway.check = gateway.PaymentCheck{Count: 1, Rows: []gateway.Payment{{
		PaymentID: "P9", Status: gateway.StatusPaid, Amount: gateway.NewAmount(testPrice), Date: "2026-03-04 05:06:07",
	}}}
	got, err = f.verifier.Reconcile(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, got.Status)
	assert.Equal(t, "P9", *got.PaymentID)
	assert.True(t, f.reloadUser(t, u.ID).Entitled)
	assert.Equal(t, SourceReconcile, f.events.events[0].Source)
}

func TestReconcileIgnoresMismatchedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "a@x.com")
	o := f.pendingOrder(t, u.ID)
	_, err := f.ledger.AttachInvoice(ctx, o.ID, "INV-1")
	require.NoError(t, err)
	o = f.reloadOrder(t, o.PublicID)

	f.gateway.check = gateway.PaymentCheck{Count: 1, Rows: []gateway.Payment{{
		PaymentID: "P9", Status: gateway.StatusPaid, Amount: gateway.NewAmount(1), Date: "2026-03-04 05:06:07",
	}}}
	got, err := f.verifier.Reconcile(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, got.Status)
}
