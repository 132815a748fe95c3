package service

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/bundle-store/internal/gateway"
	"github.com/iliyamo/bundle-store/internal/metrics"
	"github.com/iliyamo/bundle-store/internal/model"
	"github.com/iliyamo/bundle-store/internal/queue"
	"github.com/iliyamo/bundle-store/internal/repository"
	"github.com/iliyamo/bundle-store/internal/testutil"
)

const testPrice = 50000

type fixture struct {
	users    *repository.UserRepo
	orders   *repository.OrderRepo
	sessions *Sessions
	ledger   *Ledger
	verifier *Verifier
	events   *recordingPublisher
	gateway  *fakeGateway
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	f := &fixture{
		users:   repository.NewUserRepo(db),
		orders:  repository.NewOrderRepo(db),
		events:  &recordingPublisher{},
		gateway: &fakeGateway{},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	log := zerolog.Nop()
	f.sessions = NewSessions(f.users, SessionConfig{Secret: "test-secret", TTLDays: 30, BcryptCost: bcrypt.MinCost}, log)
	f.ledger = NewLedger(f.users, f.orders, LedgerConfig{
		Price:   testPrice,
		Methods: []model.PaymentMethod{model.MethodGateway, model.MethodBankTransfer},
	}, f.gateway, f.metrics, log)
	f.verifier = NewVerifier(f.users, f.orders, VerifierDeps{
		Events: f.events, Checker: f.gateway, Metrics: f.metrics, Currency: "MNT",
	}, log)
	return f
}

func (f *fixture) user(t *testing.T, key string) model.User {
	t.Helper()
	id, err := f.users.Create(context.Background(), repository.NewUser{LoginKey: key, PasswordHash: "x", Role: model.RoleUser})
	require.NoError(t, err)
	u, err := f.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) pendingOrder(t *testing.T, userID uint64) model.Order {
	t.Helper()
	o, _, err := f.ledger.CreateOrRetrievePending(context.Background(), userID, "")
	require.NoError(t, err)
	return o
}

func (f *fixture) reloadUser(t *testing.T, id uint64) model.User {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) reloadOrder(t *testing.T, publicID string) model.Order {
	t.Helper()
	o, err := f.orders.GetByPublicID(context.Background(), publicID)
	require.NoError(t, err)
	return o
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.OrderPaidEvent
}

func (p *recordingPublisher) PublishOrderPaid(_ context.Context, ev queue.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fakeGateway struct {
	mu        sync.Mutex
	created   int
	cancelled []string
	check     gateway.PaymentCheck
	checkErr  error
}

func (g *fakeGateway) CreateInvoice(_ context.Context, req gateway.InvoiceRequest) (gateway.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created++
	return gateway.Invoice{InvoiceID: "INV-" + req.SenderInvoiceNo, QRText: "qr"}, nil
}

func (g *fakeGateway) GetInvoice(_ context.Context, id string) (gateway.Invoice, error) {
	return gateway.Invoice{InvoiceID: id, QRText: "qr"}, nil
}

func (g *fakeGateway) CheckPayment(_ context.Context, _ string) (gateway.PaymentCheck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.check, g.checkErr
}

func (g *fakeGateway) CancelInvoice(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
	return nil
}

func paidCallback(orderID string, amount int64, paymentID string) gateway.Callback {
	return gateway.Callback{
		ObjectID:        "INV-" + orderID,
		ObjectType:      "INVOICE",
		PaymentStatus:   gateway.StatusPaid,
		PaymentAmount:   gateway.NewAmount(amount),
		SenderInvoiceNo: orderID,
		PaymentID:       paymentID,
		PaymentDate:     "2026-03-04T05:06:07Z",
	}
}
