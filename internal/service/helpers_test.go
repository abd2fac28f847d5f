package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"procurement/internal/model"
	"procurement/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
}

func (p *recordingPublisher) Publish(e model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (d *recordingDispatcher) Dispatch(_ context.Context, id uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
	return nil
}

type engine struct {
	ledger   *repository.MemoryLedger
	approval ApprovalService
	receipts ReceiptService
	events   *recordingPublisher
	dispatch *recordingDispatcher
}

func newEngine(t *testing.T) *engine {
	t.Helper()

	ledger := repository.NewMemoryLedger(2 * time.Second)
	gate, err := NewCasbinGate(DefaultLevelGrants())
	require.NoError(t, err)

	events := &recordingPublisher{}
	dispatch := &recordingDispatcher{}
	return &engine{
		ledger:   ledger,
		approval: NewApprovalService(ledger, ledger, ledger, gate, NewPurchaseOrderIssuer(ledger), events),
		receipts: NewReceiptService(ledger, ledger, ledger, dispatch, events),
		events:   events,
		dispatch: dispatch,
	}
}

var (
	staff    = model.Actor{ID: uuid.New(), Role: model.RoleStaff}
	approver = model.Actor{ID: uuid.New(), Role: model.RoleApproverL1}
	manager  = model.Actor{ID: uuid.New(), Role: model.RoleApproverL2}
	admin    = model.Actor{ID: uuid.New(), Role: model.RoleAdmin}
)

// peripheralsRequest totals 250.00: 2 x 25.00 + 2 x 100.00.
func peripheralsRequest() CreatePurchaseRequestDTO {
	return CreatePurchaseRequestDTO{
		Title:      "Office peripherals",
		Amount:     "250.00",
		VendorName: "Acme Supplies",
		Items: []RequestItemDTO{
			{Description: "Mouse", Quantity: 2, UnitPrice: "25.00"},
			{Description: "Keyboard", Quantity: 2, UnitPrice: "100.00"},
		},
	}
}

func (e *engine) createRequest(t *testing.T, owner model.Actor) PurchaseRequestResponse {
	t.Helper()
	pr, err := e.approval.CreateRequest(context.Background(), owner, peripheralsRequest())
	require.NoError(t, err)
	return pr
}

func (e *engine) approvedRequest(t *testing.T, owner model.Actor) PurchaseRequestResponse {
	t.Helper()
	pr := e.createRequest(t, owner)
	approved, err := e.approval.Approve(context.Background(), pr.ID, manager, 2, "ok")
	require.NoError(t, err)
	return approved
}

func (e *engine) auditActions(t *testing.T) []string {
	t.Helper()
	logs, _, err := e.ledger.List(context.Background(), 1, 1000)
	require.NoError(t, err)
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Action)
	}
	return out
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}
