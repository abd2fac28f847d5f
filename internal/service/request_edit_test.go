package service

import (
	"context"
	"errors"
	"testing"

	"procurement/internal/model"
	"procurement/internal/repository"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestUpdateRequest_PartialEdit(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	pr := e.createRequest(t, staff)

	updated, err := e.approval.UpdateRequest(ctx, pr.ID, staff, UpdatePurchaseRequestDTO{
		Title:    strPtr("Office peripherals (revised)"),
		Currency: strPtr(" eur "),
	})
	require.NoError(t, err)
	assert.Equal(t, "Office peripherals (revised)", updated.Title)
	assert.Equal(t, "EUR", updated.Currency)
	assert.Equal(t, "250.00", updated.Amount)
	assert.Len(t, updated.Items, 2)
	assert.Equal(t, model.StatusPending, updated.Status)

	items := []RequestItemDTO{{Description: "Monitor", Quantity: 1, UnitPrice: "300.00"}}
	updated, err = e.approval.UpdateRequest(ctx, pr.ID, staff, UpdatePurchaseRequestDTO{
		Amount: strPtr("300"),
		Items:  &items,
	})
	require.NoError(t, err)
	assert.Equal(t, "300.00", updated.Amount)

	got, err := e.approval.GetRequest(ctx, staff, pr.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Monitor", got.Items[0].Description)
	assert.Equal(t, "300.00", got.Items[0].TotalPrice)
	assert.Equal(t, "Office peripherals (revised)", got.Title)

	assert.Contains(t, e.auditActions(t), model.ActionUpdateRequest)
	assert.Contains(t, e.events.types(), model.EventRequestUpdated)
}

func TestUpdateRequest_ReplaceWithFullPayload(t *testing.T) {
	e := newEngine(t)
	pr := e.createRequest(t, staff)

	full := CreatePurchaseRequestDTO{Title: "Chairs", Amount: "90.00"}
	updated, err := e.approval.UpdateRequest(context.Background(), pr.ID, staff, full.AsUpdate())
	require.NoError(t, err)

	assert.Equal(t, "Chairs", updated.Title)
	assert.Equal(t, "USD", updated.Currency)
	assert.Empty(t, updated.VendorName)
	assert.Empty(t, updated.Items)
}

func TestUpdateRequest_OnlyWhilePending(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	approved := e.approvedRequest(t, staff)
	_, err := e.approval.UpdateRequest(ctx, approved.ID, staff, UpdatePurchaseRequestDTO{Title: strPtr("late edit")})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = e.approval.UpdateRequest(ctx, approved.ID, admin, UpdatePurchaseRequestDTO{Amount: strPtr("1.00")})
	assert.ErrorIs(t, err, ErrConflict)

	rejected := e.createRequest(t, staff)
	_, err = e.approval.Reject(ctx, rejected.ID, approver, 1, "no")
	require.NoError(t, err)
	_, err = e.approval.UpdateRequest(ctx, rejected.ID, staff, UpdatePurchaseRequestDTO{Title: strPtr("retry")})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := e.approval.GetRequest(ctx, staff, approved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Office peripherals", got.Title)
	assert.Equal(t, "250.00", got.Amount)
}

func TestUpdateRequest_Ownership(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	pr := e.createRequest(t, staff)
	edit := UpdatePurchaseRequestDTO{Title: strPtr("mine now")}

	stranger := model.Actor{ID: uuid.New(), Role: model.RoleStaff}
	_, err := e.approval.UpdateRequest(ctx, pr.ID, stranger, edit)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.approval.UpdateRequest(ctx, pr.ID, approver, edit)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = e.approval.UpdateRequest(ctx, pr.ID, admin, edit)
	assert.NoError(t, err)
}

func TestUpdateRequest_ValidatesBeforeStorage(t *testing.T) {
	gate, err := NewCasbinGate(DefaultLevelGrants())
	require.NoError(t, err)
	ledger := untouchedLedger{t: t}
	svc := NewApprovalService(ledger, nil, untouchedTx{t: t}, gate, NewPurchaseOrderIssuer(ledger), nil)
	id := uuid.NewString()

	negative := []RequestItemDTO{{Description: "x", Quantity: -1, UnitPrice: "1"}}
	cases := map[string]UpdatePurchaseRequestDTO{
		"blank title":       {Title: strPtr("  ")},
		"bad amount":        {Amount: strPtr("lots")},
		"negative amount":   {Amount: strPtr("-5")},
		"negative quantity": {Items: &negative},
	}
	for name, edit := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.UpdateRequest(context.Background(), id, staff, edit)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	_, err = svc.UpdateRequest(context.Background(), "nope", staff, UpdatePurchaseRequestDTO{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAttachProforma(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	pr := e.createRequest(t, staff)

	_, _, err := e.approval.AttachProforma(ctx, pr.ID, staff, "")
	assert.ErrorIs(t, err, ErrValidation)

	resp, replaced, err := e.approval.AttachProforma(ctx, pr.ID, staff, "proformas/a_quote.pdf")
	require.NoError(t, err)
	assert.Empty(t, replaced)
	assert.Equal(t, "proformas/a_quote.pdf", resp.Proforma)

	resp, replaced, err = e.approval.AttachProforma(ctx, pr.ID, staff, "proformas/b_quote.pdf")
	require.NoError(t, err)
	assert.Equal(t, "proformas/a_quote.pdf", replaced)
	assert.Equal(t, "proformas/b_quote.pdf", resp.Proforma)

	// the proforma survives later field edits
	_, err = e.approval.UpdateRequest(ctx, pr.ID, staff, UpdatePurchaseRequestDTO{Title: strPtr("renamed")})
	require.NoError(t, err)
	got, err := e.approval.GetRequest(ctx, staff, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, "proformas/b_quote.pdf", got.Proforma)

	_, err = e.approval.Approve(ctx, pr.ID, manager, 2, "")
	require.NoError(t, err)
	_, _, err = e.approval.AttachProforma(ctx, pr.ID, staff, "proformas/c_quote.pdf")
	assert.ErrorIs(t, err, ErrConflict)

	assert.Contains(t, e.auditActions(t), model.ActionAttachProforma)
}

func TestDeleteRequest_RemovesDependentRecords(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	pending := e.createRequest(t, staff)
	_, _, err := e.approval.AttachProforma(ctx, pending.ID, staff, "proformas/x_quote.pdf")
	require.NoError(t, err)
	_, err = e.approval.Approve(ctx, pending.ID, manager, 2, "ok")
	require.NoError(t, err)
	pr := pending

	po, err := e.ledger.FindPurchaseOrderByRequest(ctx, uuid.MustParse(pr.ID))
	require.NoError(t, err)
	require.NoError(t, e.ledger.SetPurchaseOrderDocument(ctx, po.ID, "purchase_orders/y_po.txt"))
	receipt, err := e.receipts.SubmitReceipt(ctx, pr.ID, staff, "receipts/z_receipt.pdf", "")
	require.NoError(t, err)

	files, err := e.approval.DeleteRequest(ctx, pr.ID, admin)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"proformas/x_quote.pdf", "purchase_orders/y_po.txt", "receipts/z_receipt.pdf"}, files)

	id := uuid.MustParse(pr.ID)
	_, err = e.ledger.FindRequest(ctx, id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	approvals, err := e.ledger.ListApprovals(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, approvals)
	_, err = e.ledger.FindPurchaseOrder(ctx, po.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = e.receipts.FindReceipt(ctx, receipt.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.approval.GetRequest(ctx, admin, pr.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, e.auditActions(t), model.ActionDeleteRequest)
	assert.Contains(t, e.events.types(), model.EventRequestDeleted)
}

func TestDeleteRequest_OwnerWithdrawsPendingOnly(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	approved := e.approvedRequest(t, staff)
	_, err := e.approval.DeleteRequest(ctx, approved.ID, staff)
	assert.ErrorIs(t, err, ErrConflict)

	pending := e.createRequest(t, staff)
	stranger := model.Actor{ID: uuid.New(), Role: model.RoleStaff}
	_, err = e.approval.DeleteRequest(ctx, pending.ID, stranger)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = e.approval.DeleteRequest(ctx, pending.ID, manager)
	assert.ErrorIs(t, err, ErrForbidden)

	files, err := e.approval.DeleteRequest(ctx, pending.ID, staff)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = e.approval.DeleteRequest(ctx, pending.ID, staff)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.approval.Approve(ctx, pending.ID, manager, 2, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

// brokenOrders fails purchase order lookups with a storage error.
type brokenOrders struct {
	repository.LedgerStore
}

func (brokenOrders) FindPurchaseOrderByRequest(context.Context, uuid.UUID) (*model.PurchaseOrder, error) {
	return nil, errors.New("connection reset")
}

func TestGetRequest_ReportsPurchaseOrderLookupFailure(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	approved := e.approvedRequest(t, staff)
	pending := e.createRequest(t, staff)

	gate, err := NewCasbinGate(DefaultLevelGrants())
	require.NoError(t, err)
	ledger := brokenOrders{e.ledger}
	svc := NewApprovalService(ledger, e.ledger, e.ledger, gate, NewPurchaseOrderIssuer(ledger), nil)

	_, err = svc.GetRequest(ctx, staff, approved.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.False(t, errors.Is(err, ErrNotFound))

	// no purchase order is looked up before approval
	got, err := svc.GetRequest(ctx, staff, pending.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PONumber)
}

func TestDecisionLevelDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, ApproveRequestDTO{}.DecisionLevel())
	assert.Equal(t, 1, RejectRequestDTO{Reason: "dup"}.DecisionLevel())

	two, zero := 2, 0
	assert.Equal(t, 2, ApproveRequestDTO{Level: &two}.DecisionLevel())
	assert.Equal(t, 0, RejectRequestDTO{Level: &zero}.DecisionLevel())
}
