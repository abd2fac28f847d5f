package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"procurement/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newPending(t *testing.T, m *MemoryLedger) *model.PurchaseRequest {
	t.Helper()
	return newPendingBy(t, m, uuid.New())
}

func newPendingBy(t *testing.T, m *MemoryLedger, owner uuid.UUID) *model.PurchaseRequest {
	t.Helper()
	req := &model.PurchaseRequest{
		Title:     "Toner",
		Amount:    decimal.RequireFromString("80.00"),
		Currency:  "USD",
		CreatedBy: owner,
		Items: []model.RequestItem{
			{Description: "Black toner", Quantity: 2, UnitPrice: decimal.RequireFromString("40.00")},
		},
	}
	require.NoError(t, m.CreateRequest(context.Background(), req))
	return req
}

func TestMemoryLedger_RollbackDiscardsStagedWrites(t *testing.T) {
	m := NewMemoryLedger(time.Second)
	ctx := context.Background()
	req := newPending(t, m)
	boom := errors.New("boom")

	err := m.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := m.LockAndLoad(txCtx, req.ID)
		if err != nil {
			return err
		}
		locked.Status = model.StatusApproved
		approval := &model.Approval{PurchaseRequestID: req.ID, ApproverID: uuid.New(), Level: 2, Action: model.ApprovalActionApproved}
		po := &model.PurchaseOrder{
			PurchaseRequestID: req.ID,
			PONumber:          "PO-20250101-00001",
			TotalAmount:       locked.Amount,
			Items:             datatypes.NewJSONType([]model.PurchaseOrderItem{}),
		}
		if err := m.Commit(txCtx, locked, approval, po); err != nil {
			return err
		}
		if err := m.Log(txCtx, &model.AuditLog{Action: model.ActionApproveRequest}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := m.FindRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)

	approvals, err := m.ListApprovals(ctx, req.ID)
	require.NoError(t, err)
	assert.Empty(t, approvals)

	_, err = m.FindPurchaseOrderByRequest(ctx, req.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, total, err := m.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestMemoryLedger_CommitAppliesAtomically(t *testing.T) {
	m := NewMemoryLedger(time.Second)
	ctx := context.Background()
	req := newPending(t, m)
	other := newPending(t, m)

	issue := func(target *model.PurchaseRequest, number string) error {
		return m.RunInTx(ctx, func(txCtx context.Context) error {
			locked, err := m.LockAndLoad(txCtx, target.ID)
			if err != nil {
				return err
			}
			locked.Status = model.StatusApproved
			return m.Commit(txCtx, locked, &model.Approval{PurchaseRequestID: target.ID, Level: 2}, &model.PurchaseOrder{
				PurchaseRequestID: target.ID,
				PONumber:          number,
			})
		})
	}

	require.NoError(t, issue(req, "PO-20250101-00001"))

	// same number on another request fails as a whole
	err := issue(other, "PO-20250101-00001")
	assert.ErrorIs(t, err, ErrDuplicate)

	got, err := m.FindRequest(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	approvals, err := m.ListApprovals(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, approvals)
}

func TestMemoryLedger_LockTimeout(t *testing.T) {
	m := NewMemoryLedger(30 * time.Millisecond)
	ctx := context.Background()
	req := newPending(t, m)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.RunInTx(ctx, func(txCtx context.Context) error {
			if _, err := m.LockAndLoad(txCtx, req.ID); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	err := m.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := m.LockAndLoad(txCtx, req.ID)
		return err
	})
	assert.ErrorIs(t, err, ErrLockTimeout)

	// other requests are not blocked
	unrelated := newPending(t, m)
	err = m.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := m.LockAndLoad(txCtx, unrelated.ID)
		return err
	})
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)

	err = m.RunInTx(ctx, func(txCtx context.Context) error {
		_, err := m.LockAndLoad(txCtx, req.ID)
		return err
	})
	assert.NoError(t, err)
}

func TestMemoryLedger_LockRequiresTransaction(t *testing.T) {
	m := NewMemoryLedger(time.Second)
	req := newPending(t, m)

	_, err := m.LockAndLoad(context.Background(), req.ID)
	assert.ErrorIs(t, err, ErrNoTransaction)

	err = m.RunInTx(context.Background(), func(txCtx context.Context) error {
		return m.Commit(txCtx, req, nil, nil)
	})
	assert.Error(t, err)
}

func TestMemoryLedger_ReadsReturnCopies(t *testing.T) {
	m := NewMemoryLedger(time.Second)
	ctx := context.Background()
	req := newPending(t, m)

	got, err := m.FindRequest(ctx, req.ID)
	require.NoError(t, err)
	got.Items[0].Description = "changed"
	got.Status = model.StatusRejected

	again, err := m.FindRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Black toner", again.Items[0].Description)
	assert.Equal(t, model.StatusPending, again.Status)
}

func TestMemoryLedger_ListRequestsFiltersAndPages(t *testing.T) {
	m := NewMemoryLedger(time.Second)
	ctx := context.Background()
	owner := uuid.New()
	for i := 0; i < 3; i++ {
		newPendingBy(t, m, owner)
	}
	newPending(t, m)
	newPending(t, m)

	all, total, err := m.ListRequests(ctx, RequestFilter{Page: 1, Limit: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, all, 5)

	mine, total, err := m.ListRequests(ctx, RequestFilter{CreatedBy: &owner, Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, mine, 2)

	mine, _, err = m.ListRequests(ctx, RequestFilter{CreatedBy: &owner, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	none, total, err := m.ListRequests(ctx, RequestFilter{Status: model.StatusApproved, Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, none)
}

func TestMemoryLedger_NextPONumber(t *testing.T) {
	m := NewMemoryLedger(time.Second)
	ctx := context.Background()

	var got []int64
	for _, prefix := range []string{"PO-20250101-", "PO-20250101-", "PO-20250102-"} {
		err := m.RunInTx(ctx, func(txCtx context.Context) error {
			n, err := m.NextPONumber(txCtx, prefix)
			got = append(got, n)
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []int64{1, 2, 1}, got)

	_, err := m.NextPONumber(ctx, "PO-20250101-")
	assert.ErrorIs(t, err, ErrNoTransaction)
}

func TestMemoryLedger_AuditNewestFirst(t *testing.T) {
	m := NewMemoryLedger(time.Second)
	ctx := context.Background()
	for _, action := range []string{"A", "B", "C"} {
		require.NoError(t, m.Log(ctx, &model.AuditLog{Action: action}))
	}

	page1, total, err := m.List(ctx, 1, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page1, 2)
	assert.Equal(t, "C", page1[0].Action)
	assert.Equal(t, "B", page1[1].Action)

	page2, _, err := m.List(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, "A", page2[0].Action)
}

func TestMemoryLedger_UpdateRequestReplacesItems(t *testing.T) {
	m := NewMemoryLedger(time.Second)
	ctx := context.Background()
	req := newPending(t, m)

	err := m.UpdateRequest(ctx, req)
	assert.ErrorIs(t, err, ErrNoTransaction)

	err = m.RunInTx(ctx, func(txCtx context.Context) error {
		return m.UpdateRequest(txCtx, req)
	})
	assert.Error(t, err, "update without the row lock")

	err = m.RunInTx(ctx, func(txCtx context.Context) error {
		locked, err := m.LockAndLoad(txCtx, req.ID)
		if err != nil {
			return err
		}
		locked.Title = "Colour toner"
		locked.Status = model.StatusApproved // ignored, status only moves through Commit
		locked.ProformaRef = "proformas/q.pdf"
		locked.Items = []model.RequestItem{
			{Description: "Cyan", Quantity: 1, UnitPrice: decimal.RequireFromString("30.00")},
			{Description: "Magenta", Quantity: 1, UnitPrice: decimal.RequireFromString("30.00")},
		}
		return m.UpdateRequest(txCtx, locked)
	})
	require.NoError(t, err)

	got, err := m.FindRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, "Colour toner", got.Title)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, "proformas/q.pdf", got.ProformaRef)
	require.Len(t, got.Items, 2)
	assert.Equal(t, 1, got.Items[1].Position)
	assert.Equal(t, req.ID, got.Items[1].PurchaseRequestID)
	assert.NotEqual(t, uuid.Nil, got.Items[0].ID)
}

func TestMemoryLedger_DeleteRequestCascades(t *testing.T) {
	m := NewMemoryLedger(time.Second)
	ctx := context.Background()
	doomed := newPending(t, m)
	kept := newPending(t, m)

	for _, req := range []*model.PurchaseRequest{doomed, kept} {
		err := m.RunInTx(ctx, func(txCtx context.Context) error {
			locked, err := m.LockAndLoad(txCtx, req.ID)
			if err != nil {
				return err
			}
			locked.Status = model.StatusApproved
			seq, err := m.NextPONumber(txCtx, "PO-20250101-")
			if err != nil {
				return err
			}
			return m.Commit(txCtx, locked,
				&model.Approval{PurchaseRequestID: req.ID, ApproverID: uuid.New(), Level: 2, Action: model.ApprovalActionApproved},
				&model.PurchaseOrder{
					PurchaseRequestID: req.ID,
					PONumber:          fmt.Sprintf("PO-20250101-%05d", seq),
					Items:             datatypes.NewJSONType([]model.PurchaseOrderItem{}),
				})
		})
		require.NoError(t, err)
		require.NoError(t, m.CreateReceipt(ctx, &model.Receipt{PurchaseRequestID: req.ID, FileRef: "receipts/r.pdf"}))
	}

	assert.ErrorIs(t, m.DeleteRequest(ctx, doomed.ID), ErrNoTransaction)

	err := m.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := m.LockAndLoad(txCtx, doomed.ID); err != nil {
			return err
		}
		return m.DeleteRequest(txCtx, doomed.ID)
	})
	require.NoError(t, err)

	_, err = m.FindRequest(ctx, doomed.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.FindPurchaseOrderByRequest(ctx, doomed.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	approvals, err := m.ListApprovals(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Empty(t, approvals)
	receipts, err := m.ListReceipts(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Empty(t, receipts)

	_, err = m.FindPurchaseOrderByRequest(ctx, kept.ID)
	assert.NoError(t, err)
	approvals, err = m.ListApprovals(ctx, kept.ID)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)
	receipts, err = m.ListReceipts(ctx, kept.ID)
	require.NoError(t, err)
	assert.Len(t, receipts, 1)
}
