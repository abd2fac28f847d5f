package activities

import (
	"context"
	"errors"
	"testing"
	"time"

	"procurement/internal/model"
	"procurement/internal/repository"
	"procurement/internal/service"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

func TestClassify(t *testing.T) {
	var appErr *temporal.ApplicationError

	err := classify(errors.Join(service.ErrNotFound, errors.New("receipt x")))
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "NotFoundError", appErr.Type())
	assert.True(t, appErr.NonRetryable())

	err = classify(service.ErrValidation)
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "ValidationError", appErr.Type())

	plain := errors.New("connection refused")
	assert.Equal(t, plain, classify(plain))
}

func TestReceiptActivities(t *testing.T) {
	ctx := context.Background()
	ledger := repository.NewMemoryLedger(time.Second)
	gate, err := service.NewCasbinGate(service.DefaultLevelGrants())
	require.NoError(t, err)
	approvals := service.NewApprovalService(ledger, ledger, ledger, gate, service.NewPurchaseOrderIssuer(ledger), nil)
	receipts := service.NewReceiptService(ledger, ledger, ledger, nil, nil)

	owner := model.Actor{ID: uuid.New(), Role: model.RoleStaff}
	pr, err := approvals.CreateRequest(ctx, owner, service.CreatePurchaseRequestDTO{Title: "Paper", Amount: "12.00"})
	require.NoError(t, err)
	_, err = approvals.Approve(ctx, pr.ID, model.Actor{ID: uuid.New(), Role: model.RoleAdmin}, 2, "")
	require.NoError(t, err)
	receipt, err := receipts.SubmitReceipt(ctx, pr.ID, owner, "receipts/paper.jpg", "")
	require.NoError(t, err)

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	acts := &ReceiptActivities{Receipts: receipts}
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.ExtractReceipt, receipt.ID)
	require.NoError(t, err)
	var extracted model.ExtractedReceipt
	require.NoError(t, val.Get(&extracted))
	assert.False(t, extracted.Total.Valid)

	val, err = env.ExecuteActivity(acts.ReconcileReceipt, receipt.ID, extracted)
	require.NoError(t, err)
	var result string
	require.NoError(t, val.Get(&result))
	assert.Equal(t, model.ValidationNeedsReview, result)

	_, err = env.ExecuteActivity(acts.ExtractReceipt, uuid.NewString())
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "NotFoundError", appErr.Type())
}
