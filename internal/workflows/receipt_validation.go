package workflows

import (
	"time"

	"procurement/internal/model"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ReceiptValidationWorkflow extracts data from a submitted receipt and reconciles it against
// the purchase order. It returns the stored validation result.
func ReceiptValidationWorkflow(ctx workflow.Context, receiptID string) (string, error) {
	logger := workflow.GetLogger(ctx)

	retryPolicy := &temporal.RetryPolicy{
		InitialInterval:        1 * time.Second,
		BackoffCoefficient:     2.0,
		MaximumInterval:        30 * time.Second,
		MaximumAttempts:        5,
		NonRetryableErrorTypes: []string{"NotFoundError", "ValidationError"},
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         retryPolicy,
	})

	var extracted model.ExtractedReceipt
	if err := workflow.ExecuteActivity(ctx, "ExtractReceipt", receiptID).Get(ctx, &extracted); err != nil {
		logger.Error("Receipt extraction failed", "receiptID", receiptID, "error", err)
		return "", err
	}

	var result string
	if err := workflow.ExecuteActivity(ctx, "ReconcileReceipt", receiptID, extracted).Get(ctx, &result); err != nil {
		logger.Error("Receipt reconciliation failed", "receiptID", receiptID, "error", err)
		return "", err
	}

	logger.Info("Receipt validated", "receiptID", receiptID, "result", result)
	return result, nil
}
