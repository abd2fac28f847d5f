package activities

import (
	"context"
	"errors"

	"procurement/internal/model"
	"procurement/internal/service"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

// Extractor pulls structured fields out of a stored receipt file.
type Extractor interface {
	Extract(ctx context.Context, receipt model.Receipt) (model.ExtractedReceipt, error)
}

// NopExtractor extracts nothing, which leaves receipts for manual review.
type NopExtractor struct{}

func (NopExtractor) Extract(context.Context, model.Receipt) (model.ExtractedReceipt, error) {
	return model.ExtractedReceipt{}, nil
}

// ReceiptActivities contains the receipt validation activities
type ReceiptActivities struct {
	Receipts  service.ReceiptService
	Extractor Extractor
}

// ExtractReceipt loads the receipt and runs the configured extractor over it
func (a *ReceiptActivities) ExtractReceipt(ctx context.Context, receiptID string) (model.ExtractedReceipt, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Extracting receipt", "receiptID", receiptID)

	receipt, err := a.Receipts.FindReceipt(ctx, receiptID)
	if err != nil {
		return model.ExtractedReceipt{}, classify(err)
	}

	extractor := a.Extractor
	if extractor == nil {
		extractor = NopExtractor{}
	}
	return extractor.Extract(ctx, *receipt)
}

// ReconcileReceipt compares the extracted data with the purchase order and stores the result
func (a *ReceiptActivities) ReconcileReceipt(ctx context.Context, receiptID string, extracted model.ExtractedReceipt) (string, error) {
	logger := activity.GetLogger(ctx)

	result, err := a.Receipts.Reconcile(ctx, receiptID, extracted)
	if err != nil {
		return "", classify(err)
	}

	logger.Info("Receipt reconciled", "receiptID", receiptID, "result", result)
	return result, nil
}

// classify marks errors that retrying cannot fix as non-retryable.
func classify(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), "NotFoundError", err)
	case errors.Is(err, service.ErrValidation):
		return temporal.NewNonRetryableApplicationError(err.Error(), "ValidationError", err)
	}
	return err
}
