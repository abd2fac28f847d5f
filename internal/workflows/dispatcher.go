package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
)

const DefaultTaskQueue = "receipt-validation"

// TemporalDispatcher starts one ReceiptValidationWorkflow per submitted receipt.
type TemporalDispatcher struct {
	client    client.Client
	taskQueue string
}

func NewTemporalDispatcher(c client.Client, taskQueue string) *TemporalDispatcher {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &TemporalDispatcher{client: c, taskQueue: taskQueue}
}

func (d *TemporalDispatcher) Dispatch(ctx context.Context, receiptID uuid.UUID) error {
	options := client.StartWorkflowOptions{
		ID:        "receipt-validation-" + receiptID.String(),
		TaskQueue: d.taskQueue,
	}
	if _, err := d.client.ExecuteWorkflow(ctx, options, ReceiptValidationWorkflow, receiptID.String()); err != nil {
		return fmt.Errorf("failed to start receipt validation workflow: %w", err)
	}
	return nil
}
