package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"procurement/internal/model"
	"procurement/internal/repository"

	"gorm.io/datatypes"
)

// PurchaseOrderIssuer builds the purchase order for a request that is becoming APPROVED.
// Issue must be called inside the transaction that commits the transition.
type PurchaseOrderIssuer interface {
	Issue(ctx context.Context, req *model.PurchaseRequest) (*model.PurchaseOrder, error)
}

type purchaseOrderIssuer struct {
	ledger repository.LedgerStore
	now    func() time.Time
}

func NewPurchaseOrderIssuer(ledger repository.LedgerStore) PurchaseOrderIssuer {
	return &purchaseOrderIssuer{ledger: ledger, now: time.Now}
}

func (i *purchaseOrderIssuer) Issue(ctx context.Context, req *model.PurchaseRequest) (*model.PurchaseOrder, error) {
	if req.Status != model.StatusApproved {
		return nil, fmt.Errorf("%w: cannot issue a purchase order for a %s request", ErrInvalidState, req.Status)
	}

	existing, err := i.ledger.FindPurchaseOrderByRequest(ctx, req.ID)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: purchase order %s already issued for request %s", ErrConflict, existing.PONumber, req.ID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to check existing purchase order: %w", err)
	}

	poNumber, err := i.generatePONumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate po number: %w", err)
	}

	items := make([]model.PurchaseOrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, model.PurchaseOrderItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice(),
		})
	}

	return &model.PurchaseOrder{
		PurchaseRequestID: req.ID,
		VendorName:        req.VendorName,
		Items:             datatypes.NewJSONType(items),
		TotalAmount:       req.Amount,
		Currency:          req.Currency,
		PONumber:          poNumber,
	}, nil
}

func (i *purchaseOrderIssuer) generatePONumber(ctx context.Context) (string, error) {
	prefix := "PO-" + i.now().Format("20060102") + "-"
	seq, err := i.ledger.NextPONumber(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%05d", prefix, seq), nil
}
