package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"procurement/internal/model"
	"procurement/internal/repository"
	"procurement/internal/storage"
)

type PurchaseOrderItemResponse struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TotalPrice  string `json:"total_price"`
}

type PurchaseOrderResponse struct {
	ID                string                      `json:"id"`
	PurchaseRequestID string                      `json:"purchase_request_id"`
	PONumber          string                      `json:"po_number"`
	VendorName        string                      `json:"vendor_name"`
	Items             []PurchaseOrderItemResponse `json:"items"`
	TotalAmount       string                      `json:"total_amount"`
	Currency          string                      `json:"currency"`
	HasDocument       bool                        `json:"has_document"`
	GeneratedAt       string                      `json:"generated_at"`
}

// Document is a rendered purchase order ready to be stored and downloaded.
type Document struct {
	Name        string
	ContentType string
	Body        []byte
}

// DocumentRenderer turns an issued purchase order snapshot into a downloadable document.
type DocumentRenderer interface {
	Render(ctx context.Context, po model.PurchaseOrder) (Document, error)
}

type PurchaseOrderService interface {
	GetPurchaseOrder(ctx context.Context, actor model.Actor, id string) (PurchaseOrderResponse, error)
	GetPurchaseOrderByRequest(ctx context.Context, actor model.Actor, requestID string) (PurchaseOrderResponse, error)
	// OpenDocument returns the order's rendered document, rendering and storing it on first use.
	OpenDocument(ctx context.Context, actor model.Actor, id string) (io.ReadCloser, string, error)
}

type purchaseOrderService struct {
	ledger    repository.LedgerStore
	auditRepo repository.AuditRepository
	renderer  DocumentRenderer
	files     storage.FileStore
}

func NewPurchaseOrderService(
	ledger repository.LedgerStore,
	auditRepo repository.AuditRepository,
	renderer DocumentRenderer,
	files storage.FileStore,
) PurchaseOrderService {
	return &purchaseOrderService{
		ledger:    ledger,
		auditRepo: auditRepo,
		renderer:  renderer,
		files:     files,
	}
}

func (s *purchaseOrderService) GetPurchaseOrder(ctx context.Context, actor model.Actor, id string) (PurchaseOrderResponse, error) {
	po, err := s.visibleOrder(ctx, actor, id)
	if err != nil {
		return PurchaseOrderResponse{}, err
	}
	return toPurchaseOrderResponse(*po), nil
}

func (s *purchaseOrderService) GetPurchaseOrderByRequest(ctx context.Context, actor model.Actor, requestID string) (PurchaseOrderResponse, error) {
	pr, err := loadVisibleRequest(ctx, s.ledger, actor, requestID)
	if err != nil {
		return PurchaseOrderResponse{}, err
	}
	po, err := s.ledger.FindPurchaseOrderByRequest(ctx, pr.ID)
	if err != nil {
		return PurchaseOrderResponse{}, storeError(err, "purchase order for request "+requestID)
	}
	return toPurchaseOrderResponse(*po), nil
}

func (s *purchaseOrderService) OpenDocument(ctx context.Context, actor model.Actor, id string) (io.ReadCloser, string, error) {
	po, err := s.visibleOrder(ctx, actor, id)
	if err != nil {
		return nil, "", err
	}

	if po.DocumentRef != "" {
		rc, openErr := s.files.Open(ctx, po.DocumentRef)
		if openErr == nil {
			return rc, po.DocumentRef, nil
		}
		if !errors.Is(openErr, storage.ErrNotFound) {
			return nil, "", fmt.Errorf("failed to open purchase order document: %w", openErr)
		}
		log.Printf("purchase order %s: stored document %s is missing, rendering again", po.PONumber, po.DocumentRef)
	}

	doc, err := s.renderer.Render(ctx, *po)
	if err != nil {
		return nil, "", fmt.Errorf("failed to render purchase order %s: %w", po.PONumber, err)
	}
	ref, err := s.files.Save(ctx, "purchase_orders", doc.Name, bytes.NewReader(doc.Body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to store purchase order document: %w", err)
	}
	if err := s.ledger.SetPurchaseOrderDocument(ctx, po.ID, ref); err != nil {
		return nil, "", storeError(err, "purchase order "+id)
	}

	details, _ := json.Marshal(map[string]interface{}{
		"document_ref": ref,
	})
	entry := &model.AuditLog{
		UserID:     &actor.ID,
		Action:     model.ActionRenderPurchaseOrder,
		EntityID:   po.ID.String(),
		EntityName: po.PONumber,
		Details:    string(details),
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		log.Printf("purchase order %s: failed to write audit log: %v", po.PONumber, err)
	}

	return io.NopCloser(bytes.NewReader(doc.Body)), ref, nil
}

func (s *purchaseOrderService) visibleOrder(ctx context.Context, actor model.Actor, id string) (*model.PurchaseOrder, error) {
	poID, err := parseID(id, "purchase order")
	if err != nil {
		return nil, err
	}
	po, err := s.ledger.FindPurchaseOrder(ctx, poID)
	if err != nil {
		return nil, storeError(err, "purchase order "+id)
	}
	if _, err := loadVisibleRequest(ctx, s.ledger, actor, po.PurchaseRequestID.String()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: purchase order %s", ErrNotFound, id)
		}
		return nil, err
	}
	return po, nil
}

func toPurchaseOrderResponse(po model.PurchaseOrder) PurchaseOrderResponse {
	items := po.LineItems()
	resp := PurchaseOrderResponse{
		ID:                po.ID.String(),
		PurchaseRequestID: po.PurchaseRequestID.String(),
		PONumber:          po.PONumber,
		VendorName:        po.VendorName,
		Items:             make([]PurchaseOrderItemResponse, 0, len(items)),
		TotalAmount:       po.TotalAmount.StringFixed(2),
		Currency:          po.Currency,
		HasDocument:       po.DocumentRef != "",
		GeneratedAt:       po.GeneratedAt.Format(time.RFC3339),
	}
	for _, it := range items {
		resp.Items = append(resp.Items, PurchaseOrderItemResponse{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			TotalPrice:  it.TotalPrice.StringFixed(2),
		})
	}
	return resp
}
