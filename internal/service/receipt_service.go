package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"procurement/internal/model"
	"procurement/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

type ReceiptResponse struct {
	ID                string                 `json:"id"`
	PurchaseRequestID string                 `json:"purchase_request_id"`
	UploadedBy        string                 `json:"uploaded_by"`
	FileRef           string                 `json:"file_ref"`
	ExtractedData     model.ExtractedReceipt `json:"extracted_data"`
	ValidationResult  string                 `json:"validation_result"`
	Notes             string                 `json:"notes"`
	CreatedAt         string                 `json:"created_at"`
}

// ReceiptValidationDispatcher hands a stored receipt to the asynchronous validator.
type ReceiptValidationDispatcher interface {
	Dispatch(ctx context.Context, receiptID uuid.UUID) error
}

// NopDispatcher leaves receipts UNVALIDATED.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, uuid.UUID) error { return nil }

// --- Interface ---

type ReceiptService interface {
	SubmitReceipt(ctx context.Context, requestID string, actor model.Actor, fileRef, notes string) (ReceiptResponse, error)
	ListReceipts(ctx context.Context, actor model.Actor, requestID string) ([]ReceiptResponse, error)
	Reconcile(ctx context.Context, receiptID string, extracted model.ExtractedReceipt) (string, error)
	RecordValidation(ctx context.Context, receiptID, result string, extracted model.ExtractedReceipt) (ReceiptResponse, error)
	FindReceipt(ctx context.Context, receiptID string) (*model.Receipt, error)
}

type receiptService struct {
	ledger     repository.LedgerStore
	auditRepo  repository.AuditRepository
	txManager  repository.TransactionManager
	dispatcher ReceiptValidationDispatcher
	events     EventPublisher
}

func NewReceiptService(
	ledger repository.LedgerStore,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	dispatcher ReceiptValidationDispatcher,
	events EventPublisher,
) ReceiptService {
	if dispatcher == nil {
		dispatcher = NopDispatcher{}
	}
	if events == nil {
		events = NopPublisher{}
	}
	return &receiptService{
		ledger:     ledger,
		auditRepo:  auditRepo,
		txManager:  txManager,
		dispatcher: dispatcher,
		events:     events,
	}
}

// --- Implementation ---

// SubmitReceipt records a receipt against an APPROVED request. Any number of receipts may be
// attached to one request.
func (s *receiptService) SubmitReceipt(ctx context.Context, requestID string, actor model.Actor, fileRef, notes string) (ReceiptResponse, error) {
	pr, err := loadVisibleRequest(ctx, s.ledger, actor, requestID)
	if err != nil {
		return ReceiptResponse{}, err
	}
	if pr.Status != model.StatusApproved {
		return ReceiptResponse{}, fmt.Errorf("%w: receipts can only be submitted for approved requests (status %s)", ErrInvalidState, pr.Status)
	}
	if strings.TrimSpace(fileRef) == "" {
		return ReceiptResponse{}, fmt.Errorf("%w: no receipt file provided", ErrValidation)
	}

	receipt := model.Receipt{
		PurchaseRequestID: pr.ID,
		UploadedBy:        actor.ID,
		FileRef:           fileRef,
		ValidationResult:  model.ValidationUnvalidated,
		Notes:             notes,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.ledger.CreateReceipt(txCtx, &receipt); createErr != nil {
			return storeError(createErr, "receipt for request "+requestID)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"request_id": pr.ID.String(),
			"file_ref":   fileRef,
		})
		entry := &model.AuditLog{
			UserID:     &actor.ID,
			Action:     model.ActionSubmitReceipt,
			EntityID:   receipt.ID.String(),
			EntityName: pr.Title,
			Details:    string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, entry); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}
		return nil
	})
	if err != nil {
		return ReceiptResponse{}, storeError(err, "receipt for request "+requestID)
	}

	if dispatchErr := s.dispatcher.Dispatch(ctx, receipt.ID); dispatchErr != nil {
		log.Printf("receipt %s: validation dispatch failed: %v", receipt.ID, dispatchErr)
	}

	s.events.Publish(model.Event{
		Type:      model.EventReceiptSubmitted,
		RequestID: pr.ID.String(),
		Status:    pr.Status,
		ActorID:   actor.ID.String(),
		ReceiptID: receipt.ID.String(),
		At:        time.Now(),
	})

	return toReceiptResponse(receipt), nil
}

func (s *receiptService) ListReceipts(ctx context.Context, actor model.Actor, requestID string) ([]ReceiptResponse, error) {
	pr, err := loadVisibleRequest(ctx, s.ledger, actor, requestID)
	if err != nil {
		return nil, err
	}

	receipts, err := s.ledger.ListReceipts(ctx, pr.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch receipts: %w", err)
	}

	result := make([]ReceiptResponse, 0, len(receipts))
	for _, r := range receipts {
		result = append(result, toReceiptResponse(r))
	}
	return result, nil
}

func (s *receiptService) FindReceipt(ctx context.Context, receiptID string) (*model.Receipt, error) {
	id, err := parseID(receiptID, "receipt")
	if err != nil {
		return nil, err
	}
	receipt, err := s.ledger.FindReceipt(ctx, id)
	if err != nil {
		return nil, storeError(err, "receipt "+receiptID)
	}
	return receipt, nil
}

// Reconcile compares extracted receipt data with the request's purchase order and stores
// the outcome: NEEDS_REVIEW when no total was extracted, MATCHED when total and currency
// agree, MISMATCH otherwise.
func (s *receiptService) Reconcile(ctx context.Context, receiptID string, extracted model.ExtractedReceipt) (string, error) {
	receipt, err := s.FindReceipt(ctx, receiptID)
	if err != nil {
		return "", err
	}

	result := model.ValidationNeedsReview
	if extracted.Total.Valid {
		po, poErr := s.ledger.FindPurchaseOrderByRequest(ctx, receipt.PurchaseRequestID)
		switch {
		case errors.Is(poErr, repository.ErrNotFound):
			result = model.ValidationNeedsReview
		case poErr != nil:
			return "", fmt.Errorf("failed to load purchase order: %w", poErr)
		case extracted.Currency != "" && !strings.EqualFold(extracted.Currency, po.Currency):
			result = model.ValidationMismatch
		case extracted.Total.Decimal.Equal(po.TotalAmount):
			result = model.ValidationMatched
		default:
			result = model.ValidationMismatch
		}
	}

	if _, err := s.RecordValidation(ctx, receiptID, result, extracted); err != nil {
		return "", err
	}
	return result, nil
}

// RecordValidation stores the outcome produced by the asynchronous validator.
func (s *receiptService) RecordValidation(ctx context.Context, receiptID, result string, extracted model.ExtractedReceipt) (ReceiptResponse, error) {
	id, err := parseID(receiptID, "receipt")
	if err != nil {
		return ReceiptResponse{}, err
	}
	switch result {
	case model.ValidationUnvalidated, model.ValidationMatched, model.ValidationMismatch, model.ValidationNeedsReview:
	default:
		return ReceiptResponse{}, fmt.Errorf("%w: unknown validation result %q", ErrValidation, result)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if updateErr := s.ledger.UpdateReceiptValidation(txCtx, id, result, extracted); updateErr != nil {
			return storeError(updateErr, "receipt "+receiptID)
		}
		details, _ := json.Marshal(map[string]interface{}{
			"validation_result": result,
		})
		entry := &model.AuditLog{
			Action:   model.ActionValidateReceipt,
			EntityID: receiptID,
			Details:  string(details),
		}
		if auditErr := s.auditRepo.Log(txCtx, entry); auditErr != nil {
			return fmt.Errorf("failed to write audit log: %w", auditErr)
		}
		return nil
	})
	if err != nil {
		return ReceiptResponse{}, storeError(err, "receipt "+receiptID)
	}

	receipt, err := s.ledger.FindReceipt(ctx, id)
	if err != nil {
		return ReceiptResponse{}, storeError(err, "receipt "+receiptID)
	}

	s.events.Publish(model.Event{
		Type:      model.EventReceiptValidated,
		RequestID: receipt.PurchaseRequestID.String(),
		ReceiptID: receiptID,
		At:        time.Now(),
	})

	return toReceiptResponse(*receipt), nil
}

// --- Helpers ---

func toReceiptResponse(r model.Receipt) ReceiptResponse {
	return ReceiptResponse{
		ID:                r.ID.String(),
		PurchaseRequestID: r.PurchaseRequestID.String(),
		UploadedBy:        r.UploadedBy.String(),
		FileRef:           r.FileRef,
		ExtractedData:     r.ExtractedData.Data(),
		ValidationResult:  r.ValidationResult,
		Notes:             r.Notes,
		CreatedAt:         r.CreatedAt.Format(time.RFC3339),
	}
}
