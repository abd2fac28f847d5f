package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"procurement/internal/model"
	"procurement/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- DTOs ---

type RequestItemDTO struct {
	Description string `json:"description" binding:"required"`
	Quantity    int    `json:"quantity" binding:"min=0"`
	UnitPrice   string `json:"unit_price" binding:"required"` // Decimal string
}

type CreatePurchaseRequestDTO struct {
	Title       string           `json:"title" binding:"required"`
	Description string           `json:"description"`
	Amount      string           `json:"amount" binding:"required"` // Decimal string
	Currency    string           `json:"currency"`
	VendorName  string           `json:"vendor_name"`
	Items       []RequestItemDTO `json:"items" binding:"dive"`
}

// UpdatePurchaseRequestDTO is a partial edit of a PENDING request. Nil fields are left as
// they are; a non-nil Items replaces every line item.
type UpdatePurchaseRequestDTO struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Amount      *string           `json:"amount"`
	Currency    *string           `json:"currency"`
	VendorName  *string           `json:"vendor_name"`
	Items       *[]RequestItemDTO `json:"items"`
}

// AsUpdate turns a full payload into an edit that overwrites every field.
func (d CreatePurchaseRequestDTO) AsUpdate() UpdatePurchaseRequestDTO {
	items := d.Items
	if items == nil {
		items = []RequestItemDTO{}
	}
	return UpdatePurchaseRequestDTO{
		Title:       &d.Title,
		Description: &d.Description,
		Amount:      &d.Amount,
		Currency:    &d.Currency,
		VendorName:  &d.VendorName,
		Items:       &items,
	}
}

// DefaultDecisionLevel is the level of an approve or reject call that names none.
const DefaultDecisionLevel = 1

type ApproveRequestDTO struct {
	Level   *int   `json:"level"`
	Comment string `json:"comment"`
}

func (d ApproveRequestDTO) DecisionLevel() int { return levelOrDefault(d.Level) }

type RejectRequestDTO struct {
	Level  *int   `json:"level"`
	Reason string `json:"reason"`
}

func (d RejectRequestDTO) DecisionLevel() int { return levelOrDefault(d.Level) }

func levelOrDefault(level *int) int {
	if level == nil {
		return DefaultDecisionLevel
	}
	return *level
}

type PurchaseRequestFilter struct {
	Status string // PENDING, APPROVED, REJECTED or empty for all
	Page   int
	Limit  int
}

type RequestItemResponse struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TotalPrice  string `json:"total_price"`
}

type PurchaseRequestResponse struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Amount      string                `json:"amount"`
	Currency    string                `json:"currency"`
	VendorName  string                `json:"vendor_name"`
	Proforma    string                `json:"proforma,omitempty"`
	Status      string                `json:"status"`
	CreatedBy   string                `json:"created_by"`
	Items       []RequestItemResponse `json:"items"`
	PONumber    *string               `json:"po_number,omitempty"`
	CreatedAt   string                `json:"created_at"`
	UpdatedAt   string                `json:"updated_at"`
}

type ApprovalResponse struct {
	ID                string `json:"id"`
	PurchaseRequestID string `json:"purchase_request_id"`
	ApproverID        string `json:"approver_id"`
	Level             int    `json:"level"`
	Action            string `json:"action"`
	Comment           string `json:"comment"`
	CreatedAt         string `json:"created_at"`
}

// --- Interface ---

// ApprovalService is the purchase request state machine.
//
// PENDING moves to APPROVED when a single approval carries level >= FinalApprovalLevel,
// and to REJECTED on any rejection. Both are terminal. Approve and Reject hold the
// request's row lock for the whole transition, so concurrent callers on the same request
// observe the committed status and fail with ErrConflict. Edits take the same lock and
// are only accepted while the request is PENDING.
type ApprovalService interface {
	CreateRequest(ctx context.Context, actor model.Actor, req CreatePurchaseRequestDTO) (PurchaseRequestResponse, error)
	GetRequest(ctx context.Context, actor model.Actor, id string) (PurchaseRequestResponse, error)
	ListRequests(ctx context.Context, actor model.Actor, filter PurchaseRequestFilter) ([]PurchaseRequestResponse, int64, error)
	ListApprovals(ctx context.Context, actor model.Actor, id string) ([]ApprovalResponse, error)
	UpdateRequest(ctx context.Context, id string, actor model.Actor, changes UpdatePurchaseRequestDTO) (PurchaseRequestResponse, error)
	AttachProforma(ctx context.Context, id string, actor model.Actor, ref string) (PurchaseRequestResponse, string, error)
	DeleteRequest(ctx context.Context, id string, actor model.Actor) ([]string, error)
	Approve(ctx context.Context, id string, actor model.Actor, level int, comment string) (PurchaseRequestResponse, error)
	Reject(ctx context.Context, id string, actor model.Actor, level int, reason string) (PurchaseRequestResponse, error)
	IssuePurchaseOrder(ctx context.Context, id string, actor model.Actor) (PurchaseOrderResponse, error)
}

type approvalService struct {
	ledger    repository.LedgerStore
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	gate      AuthorizationGate
	issuer    PurchaseOrderIssuer
	events    EventPublisher
}

func NewApprovalService(
	ledger repository.LedgerStore,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	gate AuthorizationGate,
	issuer PurchaseOrderIssuer,
	events EventPublisher,
) ApprovalService {
	if events == nil {
		events = NopPublisher{}
	}
	return &approvalService{
		ledger:    ledger,
		auditRepo: auditRepo,
		txManager: txManager,
		gate:      gate,
		issuer:    issuer,
		events:    events,
	}
}

// --- Implementation ---

func (s *approvalService) CreateRequest(ctx context.Context, actor model.Actor, req CreatePurchaseRequestDTO) (PurchaseRequestResponse, error) {
	if strings.TrimSpace(req.Title) == "" {
		return PurchaseRequestResponse{}, fmt.Errorf("%w: title is required", ErrValidation)
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		return PurchaseRequestResponse{}, err
	}
	items, err := parseItems(req.Items)
	if err != nil {
		return PurchaseRequestResponse{}, err
	}

	pr := model.PurchaseRequest{
		ID:          uuid.New(),
		Title:       req.Title,
		Description: req.Description,
		Amount:      amount,
		Currency:    normalizeCurrency(req.Currency),
		VendorName:  req.VendorName,
		Status:      model.StatusPending,
		CreatedBy:   actor.ID,
		Items:       items,
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if createErr := s.ledger.CreateRequest(txCtx, &pr); createErr != nil {
			return fmt.Errorf("failed to create purchase request: %w", createErr)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"amount":   pr.Amount.StringFixed(2),
			"currency": pr.Currency,
			"items":    len(pr.Items),
		})
		return s.audit(txCtx, &actor.ID, model.ActionCreateRequest, pr.ID.String(), pr.Title, details)
	})
	if err != nil {
		return PurchaseRequestResponse{}, storeError(err, "purchase request")
	}

	s.events.Publish(model.Event{
		Type:      model.EventRequestCreated,
		RequestID: pr.ID.String(),
		Status:    pr.Status,
		ActorID:   actor.ID.String(),
		At:        time.Now(),
	})

	return toPurchaseRequestResponse(pr, nil), nil
}

func (s *approvalService) GetRequest(ctx context.Context, actor model.Actor, id string) (PurchaseRequestResponse, error) {
	pr, err := s.visibleRequest(ctx, actor, id)
	if err != nil {
		return PurchaseRequestResponse{}, err
	}

	var po *model.PurchaseOrder
	if pr.Status == model.StatusApproved {
		po, err = s.ledger.FindPurchaseOrderByRequest(ctx, pr.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return PurchaseRequestResponse{}, storeError(err, "purchase order for request "+id)
		}
	}
	return toPurchaseRequestResponse(*pr, po), nil
}

func (s *approvalService) ListRequests(ctx context.Context, actor model.Actor, filter PurchaseRequestFilter) ([]PurchaseRequestResponse, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}

	repoFilter := repository.RequestFilter{
		Status: filter.Status,
		Page:   filter.Page,
		Limit:  filter.Limit,
	}
	if actor.IsStaffOnly() {
		repoFilter.CreatedBy = &actor.ID
	}

	requests, total, err := s.ledger.ListRequests(ctx, repoFilter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch purchase requests: %w", err)
	}

	result := make([]PurchaseRequestResponse, 0, len(requests))
	for _, pr := range requests {
		result = append(result, toPurchaseRequestResponse(pr, nil))
	}
	return result, total, nil
}

func (s *approvalService) ListApprovals(ctx context.Context, actor model.Actor, id string) ([]ApprovalResponse, error) {
	pr, err := s.visibleRequest(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	approvals, err := s.ledger.ListApprovals(ctx, pr.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch approvals: %w", err)
	}

	result := make([]ApprovalResponse, 0, len(approvals))
	for _, a := range approvals {
		result = append(result, toApprovalResponse(a))
	}
	return result, nil
}

func (s *approvalService) UpdateRequest(ctx context.Context, id string, actor model.Actor, changes UpdatePurchaseRequestDTO) (PurchaseRequestResponse, error) {
	requestID, err := parseID(id, "purchase request")
	if err != nil {
		return PurchaseRequestResponse{}, err
	}

	// validate the payload before taking the lock
	var (
		amount decimal.Decimal
		items  []model.RequestItem
	)
	if changes.Title != nil && strings.TrimSpace(*changes.Title) == "" {
		return PurchaseRequestResponse{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if changes.Amount != nil {
		if amount, err = parseAmount(*changes.Amount); err != nil {
			return PurchaseRequestResponse{}, err
		}
	}
	if changes.Items != nil {
		if items, err = parseItems(*changes.Items); err != nil {
			return PurchaseRequestResponse{}, err
		}
	}

	var (
		pr      *model.PurchaseRequest
		changed []string
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var loadErr error
		pr, loadErr = s.lockEditable(txCtx, actor, requestID, id)
		if loadErr != nil {
			return loadErr
		}

		if changes.Title != nil {
			pr.Title = *changes.Title
			changed = append(changed, "title")
		}
		if changes.Description != nil {
			pr.Description = *changes.Description
			changed = append(changed, "description")
		}
		if changes.Amount != nil {
			pr.Amount = amount
			changed = append(changed, "amount")
		}
		if changes.Currency != nil {
			pr.Currency = normalizeCurrency(*changes.Currency)
			changed = append(changed, "currency")
		}
		if changes.VendorName != nil {
			pr.VendorName = *changes.VendorName
			changed = append(changed, "vendor_name")
		}
		if changes.Items != nil {
			pr.Items = items
			changed = append(changed, "items")
		}

		if updateErr := s.ledger.UpdateRequest(txCtx, pr); updateErr != nil {
			return storeError(updateErr, "purchase request "+id)
		}

		details, _ := json.Marshal(map[string]interface{}{"fields": changed})
		return s.audit(txCtx, &actor.ID, model.ActionUpdateRequest, pr.ID.String(), pr.Title, details)
	})
	if err != nil {
		return PurchaseRequestResponse{}, storeError(err, "purchase request "+id)
	}

	s.events.Publish(model.Event{
		Type:      model.EventRequestUpdated,
		RequestID: pr.ID.String(),
		Status:    pr.Status,
		ActorID:   actor.ID.String(),
		At:        time.Now(),
	})

	return toPurchaseRequestResponse(*pr, nil), nil
}

// AttachProforma points a PENDING request at an uploaded proforma file. It returns the
// reference it replaced, if any, so the caller can remove the old file.
func (s *approvalService) AttachProforma(ctx context.Context, id string, actor model.Actor, ref string) (PurchaseRequestResponse, string, error) {
	requestID, err := parseID(id, "purchase request")
	if err != nil {
		return PurchaseRequestResponse{}, "", err
	}
	if ref == "" {
		return PurchaseRequestResponse{}, "", fmt.Errorf("%w: proforma file is required", ErrValidation)
	}

	var (
		pr       *model.PurchaseRequest
		replaced string
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var loadErr error
		pr, loadErr = s.lockEditable(txCtx, actor, requestID, id)
		if loadErr != nil {
			return loadErr
		}

		replaced = pr.ProformaRef
		pr.ProformaRef = ref
		if updateErr := s.ledger.UpdateRequest(txCtx, pr); updateErr != nil {
			return storeError(updateErr, "purchase request "+id)
		}

		details, _ := json.Marshal(map[string]interface{}{"proforma": ref, "replaced": replaced})
		return s.audit(txCtx, &actor.ID, model.ActionAttachProforma, pr.ID.String(), pr.Title, details)
	})
	if err != nil {
		return PurchaseRequestResponse{}, "", storeError(err, "purchase request "+id)
	}

	s.events.Publish(model.Event{
		Type:      model.EventRequestUpdated,
		RequestID: pr.ID.String(),
		Status:    pr.Status,
		ActorID:   actor.ID.String(),
		At:        time.Now(),
	})

	return toPurchaseRequestResponse(*pr, nil), replaced, nil
}

// DeleteRequest removes a request with its approvals, purchase order and receipts. Owners
// may only withdraw a PENDING request; admins may delete in any state. The returned
// references are the files that belonged to the deleted records.
func (s *approvalService) DeleteRequest(ctx context.Context, id string, actor model.Actor) ([]string, error) {
	requestID, err := parseID(id, "purchase request")
	if err != nil {
		return nil, err
	}

	var (
		pr    *model.PurchaseRequest
		files []string
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var loadErr error
		pr, loadErr = s.ledger.LockAndLoad(txCtx, requestID)
		if loadErr != nil {
			return storeError(loadErr, "purchase request "+id)
		}
		if err := checkOwner(actor, pr, id); err != nil {
			return err
		}
		if pr.IsTerminal() && actor.Role != model.RoleAdmin {
			return fmt.Errorf("%w: purchase request is already %s", ErrConflict, pr.Status)
		}

		if pr.ProformaRef != "" {
			files = append(files, pr.ProformaRef)
		}
		poNumber := ""
		po, findErr := s.ledger.FindPurchaseOrderByRequest(txCtx, pr.ID)
		switch {
		case findErr == nil:
			poNumber = po.PONumber
			if po.DocumentRef != "" {
				files = append(files, po.DocumentRef)
			}
		case !errors.Is(findErr, repository.ErrNotFound):
			return storeError(findErr, "purchase order for request "+id)
		}
		receipts, listErr := s.ledger.ListReceipts(txCtx, pr.ID)
		if listErr != nil {
			return storeError(listErr, "receipts of request "+id)
		}
		for _, r := range receipts {
			files = append(files, r.FileRef)
		}

		if deleteErr := s.ledger.DeleteRequest(txCtx, pr.ID); deleteErr != nil {
			return storeError(deleteErr, "purchase request "+id)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"status":    pr.Status,
			"po_number": poNumber,
			"receipts":  len(receipts),
		})
		return s.audit(txCtx, &actor.ID, model.ActionDeleteRequest, pr.ID.String(), pr.Title, details)
	})
	if err != nil {
		return nil, storeError(err, "purchase request "+id)
	}

	s.events.Publish(model.Event{
		Type:      model.EventRequestDeleted,
		RequestID: pr.ID.String(),
		Status:    pr.Status,
		ActorID:   actor.ID.String(),
		At:        time.Now(),
	})

	return files, nil
}

// lockEditable locks a request the actor may edit and checks it is still PENDING.
func (s *approvalService) lockEditable(txCtx context.Context, actor model.Actor, requestID uuid.UUID, id string) (*model.PurchaseRequest, error) {
	pr, err := s.ledger.LockAndLoad(txCtx, requestID)
	if err != nil {
		return nil, storeError(err, "purchase request "+id)
	}
	if err := checkOwner(actor, pr, id); err != nil {
		return nil, err
	}
	if pr.IsTerminal() {
		return nil, fmt.Errorf("%w: purchase request is already %s and can no longer be edited", ErrConflict, pr.Status)
	}
	return pr, nil
}

func (s *approvalService) Approve(ctx context.Context, id string, actor model.Actor, level int, comment string) (PurchaseRequestResponse, error) {
	requestID, err := parseID(id, "purchase request")
	if err != nil {
		return PurchaseRequestResponse{}, err
	}
	if level < 1 {
		return PurchaseRequestResponse{}, fmt.Errorf("%w: level must be a positive integer", ErrValidation)
	}
	if err := s.authorize(ctx, actor, level); err != nil {
		return PurchaseRequestResponse{}, err
	}

	var (
		pr     *model.PurchaseRequest
		issued *model.PurchaseOrder
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var loadErr error
		pr, loadErr = s.ledger.LockAndLoad(txCtx, requestID)
		if loadErr != nil {
			return storeError(loadErr, "purchase request "+id)
		}

		if pr.IsTerminal() {
			return fmt.Errorf("%w: purchase request is already %s", ErrConflict, pr.Status)
		}

		approval := &model.Approval{
			PurchaseRequestID: pr.ID,
			ApproverID:        actor.ID,
			Level:             level,
			Action:            model.ApprovalActionApproved,
			Comment:           comment,
		}

		action := model.ActionEscalateRequest
		if level >= model.FinalApprovalLevel {
			pr.Status = model.StatusApproved
			po, issueErr := s.issuer.Issue(txCtx, pr)
			if issueErr != nil {
				return fmt.Errorf("failed to issue purchase order: %w", issueErr)
			}
			issued = po
			action = model.ActionApproveRequest
		}

		if commitErr := s.ledger.Commit(txCtx, pr, approval, issued); commitErr != nil {
			return storeError(commitErr, "purchase request "+id)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"level":   level,
			"comment": comment,
			"status":  pr.Status,
		})
		if auditErr := s.audit(txCtx, &actor.ID, action, pr.ID.String(), pr.Title, details); auditErr != nil {
			return auditErr
		}

		if issued != nil {
			poDetails, _ := json.Marshal(map[string]interface{}{
				"po_number":    issued.PONumber,
				"total_amount": issued.TotalAmount.StringFixed(2),
				"request_id":   pr.ID.String(),
			})
			if auditErr := s.audit(txCtx, &actor.ID, model.ActionIssuePurchaseOrder, issued.ID.String(), issued.PONumber, poDetails); auditErr != nil {
				return auditErr
			}
		}
		return nil
	})
	if err != nil {
		return PurchaseRequestResponse{}, storeError(err, "purchase request "+id)
	}

	event := model.Event{
		Type:      model.EventRequestEscalated,
		RequestID: pr.ID.String(),
		Status:    pr.Status,
		Level:     level,
		ActorID:   actor.ID.String(),
		At:        time.Now(),
	}
	if issued != nil {
		event.Type = model.EventRequestApproved
		event.PONumber = issued.PONumber
	}
	s.events.Publish(event)

	return toPurchaseRequestResponse(*pr, issued), nil
}

func (s *approvalService) Reject(ctx context.Context, id string, actor model.Actor, level int, reason string) (PurchaseRequestResponse, error) {
	requestID, err := parseID(id, "purchase request")
	if err != nil {
		return PurchaseRequestResponse{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return PurchaseRequestResponse{}, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if level < 1 {
		return PurchaseRequestResponse{}, fmt.Errorf("%w: level must be a positive integer", ErrValidation)
	}
	if err := s.authorize(ctx, actor, level); err != nil {
		return PurchaseRequestResponse{}, err
	}

	var pr *model.PurchaseRequest
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		var loadErr error
		pr, loadErr = s.ledger.LockAndLoad(txCtx, requestID)
		if loadErr != nil {
			return storeError(loadErr, "purchase request "+id)
		}

		if pr.IsTerminal() {
			return fmt.Errorf("%w: purchase request is already %s", ErrConflict, pr.Status)
		}

		pr.Status = model.StatusRejected
		approval := &model.Approval{
			PurchaseRequestID: pr.ID,
			ApproverID:        actor.ID,
			Level:             level,
			Action:            model.ApprovalActionRejected,
			Comment:           reason,
		}
		if commitErr := s.ledger.Commit(txCtx, pr, approval, nil); commitErr != nil {
			return storeError(commitErr, "purchase request "+id)
		}

		details, _ := json.Marshal(map[string]interface{}{
			"level":  level,
			"reason": reason,
		})
		return s.audit(txCtx, &actor.ID, model.ActionRejectRequest, pr.ID.String(), pr.Title, details)
	})
	if err != nil {
		return PurchaseRequestResponse{}, storeError(err, "purchase request "+id)
	}

	s.events.Publish(model.Event{
		Type:      model.EventRequestRejected,
		RequestID: pr.ID.String(),
		Status:    pr.Status,
		Level:     level,
		ActorID:   actor.ID.String(),
		At:        time.Now(),
	})

	return toPurchaseRequestResponse(*pr, nil), nil
}

// IssuePurchaseOrder issues the order for an APPROVED request that has none, e.g. after
// manual repair of the ledger. It never creates a second order.
func (s *approvalService) IssuePurchaseOrder(ctx context.Context, id string, actor model.Actor) (PurchaseOrderResponse, error) {
	requestID, err := parseID(id, "purchase request")
	if err != nil {
		return PurchaseOrderResponse{}, err
	}
	if err := s.authorize(ctx, actor, model.FinalApprovalLevel); err != nil {
		return PurchaseOrderResponse{}, err
	}

	var issued *model.PurchaseOrder
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		pr, loadErr := s.ledger.LockAndLoad(txCtx, requestID)
		if loadErr != nil {
			return storeError(loadErr, "purchase request "+id)
		}
		if pr.Status != model.StatusApproved {
			return fmt.Errorf("%w: purchase request is %s, expected %s", ErrInvalidState, pr.Status, model.StatusApproved)
		}

		po, issueErr := s.issuer.Issue(txCtx, pr)
		if issueErr != nil {
			return issueErr
		}
		if commitErr := s.ledger.Commit(txCtx, pr, nil, po); commitErr != nil {
			return storeError(commitErr, "purchase order for request "+id)
		}
		issued = po

		details, _ := json.Marshal(map[string]interface{}{
			"po_number":    po.PONumber,
			"total_amount": po.TotalAmount.StringFixed(2),
			"request_id":   pr.ID.String(),
		})
		return s.audit(txCtx, &actor.ID, model.ActionIssuePurchaseOrder, po.ID.String(), po.PONumber, details)
	})
	if err != nil {
		return PurchaseOrderResponse{}, storeError(err, "purchase order for request "+id)
	}

	s.events.Publish(model.Event{
		Type:      model.EventPurchaseOrderIssued,
		RequestID: requestID.String(),
		Status:    model.StatusApproved,
		ActorID:   actor.ID.String(),
		PONumber:  issued.PONumber,
		At:        time.Now(),
	})

	return toPurchaseOrderResponse(*issued), nil
}

func (s *approvalService) authorize(ctx context.Context, actor model.Actor, level int) error {
	ok, err := s.gate.CanAct(ctx, actor, level)
	if err != nil {
		return fmt.Errorf("authorization check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: role %q may not act at level %d", ErrForbidden, actor.Role, level)
	}
	return nil
}

// visibleRequest loads a request the actor is allowed to see. Staff only see their own.
func (s *approvalService) visibleRequest(ctx context.Context, actor model.Actor, id string) (*model.PurchaseRequest, error) {
	return loadVisibleRequest(ctx, s.ledger, actor, id)
}

func (s *approvalService) audit(ctx context.Context, userID *uuid.UUID, action, entityID, entityName string, details []byte) error {
	entry := &model.AuditLog{
		UserID:     userID,
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(details),
	}
	if err := s.auditRepo.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// --- Helpers ---

// checkOwner allows the requester and admins. Staff never learn that other requests exist.
func checkOwner(actor model.Actor, pr *model.PurchaseRequest, id string) error {
	if pr.CreatedBy == actor.ID || actor.Role == model.RoleAdmin {
		return nil
	}
	if actor.IsStaffOnly() {
		return fmt.Errorf("%w: purchase request %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: only the requester or an admin may change purchase request %s", ErrForbidden, id)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid amount: %v", ErrValidation, err)
	}
	if amount.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: amount must not be negative", ErrValidation)
	}
	return amount.Round(2), nil
}

func parseItems(dtos []RequestItemDTO) ([]model.RequestItem, error) {
	items := make([]model.RequestItem, 0, len(dtos))
	for i, it := range dtos {
		if it.Quantity < 0 {
			return nil, fmt.Errorf("%w: items[%d].quantity must not be negative", ErrValidation, i)
		}
		unitPrice, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid items[%d].unit_price: %v", ErrValidation, i, err)
		}
		if unitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: items[%d].unit_price must not be negative", ErrValidation, i)
		}
		items = append(items, model.RequestItem{
			Position:    i,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   unitPrice.Round(2),
		})
	}
	return items, nil
}

func normalizeCurrency(raw string) string {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		return "USD"
	}
	return currency
}

func loadVisibleRequest(ctx context.Context, ledger repository.LedgerStore, actor model.Actor, id string) (*model.PurchaseRequest, error) {
	requestID, err := parseID(id, "purchase request")
	if err != nil {
		return nil, err
	}
	pr, err := ledger.FindRequest(ctx, requestID)
	if err != nil {
		return nil, storeError(err, "purchase request "+id)
	}
	if actor.IsStaffOnly() && pr.CreatedBy != actor.ID {
		return nil, fmt.Errorf("%w: purchase request %s", ErrNotFound, id)
	}
	return pr, nil
}

func toPurchaseRequestResponse(pr model.PurchaseRequest, po *model.PurchaseOrder) PurchaseRequestResponse {
	resp := PurchaseRequestResponse{
		ID:          pr.ID.String(),
		Title:       pr.Title,
		Description: pr.Description,
		Amount:      pr.Amount.StringFixed(2),
		Currency:    pr.Currency,
		VendorName:  pr.VendorName,
		Proforma:    pr.ProformaRef,
		Status:      pr.Status,
		CreatedBy:   pr.CreatedBy.String(),
		Items:       make([]RequestItemResponse, 0, len(pr.Items)),
		CreatedAt:   pr.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   pr.UpdatedAt.Format(time.RFC3339),
	}
	for _, it := range pr.Items {
		resp.Items = append(resp.Items, RequestItemResponse{
			ID:          it.ID.String(),
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice.StringFixed(2),
			TotalPrice:  it.TotalPrice().StringFixed(2),
		})
	}
	if po != nil {
		n := po.PONumber
		resp.PONumber = &n
	}
	return resp
}

func toApprovalResponse(a model.Approval) ApprovalResponse {
	return ApprovalResponse{
		ID:                a.ID.String(),
		PurchaseRequestID: a.PurchaseRequestID.String(),
		ApproverID:        a.ApproverID.String(),
		Level:             a.Level,
		Action:            a.Action,
		Comment:           a.Comment,
		CreatedAt:         a.CreatedAt.Format(time.RFC3339),
	}
}
