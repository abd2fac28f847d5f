package repository

import (
	"context"
	"fmt"
	"time"

	"procurement/internal/model"
	"procurement/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequestFilter narrows ListRequests. A nil CreatedBy lists every requester.
type RequestFilter struct {
	Status    string
	CreatedBy *uuid.UUID
	Page      int
	Limit     int
}

// LedgerStore is durable storage for purchase requests and their dependent records.
//
// LockAndLoad, Commit, UpdateRequest, DeleteRequest and NextPONumber must run inside
// TransactionManager.RunInTx; the row lock taken by LockAndLoad is held until that
// transaction ends.
type LedgerStore interface {
	CreateRequest(ctx context.Context, req *model.PurchaseRequest) error
	FindRequest(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]model.PurchaseRequest, int64, error)

	LockAndLoad(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error)
	Commit(ctx context.Context, req *model.PurchaseRequest, approval *model.Approval, po *model.PurchaseOrder) error
	UpdateRequest(ctx context.Context, req *model.PurchaseRequest) error
	DeleteRequest(ctx context.Context, id uuid.UUID) error
	ListApprovals(ctx context.Context, requestID uuid.UUID) ([]model.Approval, error)

	NextPONumber(ctx context.Context, prefix string) (int64, error)
	FindPurchaseOrder(ctx context.Context, id uuid.UUID) (*model.PurchaseOrder, error)
	FindPurchaseOrderByRequest(ctx context.Context, requestID uuid.UUID) (*model.PurchaseOrder, error)
	SetPurchaseOrderDocument(ctx context.Context, id uuid.UUID, ref string) error

	CreateReceipt(ctx context.Context, receipt *model.Receipt) error
	FindReceipt(ctx context.Context, id uuid.UUID) (*model.Receipt, error)
	ListReceipts(ctx context.Context, requestID uuid.UUID) ([]model.Receipt, error)
	UpdateReceiptValidation(ctx context.Context, id uuid.UUID, result string, extracted model.ExtractedReceipt) error
}

type ledgerRepository struct {
	db          *gorm.DB
	lockTimeout time.Duration
}

// NewLedgerRepository returns the Postgres-backed LedgerStore.
// lockTimeout bounds the wait in LockAndLoad; zero waits indefinitely.
func NewLedgerRepository(db *gorm.DB, lockTimeout time.Duration) LedgerStore {
	return &ledgerRepository{db: db, lockTimeout: lockTimeout}
}

func (r *ledgerRepository) CreateRequest(ctx context.Context, req *model.PurchaseRequest) error {
	return translateError(GetDB(ctx, r.db).Create(req).Error)
}

func (r *ledgerRepository) FindRequest(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error) {
	var req model.PurchaseRequest
	err := GetDB(ctx, r.db).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&req, "id = ?", id).Error
	if err != nil {
		return nil, translateError(err)
	}
	return &req, nil
}

func (r *ledgerRepository) ListRequests(ctx context.Context, filter RequestFilter) ([]model.PurchaseRequest, int64, error) {
	var requests []model.PurchaseRequest
	var total int64

	db := GetDB(ctx, r.db)
	scope := func(q *gorm.DB) *gorm.DB {
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.CreatedBy != nil {
			q = q.Where("created_by = ?", *filter.CreatedBy)
		}
		return q
	}

	if err := scope(db.Model(&model.PurchaseRequest{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := pagination.Params{Page: filter.Page, Limit: filter.Limit}.Offset()
	err := scope(db.Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") })).
		Order("created_at DESC").
		Offset(offset).
		Limit(filter.Limit).
		Find(&requests).Error
	if err != nil {
		return nil, 0, err
	}

	return requests, total, nil
}

func (r *ledgerRepository) LockAndLoad(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error) {
	tx, ok := txFromContext(ctx)
	if !ok {
		return nil, ErrNoTransaction
	}
	tx = tx.WithContext(ctx)

	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if err := tx.Exec(stmt).Error; err != nil {
			return nil, translateError(err)
		}
	}

	var req model.PurchaseRequest
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	if err := tx.Where("purchase_request_id = ?", id).Order("position ASC").Find(&req.Items).Error; err != nil {
		return nil, translateError(err)
	}
	return &req, nil
}

func (r *ledgerRepository) Commit(ctx context.Context, req *model.PurchaseRequest, approval *model.Approval, po *model.PurchaseOrder) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	tx = tx.WithContext(ctx)

	req.UpdatedAt = time.Now()
	if err := tx.Model(&model.PurchaseRequest{}).Where("id = ?", req.ID).
		Updates(map[string]interface{}{"status": req.Status, "updated_at": req.UpdatedAt}).Error; err != nil {
		return translateError(err)
	}
	if approval != nil {
		if err := tx.Create(approval).Error; err != nil {
			return translateError(err)
		}
	}
	if po != nil {
		if err := tx.Create(po).Error; err != nil {
			return translateError(err)
		}
	}
	return nil
}

// UpdateRequest rewrites the editable columns and replaces the items of a locked request.
// Status changes go through Commit.
func (r *ledgerRepository) UpdateRequest(ctx context.Context, req *model.PurchaseRequest) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}
	tx = tx.WithContext(ctx)

	req.UpdatedAt = time.Now()
	res := tx.Model(&model.PurchaseRequest{}).Where("id = ?", req.ID).Updates(map[string]interface{}{
		"title":        req.Title,
		"description":  req.Description,
		"amount":       req.Amount,
		"currency":     req.Currency,
		"vendor_name":  req.VendorName,
		"proforma_ref": req.ProformaRef,
		"updated_at":   req.UpdatedAt,
	})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Where("purchase_request_id = ?", req.ID).Delete(&model.RequestItem{}).Error; err != nil {
		return translateError(err)
	}
	if len(req.Items) == 0 {
		return nil
	}
	for i := range req.Items {
		if req.Items[i].ID == uuid.Nil {
			req.Items[i].ID = uuid.New()
		}
		req.Items[i].PurchaseRequestID = req.ID
		req.Items[i].Position = i
	}
	return translateError(tx.Create(&req.Items).Error)
}

// DeleteRequest removes a locked request. Items, approvals, the purchase order and
// receipts follow through ON DELETE CASCADE; audit rows are kept.
func (r *ledgerRepository) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	tx, ok := txFromContext(ctx)
	if !ok {
		return ErrNoTransaction
	}

	res := tx.WithContext(ctx).Delete(&model.PurchaseRequest{}, "id = ?", id)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ledgerRepository) ListApprovals(ctx context.Context, requestID uuid.UUID) ([]model.Approval, error) {
	var approvals []model.Approval
	err := GetDB(ctx, r.db).
		Where("purchase_request_id = ?", requestID).
		Order("created_at ASC").
		Find(&approvals).Error
	return approvals, translateError(err)
}

// NextPONumber serializes numbering per prefix with a transaction-scoped advisory lock, so a
// concurrent issuer blocks until this transaction commits and then counts the new row.
func (r *ledgerRepository) NextPONumber(ctx context.Context, prefix string) (int64, error) {
	tx, ok := txFromContext(ctx)
	if !ok {
		return 0, ErrNoTransaction
	}
	tx = tx.WithContext(ctx)

	if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", prefix).Error; err != nil {
		return 0, translateError(err)
	}

	var count int64
	if err := tx.Model(&model.PurchaseOrder{}).
		Where("po_number LIKE ?", prefix+"%").
		Count(&count).Error; err != nil {
		return 0, translateError(err)
	}
	return count + 1, nil
}

func (r *ledgerRepository) FindPurchaseOrder(ctx context.Context, id uuid.UUID) (*model.PurchaseOrder, error) {
	var po model.PurchaseOrder
	if err := GetDB(ctx, r.db).First(&po, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &po, nil
}

func (r *ledgerRepository) FindPurchaseOrderByRequest(ctx context.Context, requestID uuid.UUID) (*model.PurchaseOrder, error) {
	var po model.PurchaseOrder
	if err := GetDB(ctx, r.db).First(&po, "purchase_request_id = ?", requestID).Error; err != nil {
		return nil, translateError(err)
	}
	return &po, nil
}

func (r *ledgerRepository) SetPurchaseOrderDocument(ctx context.Context, id uuid.UUID, ref string) error {
	res := GetDB(ctx, r.db).Model(&model.PurchaseOrder{}).Where("id = ?", id).Update("document_ref", ref)
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ledgerRepository) CreateReceipt(ctx context.Context, receipt *model.Receipt) error {
	return translateError(GetDB(ctx, r.db).Create(receipt).Error)
}

func (r *ledgerRepository) FindReceipt(ctx context.Context, id uuid.UUID) (*model.Receipt, error) {
	var receipt model.Receipt
	if err := GetDB(ctx, r.db).First(&receipt, "id = ?", id).Error; err != nil {
		return nil, translateError(err)
	}
	return &receipt, nil
}

func (r *ledgerRepository) ListReceipts(ctx context.Context, requestID uuid.UUID) ([]model.Receipt, error) {
	var receipts []model.Receipt
	err := GetDB(ctx, r.db).
		Where("purchase_request_id = ?", requestID).
		Order("created_at ASC").
		Find(&receipts).Error
	return receipts, translateError(err)
}

func (r *ledgerRepository) UpdateReceiptValidation(ctx context.Context, id uuid.UUID, result string, extracted model.ExtractedReceipt) error {
	res := GetDB(ctx, r.db).Model(&model.Receipt{}).Where("id = ?", id).Updates(map[string]interface{}{
		"validation_result": result,
		"extracted_data":    datatypes.NewJSONType(extracted),
		"updated_at":        time.Now(),
	})
	if res.Error != nil {
		return translateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
