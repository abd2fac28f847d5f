package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"procurement/internal/model"
	"procurement/pkg/pagination"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const memTxKey contextKey = "memory_tx"

// MemoryLedger is an in-process LedgerStore, TransactionManager and AuditRepository.
// Each request id has its own lock; writes made inside RunInTx are staged and applied
// together when fn returns nil.
type MemoryLedger struct {
	mu    sync.RWMutex
	state *memState

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}

	seqMu     sync.Mutex
	sequences map[string]int64

	lockTimeout time.Duration
}

type memState struct {
	requests  map[uuid.UUID]model.PurchaseRequest
	approvals []model.Approval
	orders    map[uuid.UUID]model.PurchaseOrder
	receipts  []model.Receipt
	audits    []model.AuditLog
}

type memOp func(s *memState) error

type memTx struct {
	held map[uuid.UUID]chan struct{}
	ops  []memOp
}

// NewMemoryLedger returns an empty ledger. lockTimeout bounds the wait in LockAndLoad;
// zero waits until the context is done.
func NewMemoryLedger(lockTimeout time.Duration) *MemoryLedger {
	return &MemoryLedger{
		state: &memState{
			requests: make(map[uuid.UUID]model.PurchaseRequest),
			orders:   make(map[uuid.UUID]model.PurchaseOrder),
		},
		locks:       make(map[uuid.UUID]chan struct{}),
		sequences:   make(map[string]int64),
		lockTimeout: lockTimeout,
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		requests:  make(map[uuid.UUID]model.PurchaseRequest, len(s.requests)),
		approvals: append([]model.Approval(nil), s.approvals...),
		orders:    make(map[uuid.UUID]model.PurchaseOrder, len(s.orders)),
		receipts:  append([]model.Receipt(nil), s.receipts...),
		audits:    append([]model.AuditLog(nil), s.audits...),
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	return c
}

func cloneRequest(r model.PurchaseRequest) model.PurchaseRequest {
	r.Items = append([]model.RequestItem(nil), r.Items...)
	return r
}

func cloneOrder(po model.PurchaseOrder) model.PurchaseOrder {
	po.Items = datatypes.NewJSONType(po.LineItems())
	return po
}

// RunInTx runs fn with a staged transaction. Row locks are released after the staged
// writes are applied or discarded.
func (m *MemoryLedger) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey).(*memTx); ok {
		return fn(ctx)
	}
	tx := &memTx{held: make(map[uuid.UUID]chan struct{})}
	defer tx.release()

	if err := fn(context.WithValue(ctx, memTxKey, tx)); err != nil {
		return err
	}
	return m.apply(tx.ops...)
}

func (tx *memTx) release() {
	for id, ch := range tx.held {
		<-ch
		delete(tx.held, id)
	}
}

// apply runs ops against a copy of the state and swaps it in only if every op succeeds.
func (m *MemoryLedger) apply(ops ...memOp) error {
	if len(ops) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state.clone()
	for _, op := range ops {
		if err := op(next); err != nil {
			return err
		}
	}
	m.state = next
	return nil
}

// write stages op on the context's transaction, or applies it immediately outside one.
func (m *MemoryLedger) write(ctx context.Context, op memOp) error {
	if tx, ok := ctx.Value(memTxKey).(*memTx); ok {
		tx.ops = append(tx.ops, op)
		return nil
	}
	return m.apply(op)
}

func (m *MemoryLedger) rowLock(id uuid.UUID) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	ch, ok := m.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[id] = ch
	}
	return ch
}

func (m *MemoryLedger) acquire(ctx context.Context, tx *memTx, id uuid.UUID) error {
	if _, ok := tx.held[id]; ok {
		return nil
	}
	ch := m.rowLock(id)

	var timeout <-chan time.Time
	if m.lockTimeout > 0 {
		timer := time.NewTimer(m.lockTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case ch <- struct{}{}:
		tx.held[id] = ch
		return nil
	case <-timeout:
		return fmt.Errorf("%w: purchase request %s", ErrLockTimeout, id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryLedger) CreateRequest(ctx context.Context, req *model.PurchaseRequest) error {
	now := time.Now()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = model.StatusPending
	}
	req.CreatedAt, req.UpdatedAt = now, now
	for i := range req.Items {
		if req.Items[i].ID == uuid.Nil {
			req.Items[i].ID = uuid.New()
		}
		req.Items[i].PurchaseRequestID = req.ID
	}

	stored := cloneRequest(*req)
	return m.write(ctx, func(s *memState) error {
		if _, exists := s.requests[stored.ID]; exists {
			return fmt.Errorf("%w: purchase request %s", ErrDuplicate, stored.ID)
		}
		s.requests[stored.ID] = stored
		return nil
	})
}

func (m *MemoryLedger) FindRequest(_ context.Context, id uuid.UUID) (*model.PurchaseRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.state.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneRequest(req)
	return &out, nil
}

func (m *MemoryLedger) ListRequests(_ context.Context, filter RequestFilter) ([]model.PurchaseRequest, int64, error) {
	m.mu.RLock()
	matched := make([]model.PurchaseRequest, 0, len(m.state.requests))
	for _, req := range m.state.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != nil && req.CreatedBy != *filter.CreatedBy {
			continue
		}
		matched = append(matched, cloneRequest(req))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	offset := pagination.Params{Page: filter.Page, Limit: filter.Limit}.Offset()
	if offset < 0 || offset >= len(matched) {
		return []model.PurchaseRequest{}, total, nil
	}
	end := offset + filter.Limit
	if filter.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (m *MemoryLedger) LockAndLoad(ctx context.Context, id uuid.UUID) (*model.PurchaseRequest, error) {
	tx, ok := ctx.Value(memTxKey).(*memTx)
	if !ok {
		return nil, ErrNoTransaction
	}
	if err := m.acquire(ctx, tx, id); err != nil {
		return nil, err
	}
	return m.FindRequest(ctx, id)
}

func (m *MemoryLedger) Commit(ctx context.Context, req *model.PurchaseRequest, approval *model.Approval, po *model.PurchaseOrder) error {
	tx, ok := ctx.Value(memTxKey).(*memTx)
	if !ok {
		return ErrNoTransaction
	}
	if _, held := tx.held[req.ID]; !held {
		return fmt.Errorf("commit of purchase request %s without its row lock", req.ID)
	}

	now := time.Now()
	req.UpdatedAt = now
	status := req.Status

	var storedApproval *model.Approval
	if approval != nil {
		if approval.ID == uuid.Nil {
			approval.ID = uuid.New()
		}
		approval.CreatedAt = now
		a := *approval
		storedApproval = &a
	}

	var storedOrder *model.PurchaseOrder
	if po != nil {
		if po.ID == uuid.Nil {
			po.ID = uuid.New()
		}
		po.GeneratedAt = now
		o := cloneOrder(*po)
		storedOrder = &o
	}

	return m.write(ctx, func(s *memState) error {
		current, ok := s.requests[req.ID]
		if !ok {
			return ErrNotFound
		}
		if storedOrder != nil {
			for _, existing := range s.orders {
				if existing.PurchaseRequestID == storedOrder.PurchaseRequestID {
					return fmt.Errorf("%w: purchase order for request %s", ErrDuplicate, storedOrder.PurchaseRequestID)
				}
				if existing.PONumber == storedOrder.PONumber {
					return fmt.Errorf("%w: po_number %s", ErrDuplicate, storedOrder.PONumber)
				}
			}
			s.orders[storedOrder.ID] = *storedOrder
		}
		current.Status = status
		current.UpdatedAt = now
		s.requests[req.ID] = current
		if storedApproval != nil {
			s.approvals = append(s.approvals, *storedApproval)
		}
		return nil
	})
}

func (m *MemoryLedger) UpdateRequest(ctx context.Context, req *model.PurchaseRequest) error {
	tx, ok := ctx.Value(memTxKey).(*memTx)
	if !ok {
		return ErrNoTransaction
	}
	if _, held := tx.held[req.ID]; !held {
		return fmt.Errorf("update of purchase request %s without its row lock", req.ID)
	}

	req.UpdatedAt = time.Now()
	for i := range req.Items {
		if req.Items[i].ID == uuid.Nil {
			req.Items[i].ID = uuid.New()
		}
		req.Items[i].PurchaseRequestID = req.ID
		req.Items[i].Position = i
	}
	edited := cloneRequest(*req)

	return m.write(ctx, func(s *memState) error {
		current, ok := s.requests[edited.ID]
		if !ok {
			return ErrNotFound
		}
		current.Title = edited.Title
		current.Description = edited.Description
		current.Amount = edited.Amount
		current.Currency = edited.Currency
		current.VendorName = edited.VendorName
		current.ProformaRef = edited.ProformaRef
		current.Items = edited.Items
		current.UpdatedAt = edited.UpdatedAt
		s.requests[edited.ID] = current
		return nil
	})
}

// DeleteRequest drops a locked request together with its approvals, purchase order and
// receipts. Audit rows are kept.
func (m *MemoryLedger) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	tx, ok := ctx.Value(memTxKey).(*memTx)
	if !ok {
		return ErrNoTransaction
	}
	if _, held := tx.held[id]; !held {
		return fmt.Errorf("delete of purchase request %s without its row lock", id)
	}

	return m.write(ctx, func(s *memState) error {
		if _, ok := s.requests[id]; !ok {
			return ErrNotFound
		}
		delete(s.requests, id)

		approvals := s.approvals[:0:0]
		for _, a := range s.approvals {
			if a.PurchaseRequestID != id {
				approvals = append(approvals, a)
			}
		}
		s.approvals = approvals

		receipts := s.receipts[:0:0]
		for _, r := range s.receipts {
			if r.PurchaseRequestID != id {
				receipts = append(receipts, r)
			}
		}
		s.receipts = receipts

		for poID, po := range s.orders {
			if po.PurchaseRequestID == id {
				delete(s.orders, poID)
			}
		}
		return nil
	})
}

func (m *MemoryLedger) ListApprovals(_ context.Context, requestID uuid.UUID) ([]model.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Approval, 0)
	for _, a := range m.state.approvals {
		if a.PurchaseRequestID == requestID {
			out = append(out, a)
		}
	}
	return out, nil
}

// NextPONumber hands out increasing numbers per prefix. Numbers taken by a rolled back
// transaction are not reused.
func (m *MemoryLedger) NextPONumber(ctx context.Context, prefix string) (int64, error) {
	if _, ok := ctx.Value(memTxKey).(*memTx); !ok {
		return 0, ErrNoTransaction
	}
	m.seqMu.Lock()
	defer m.seqMu.Unlock()

	seq, seen := m.sequences[prefix]
	if !seen {
		m.mu.RLock()
		for _, po := range m.state.orders {
			if strings.HasPrefix(po.PONumber, prefix) {
				seq++
			}
		}
		m.mu.RUnlock()
	}
	seq++
	m.sequences[prefix] = seq
	return seq, nil
}

func (m *MemoryLedger) FindPurchaseOrder(_ context.Context, id uuid.UUID) (*model.PurchaseOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	po, ok := m.state.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneOrder(po)
	return &out, nil
}

func (m *MemoryLedger) FindPurchaseOrderByRequest(_ context.Context, requestID uuid.UUID) (*model.PurchaseOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, po := range m.state.orders {
		if po.PurchaseRequestID == requestID {
			out := cloneOrder(po)
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryLedger) SetPurchaseOrderDocument(ctx context.Context, id uuid.UUID, ref string) error {
	return m.write(ctx, func(s *memState) error {
		po, ok := s.orders[id]
		if !ok {
			return ErrNotFound
		}
		po.DocumentRef = ref
		s.orders[id] = po
		return nil
	})
}

func (m *MemoryLedger) CreateReceipt(ctx context.Context, receipt *model.Receipt) error {
	now := time.Now()
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	receipt.CreatedAt, receipt.UpdatedAt = now, now
	stored := *receipt

	return m.write(ctx, func(s *memState) error {
		if _, ok := s.requests[stored.PurchaseRequestID]; !ok {
			return ErrNotFound
		}
		s.receipts = append(s.receipts, stored)
		return nil
	})
}

func (m *MemoryLedger) FindReceipt(_ context.Context, id uuid.UUID) (*model.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, r := range m.state.receipts {
		if r.ID == id {
			out := r
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryLedger) ListReceipts(_ context.Context, requestID uuid.UUID) ([]model.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Receipt, 0)
	for _, r := range m.state.receipts {
		if r.PurchaseRequestID == requestID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryLedger) UpdateReceiptValidation(ctx context.Context, id uuid.UUID, result string, extracted model.ExtractedReceipt) error {
	now := time.Now()
	return m.write(ctx, func(s *memState) error {
		for i := range s.receipts {
			if s.receipts[i].ID == id {
				s.receipts[i].ValidationResult = result
				s.receipts[i].ExtractedData = datatypes.NewJSONType(extracted)
				s.receipts[i].UpdatedAt = now
				return nil
			}
		}
		return ErrNotFound
	})
}

func (m *MemoryLedger) Log(ctx context.Context, entry *model.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	stored := *entry
	return m.write(ctx, func(s *memState) error {
		s.audits = append(s.audits, stored)
		return nil
	})
}

func (m *MemoryLedger) List(_ context.Context, page, limit int) ([]model.AuditLog, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := int64(len(m.state.audits))
	out := make([]model.AuditLog, 0, limit)
	// newest first
	start := len(m.state.audits) - 1 - pagination.Params{Page: page, Limit: limit}.Offset()
	for i := start; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.state.audits[i])
	}
	return out, total, nil
}
