package service

import (
	"context"
	"io"
	"testing"

	"procurement/internal/model"
	"procurement/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRenderer struct {
	TextRenderer
	calls int
}

func (r *countingRenderer) Render(ctx context.Context, po model.PurchaseOrder) (Document, error) {
	r.calls++
	return r.TextRenderer.Render(ctx, po)
}

func newDocumentFixture(t *testing.T) (*engine, PurchaseOrderService, *countingRenderer, *storage.LocalFileStore) {
	t.Helper()
	e := newEngine(t)
	files, err := storage.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	renderer := &countingRenderer{}
	return e, NewPurchaseOrderService(e.ledger, e.ledger, renderer, files), renderer, files
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestOpenDocument_RendersOnceAndCaches(t *testing.T) {
	e, svc, renderer, _ := newDocumentFixture(t)
	ctx := context.Background()
	pr := e.approvedRequest(t, staff)

	po, err := svc.GetPurchaseOrderByRequest(ctx, staff, pr.ID)
	require.NoError(t, err)
	assert.False(t, po.HasDocument)
	assert.Equal(t, "250.00", po.TotalAmount)

	rc, ref, err := svc.OpenDocument(ctx, staff, po.ID)
	require.NoError(t, err)
	body := readAll(t, rc)
	assert.Contains(t, body, "PURCHASE ORDER "+po.PONumber)
	assert.Contains(t, body, "Keyboard")
	assert.Contains(t, body, "TOTAL 250.00 USD")
	assert.Contains(t, ref, po.PONumber+".txt")

	rc, again, err := svc.OpenDocument(ctx, admin, po.ID)
	require.NoError(t, err)
	assert.Equal(t, body, readAll(t, rc))
	assert.Equal(t, ref, again)
	assert.Equal(t, 1, renderer.calls)

	po, err = svc.GetPurchaseOrder(ctx, staff, po.ID)
	require.NoError(t, err)
	assert.True(t, po.HasDocument)
	assert.Contains(t, e.auditActions(t), model.ActionRenderPurchaseOrder)
}

func TestOpenDocument_RerendersMissingFile(t *testing.T) {
	e, svc, renderer, files := newDocumentFixture(t)
	ctx := context.Background()
	pr := e.approvedRequest(t, staff)

	po, err := svc.GetPurchaseOrderByRequest(ctx, staff, pr.ID)
	require.NoError(t, err)

	rc, ref, err := svc.OpenDocument(ctx, staff, po.ID)
	require.NoError(t, err)
	readAll(t, rc)

	require.NoError(t, files.Remove(ctx, ref))

	rc, newRef, err := svc.OpenDocument(ctx, staff, po.ID)
	require.NoError(t, err)
	readAll(t, rc)
	assert.NotEqual(t, ref, newRef)
	assert.Equal(t, 2, renderer.calls)
}

func TestPurchaseOrder_Visibility(t *testing.T) {
	e, svc, _, _ := newDocumentFixture(t)
	ctx := context.Background()
	pr := e.approvedRequest(t, staff)
	stranger := model.Actor{ID: uuid.New(), Role: model.RoleStaff}

	po, err := svc.GetPurchaseOrderByRequest(ctx, staff, pr.ID)
	require.NoError(t, err)

	_, err = svc.GetPurchaseOrder(ctx, stranger, po.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = svc.OpenDocument(ctx, stranger, po.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	pending := e.createRequest(t, staff)
	_, err = svc.GetPurchaseOrderByRequest(ctx, staff, pending.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.GetPurchaseOrder(ctx, staff, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
