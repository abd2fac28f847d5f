package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"procurement/internal/middleware"
	"procurement/internal/model"
	"procurement/internal/service"
	"procurement/internal/storage"
	"procurement/pkg/pagination"
	"procurement/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	receiptsDir  = "receipts"
	proformasDir = "proformas"
)

type PurchaseRequestHandler struct {
	approvalService service.ApprovalService
	receiptService  service.ReceiptService
	files           storage.FileStore
}

func NewPurchaseRequestHandler(
	approvalService service.ApprovalService,
	receiptService service.ReceiptService,
	files storage.FileStore,
) *PurchaseRequestHandler {
	return &PurchaseRequestHandler{
		approvalService: approvalService,
		receiptService:  receiptService,
		files:           files,
	}
}

func (h *PurchaseRequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/api/requests")
	{
		requests.POST("", h.CreateRequest)
		requests.GET("", h.ListRequests)
		requests.GET("/:id", h.GetRequest)
		requests.PUT("/:id", h.ReplaceRequest)
		requests.PATCH("/:id", h.UpdateRequest)
		requests.DELETE("/:id", h.DeleteRequest)
		requests.PUT("/:id/proforma", h.AttachProforma)
		requests.GET("/:id/proforma", h.DownloadProforma)
		requests.GET("/:id/approvals", h.ListApprovals)
		requests.PATCH("/:id/approve", h.ApproveRequest)
		requests.PATCH("/:id/reject", h.RejectRequest)
		requests.POST("/:id/submit-receipt", h.SubmitReceipt)
		requests.GET("/:id/receipts", h.ListReceipts)
		requests.POST("/:id/purchase-order", middleware.RequireRole(model.RoleAdmin), h.IssuePurchaseOrder)
	}
}

// CreateRequest creates a new PENDING purchase request owned by the caller
// @Summary      Create purchase request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreatePurchaseRequestDTO  true  "Create Purchase Request Payload"
// @Success      201      {object}  response.Response{data=service.PurchaseRequestResponse}
// @Failure      400      {object}  response.Response
// @Router       /api/requests [post]
func (h *PurchaseRequestHandler) CreateRequest(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.CreatePurchaseRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.approvalService.CreateRequest(c.Request.Context(), actor, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListRequests returns a paginated list of purchase requests, optionally filtered by status.
// Staff only see their own requests.
// @Summary      List purchase requests
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        status  query     string  false  "Filter by status (PENDING, APPROVED, REJECTED)"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Number of items per page (default 20)"
// @Success      200     {object}  response.Response{data=response.PageData}
// @Failure      500     {object}  response.Response
// @Router       /api/requests [get]
func (h *PurchaseRequestHandler) ListRequests(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	params := pagination.Parse(c)

	filter := service.PurchaseRequestFilter{
		Status: c.Query("status"),
		Page:   params.Page,
		Limit:  params.Limit,
	}

	requests, total, err := h.approvalService.ListRequests(c.Request.Context(), actor, filter)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Page(http.StatusOK, requests, total, params.Page, params.Limit))
}

// GetRequest returns a single purchase request with its items
// @Summary      Get purchase request
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Purchase request ID"
// @Success      200  {object}  response.Response{data=service.PurchaseRequestResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id} [get]
func (h *PurchaseRequestHandler) GetRequest(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	result, err := h.approvalService.GetRequest(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ReplaceRequest overwrites every editable field of a PENDING purchase request
// @Summary      Replace purchase request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                            true  "Purchase request ID"
// @Param        payload  body      service.CreatePurchaseRequestDTO  true  "Full purchase request"
// @Success      200      {object}  response.Response{data=service.PurchaseRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id} [put]
func (h *PurchaseRequestHandler) ReplaceRequest(c *gin.Context) {
	var req service.CreatePurchaseRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}
	h.update(c, req.AsUpdate())
}

// UpdateRequest applies a partial edit to a PENDING purchase request
// @Summary      Update purchase request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                            true  "Purchase request ID"
// @Param        payload  body      service.UpdatePurchaseRequestDTO  true  "Fields to change"
// @Success      200      {object}  response.Response{data=service.PurchaseRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id} [patch]
func (h *PurchaseRequestHandler) UpdateRequest(c *gin.Context) {
	var req service.UpdatePurchaseRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}
	h.update(c, req)
}

func (h *PurchaseRequestHandler) update(c *gin.Context, changes service.UpdatePurchaseRequestDTO) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	result, err := h.approvalService.UpdateRequest(c.Request.Context(), c.Param("id"), actor, changes)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// DeleteRequest deletes a purchase request together with its approvals, purchase order
// and receipts. Requesters may only withdraw PENDING requests.
// @Summary      Delete purchase request
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Purchase request ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/requests/{id} [delete]
func (h *PurchaseRequestHandler) DeleteRequest(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	files, err := h.approvalService.DeleteRequest(ctx, c.Param("id"), actor)
	if err != nil {
		writeError(c, err)
		return
	}
	for _, ref := range files {
		h.discard(ctx, ref)
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Purchase request deleted"}))
}

// AttachProforma uploads the vendor proforma of a PENDING purchase request, replacing any
// earlier one
// @Summary      Attach proforma
// @Tags         requests
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id        path      string  true  "Purchase request ID"
// @Param        proforma  formData  file    true  "Proforma file"
// @Success      200       {object}  response.Response{data=service.PurchaseRequestResponse}
// @Failure      400       {object}  response.Response
// @Failure      404       {object}  response.Response
// @Failure      409       {object}  response.Response
// @Router       /api/requests/{id}/proforma [put]
func (h *PurchaseRequestHandler) AttachProforma(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	ref, ok := h.saveUpload(c, "proforma", proformasDir)
	if !ok {
		return
	}

	result, replaced, err := h.approvalService.AttachProforma(ctx, c.Param("id"), actor, ref)
	if err != nil {
		if ref != "" {
			h.discard(ctx, ref)
		}
		writeError(c, err)
		return
	}
	if replaced != "" {
		h.discard(ctx, replaced)
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// DownloadProforma streams the proforma attached to a purchase request
// @Summary      Download proforma
// @Tags         requests
// @Security     BearerAuth
// @Produce      octet-stream
// @Param        id   path      string  true  "Purchase request ID"
// @Success      200  {file}    file
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id}/proforma [get]
func (h *PurchaseRequestHandler) DownloadProforma(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	pr, err := h.approvalService.GetRequest(ctx, actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if pr.Proforma == "" {
		c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "No proforma attached"))
		return
	}

	rc, err := h.files.Open(ctx, pr.Proforma)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, response.Error(http.StatusNotFound, "Proforma file is missing"))
			return
		}
		writeError(c, err)
		return
	}
	defer rc.Close()

	streamFile(c, rc, pr.Proforma)
}

// ListApprovals returns the approval history of a purchase request, oldest first
// @Summary      List approvals
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Purchase request ID"
// @Success      200  {object}  response.Response{data=[]service.ApprovalResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id}/approvals [get]
func (h *PurchaseRequestHandler) ListApprovals(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	result, err := h.approvalService.ListApprovals(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ApproveRequest records an approval at the given level, 1 when omitted. Level 2 and above
// approves the request and issues its purchase order.
// @Summary      Approve purchase request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                      true  "Purchase request ID"
// @Param        payload  body      service.ApproveRequestDTO  false  "Approval level and comment"
// @Success      200      {object}  response.Response{data=service.PurchaseRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/requests/{id}/approve [patch]
func (h *PurchaseRequestHandler) ApproveRequest(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.ApproveRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.approvalService.Approve(c.Request.Context(), c.Param("id"), actor, req.DecisionLevel(), req.Comment)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// RejectRequest rejects a pending purchase request. A reason is required; level defaults to 1.
// @Summary      Reject purchase request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Purchase request ID"
// @Param        payload  body      service.RejectRequestDTO  true  "Approval level and reason"
// @Success      200      {object}  response.Response{data=service.PurchaseRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/requests/{id}/reject [patch]
func (h *PurchaseRequestHandler) RejectRequest(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.RejectRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	result, err := h.approvalService.Reject(c.Request.Context(), c.Param("id"), actor, req.DecisionLevel(), req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// SubmitReceipt attaches a receipt file to an approved purchase request
// @Summary      Submit receipt
// @Tags         requests
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id       path      string  true   "Purchase request ID"
// @Param        receipt  formData  file    true   "Receipt file"
// @Param        notes    formData  string  false  "Notes"
// @Success      201      {object}  response.Response{data=service.ReceiptResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      422      {object}  response.Response
// @Router       /api/requests/{id}/submit-receipt [post]
func (h *PurchaseRequestHandler) SubmitReceipt(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	ref, ok := h.saveUpload(c, "receipt", receiptsDir)
	if !ok {
		return
	}

	result, err := h.receiptService.SubmitReceipt(ctx, c.Param("id"), actor, ref, c.PostForm("notes"))
	if err != nil {
		if ref != "" {
			h.discard(ctx, ref)
		}
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// ListReceipts returns the receipts attached to a purchase request
// @Summary      List receipts
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Purchase request ID"
// @Success      200  {object}  response.Response{data=[]service.ReceiptResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id}/receipts [get]
func (h *PurchaseRequestHandler) ListReceipts(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	result, err := h.receiptService.ListReceipts(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// IssuePurchaseOrder issues the purchase order of an approved request that has none
// @Summary      Issue purchase order
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Purchase request ID"
// @Success      201  {object}  response.Response{data=service.PurchaseOrderResponse}
// @Failure      409  {object}  response.Response
// @Failure      422  {object}  response.Response
// @Router       /api/requests/{id}/purchase-order [post]
func (h *PurchaseRequestHandler) IssuePurchaseOrder(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	result, err := h.approvalService.IssuePurchaseOrder(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, result))
}

// saveUpload stores the multipart file in field under dir. A missing file yields an empty
// reference so the service can report it; ok is false once an error response was written.
func (h *PurchaseRequestHandler) saveUpload(c *gin.Context, field, dir string) (string, bool) {
	fileHeader, err := c.FormFile(field)
	if err != nil {
		return "", true
	}
	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Failed to read "+field+" file: "+err.Error()))
		return "", false
	}
	defer f.Close()

	ref, err := h.files.Save(c.Request.Context(), dir, fileHeader.Filename, f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to store "+field+" file: "+err.Error()))
		return "", false
	}
	return ref, true
}

func (h *PurchaseRequestHandler) discard(ctx context.Context, ref string) {
	if err := h.files.Remove(ctx, ref); err != nil {
		log.Printf("failed to remove file %s: %v", ref, err)
	}
}
