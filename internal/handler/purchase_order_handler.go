package handler

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"procurement/internal/service"
	"procurement/pkg/response"

	"github.com/gin-gonic/gin"
)

type PurchaseOrderHandler struct {
	poService service.PurchaseOrderService
}

func NewPurchaseOrderHandler(poService service.PurchaseOrderService) *PurchaseOrderHandler {
	return &PurchaseOrderHandler{poService: poService}
}

func (h *PurchaseOrderHandler) RegisterRoutes(router *gin.RouterGroup) {
	orders := router.Group("/api/purchase-orders")
	{
		orders.GET("/:id", h.GetPurchaseOrder)
		orders.GET("/:id/document", h.DownloadDocument)
	}
	router.GET("/api/requests/:id/purchase-order", h.GetPurchaseOrderByRequest)
}

// GetPurchaseOrder returns an issued purchase order
// @Summary      Get purchase order
// @Tags         purchase-orders
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Purchase order ID"
// @Success      200  {object}  response.Response{data=service.PurchaseOrderResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/purchase-orders/{id} [get]
func (h *PurchaseOrderHandler) GetPurchaseOrder(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	result, err := h.poService.GetPurchaseOrder(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// GetPurchaseOrderByRequest returns the purchase order issued for a request
// @Summary      Get purchase order of a request
// @Tags         purchase-orders
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Purchase request ID"
// @Success      200  {object}  response.Response{data=service.PurchaseOrderResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id}/purchase-order [get]
func (h *PurchaseOrderHandler) GetPurchaseOrderByRequest(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	result, err := h.poService.GetPurchaseOrderByRequest(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// DownloadDocument streams the purchase order document, rendering it on first download
// @Summary      Download purchase order document
// @Tags         purchase-orders
// @Security     BearerAuth
// @Produce      octet-stream
// @Param        id   path      string  true  "Purchase order ID"
// @Success      200  {file}    file
// @Failure      404  {object}  response.Response
// @Router       /api/purchase-orders/{id}/document [get]
func (h *PurchaseOrderHandler) DownloadDocument(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	rc, ref, err := h.poService.OpenDocument(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()

	streamFile(c, rc, ref)
}

// streamFile sends a stored file as an attachment named after its original upload.
func streamFile(c *gin.Context, r io.Reader, ref string) {
	name := documentName(ref)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	c.DataFromReader(http.StatusOK, -1, contentType, r, map[string]string{
		"Content-Disposition": `attachment; filename="` + name + `"`,
	})
}

// documentName strips the storage prefix from a file reference.
func documentName(ref string) string {
	name := path.Base(ref)
	if i := strings.Index(name, "_"); i >= 0 && i < len(name)-1 {
		name = name[i+1:]
	}
	return name
}
