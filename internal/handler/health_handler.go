package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports that the API process is up
// @Summary      Health check
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "procure-to-pay"})
}
