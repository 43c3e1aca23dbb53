package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const apiVersion = "2.0.0"

type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

// GET /
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Mangalytics API is running",
		"status":  "healthy",
		"version": apiVersion,
	})
}

// GET /healthz
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
