package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hummel22/bambuQueue/internal/db"
)

type PrinterHandler struct {
	store *db.Store
}

func NewPrinterHandler(store *db.Store) *PrinterHandler {
	return &PrinterHandler{store: store}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	printers, err := h.store.ListPrinters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list printers"})
		return
	}
	if printers == nil {
		printers = []*db.Printer{}
	}
	c.JSON(http.StatusOK, gin.H{"printers": printers})
}
