package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hummel22/bambuQueue/internal/watcher"
)

type ImportFilesRequest struct {
	Paths []string `json:"paths" binding:"required"`
}

type ReadyImportsResponse struct {
	Count      int                 `json:"count"`
	Candidates []watcher.Candidate `json:"candidates"`
}

// ImportHandler exposes the import watcher's ready set and the explicit
// import action.
type ImportHandler struct {
	watcher *watcher.Watcher
}

func NewImportHandler(w *watcher.Watcher) *ImportHandler {
	return &ImportHandler{watcher: w}
}

func (h *ImportHandler) GetReadyImports(c *gin.Context) {
	candidates := h.watcher.ReadyCandidates()
	c.JSON(http.StatusOK, ReadyImportsResponse{
		Count:      len(candidates),
		Candidates: candidates,
	})
}

func (h *ImportHandler) ImportFiles(c *gin.Context) {
	var req ImportFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Paths) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no paths provided"})
		return
	}

	if err := h.watcher.ImportFiles(c.Request.Context(), req.Paths); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"imported": len(req.Paths)})
}
