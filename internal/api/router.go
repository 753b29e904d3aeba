package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hummel22/bambuQueue/internal/api/handlers"
	"github.com/hummel22/bambuQueue/internal/config"
	"github.com/hummel22/bambuQueue/internal/db"
	"github.com/hummel22/bambuQueue/internal/telemetry"
	"github.com/hummel22/bambuQueue/internal/watcher"
)

// NewRouter wires the consumer surface the UI relies on: the ready-import
// set, the explicit import action, job history and user status changes.
func NewRouter(cfg *config.Config, store *db.Store, w *watcher.Watcher) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	importHandler := handlers.NewImportHandler(w)
	jobHandler := handlers.NewJobHandler(store, cfg.Paths)
	printerHandler := handlers.NewPrinterHandler(store)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/imports/ready", importHandler.GetReadyImports)
		v1.POST("/imports", importHandler.ImportFiles)
		v1.GET("/jobs/completed", jobHandler.ListCompletedJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.POST("/jobs/:id/status", jobHandler.UpdateJobStatus)
		v1.GET("/printers", printerHandler.ListPrinters)
	}

	router.GET("/metrics", gin.WrapH(telemetry.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}
