package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"channel-summarizer-go/internal/delivery"
	"channel-summarizer-go/internal/pipeline"
	"channel-summarizer-go/internal/scheduler"
	"channel-summarizer-go/internal/store"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	db        *gorm.DB
	pipeline  *pipeline.Pipeline
	summaries store.SummaryStore
	attempts  store.DeliveryStore
	delivery  *delivery.Machine
	scheduler *scheduler.Scheduler
}

// NewHandlers creates new HTTP handlers
func NewHandlers(db *gorm.DB, p *pipeline.Pipeline, summaries store.SummaryStore, attempts store.DeliveryStore, d *delivery.Machine, s *scheduler.Scheduler) *Handlers {
	return &Handlers{
		db:        db,
		pipeline:  p,
		summaries: summaries,
		attempts:  attempts,
		delivery:  d,
		scheduler: s,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.POST("/summaries/run", h.RunSummary)
		api.GET("/summaries", h.ListSummaries)
		api.GET("/summaries/:id", h.GetSummary)
		api.PATCH("/summaries/:id", h.UpdateSummary)
		api.POST("/summaries/:id/deliver", h.DeliverSummary)

		api.GET("/deliveries", h.ListDeliveries)

		api.POST("/sweep/start", h.StartSweeper)
		api.POST("/sweep/stop", h.StopSweeper)
		api.POST("/sweep/run-once", h.RunSweepOnce)
		api.GET("/sweep/status", h.GetSweeperStatus)
	}
}
