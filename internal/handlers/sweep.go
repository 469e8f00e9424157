package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// StartSweeper starts the delivery retry sweeper
func (h *Handlers) StartSweeper(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// StopSweeper stops the delivery retry sweeper
func (h *Handlers) StopSweeper(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

// RunSweepOnce triggers one retry sweep immediately
func (h *Handlers) RunSweepOnce(c *gin.Context) {
	retried, succeeded, err := h.delivery.RetrySweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"retried": retried, "succeeded": succeeded})
}

// GetSweeperStatus returns sweeper status
func (h *Handlers) GetSweeperStatus(c *gin.Context) {
	status := "stopped"
	if h.scheduler.IsRunning() {
		status = "running"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"next_run": h.scheduler.GetNextRun(),
		"last_run": h.scheduler.GetLastRun(),
	})
}
