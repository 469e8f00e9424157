package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"channel-summarizer-go/internal/delivery"
	"channel-summarizer-go/internal/fetcher"
	"channel-summarizer-go/internal/model"
	"channel-summarizer-go/internal/pipeline"
	"channel-summarizer-go/internal/store"
	"channel-summarizer-go/internal/summarizer"
)

// RunSummary triggers one summarization run
func (h *Handlers) RunSummary(c *gin.Context) {
	var req model.RunSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Error:   "validation_error",
			Message: "Invalid request body: channel_id and user_id are required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	run := pipeline.Request{
		ChannelID:      req.ChannelID,
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		Model:          req.Model,
		Deliver:        req.Deliver,
		Target:         req.Target,
	}
	if req.Oldest != nil {
		run.Oldest = *req.Oldest
	}
	if req.Latest != nil {
		run.Latest = *req.Latest
	}

	result, err := h.pipeline.Run(c.Request.Context(), run)
	if err != nil {
		h.renderRunError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// renderRunError maps pipeline failures to HTTP responses
func (h *Handlers) renderRunError(c *gin.Context, err error) {
	var rle *pipeline.RateLimitError
	if errors.As(err, &rle) {
		c.Header("Retry-After", strconv.Itoa(int(time.Until(rle.ResetAt).Seconds())+1))
		c.JSON(http.StatusTooManyRequests, model.ErrorResponse{
			Error:   "rate_limited",
			Message: err.Error(),
			Code:    http.StatusTooManyRequests,
		})
		return
	}

	if errors.Is(err, pipeline.ErrNothingToSummarize) {
		c.JSON(http.StatusUnprocessableEntity, model.ErrorResponse{
			Error:   "nothing_to_summarize",
			Message: "No conversational messages in the requested window",
			Code:    http.StatusUnprocessableEntity,
		})
		return
	}

	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		if fe.Kind == fetcher.KindUnauthorized {
			c.JSON(http.StatusUnauthorized, model.ErrorResponse{
				Error:   "reconnect_integration",
				Message: "The workspace token was rejected, reconnect the integration",
				Code:    http.StatusUnauthorized,
			})
			return
		}
		c.JSON(http.StatusBadGateway, model.ErrorResponse{
			Error:   "channel_fetch_failed",
			Message: err.Error(),
			Code:    http.StatusBadGateway,
		})
		return
	}

	var ue *summarizer.UpstreamError
	if errors.As(err, &ue) {
		switch ue.Kind {
		case summarizer.QuotaExceeded:
			c.JSON(http.StatusTooManyRequests, model.ErrorResponse{
				Error:   "quota_exceeded",
				Message: err.Error(),
				Code:    http.StatusTooManyRequests,
			})
		case summarizer.UpstreamRejected:
			c.JSON(http.StatusBadRequest, model.ErrorResponse{
				Error:   "upstream_rejected",
				Message: err.Error(),
				Code:    http.StatusBadRequest,
			})
		default:
			c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
				Error:   "upstream_unavailable",
				Message: err.Error(),
				Code:    http.StatusServiceUnavailable,
			})
		}
		return
	}

	var pe *pipeline.PersistenceError
	if errors.As(err, &pe) {
		logrus.Errorf("Summary persistence failed: %v", err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to persist summary",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	logrus.Errorf("Summarization run failed: %v", err)
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Error:   "internal_error",
		Message: err.Error(),
		Code:    http.StatusInternalServerError,
	})
}

// ListSummaries returns a filtered summary page
func (h *Handlers) ListSummaries(c *gin.Context) {
	filter := store.ListFilter{
		OwnerID:         c.Query("owner_id"),
		OrganizationID:  c.Query("organization_id"),
		SourceChannelID: c.Query("channel_id"),
		Search:          c.Query("search"),
	}
	if tags := c.Query("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}
	if after, ok := parseTimeQuery(c, "created_after"); ok {
		filter.CreatedAfter = after
	}
	if before, ok := parseTimeQuery(c, "created_before"); ok {
		filter.CreatedBefore = before
	}
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "0"))
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := h.summaries.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Error:   "database_error",
			Message: "Failed to fetch summaries",
			Code:    http.StatusInternalServerError,
		})
		return
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = store.DefaultListLimit
	} else if limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	c.JSON(http.StatusOK, model.ListSummariesResponse{
		Items:  items,
		Total:  total,
		Limit:  limit,
		Offset: filter.Offset,
	})
}

// GetSummary returns a single summary by ID
func (h *Handlers) GetSummary(c *gin.Context) {
	id, ok := summaryID(c)
	if !ok {
		return
	}

	summary, err := h.summaries.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "not_found", Message: "Summary not found", Code: http.StatusNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "database_error", Message: "Failed to fetch summary", Code: http.StatusInternalServerError})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// UpdateSummary changes the user-facing annotations of a summary
func (h *Handlers) UpdateSummary(c *gin.Context) {
	id, ok := summaryID(c)
	if !ok {
		return
	}

	var req model.UpdateSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "validation_error", Message: "Invalid request body", Code: http.StatusBadRequest})
		return
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "validation_error", Message: "Rating must be between 1 and 5", Code: http.StatusBadRequest})
		return
	}

	summary, err := h.summaries.Update(c.Request.Context(), id, store.SummaryPatch{
		Rating: req.Rating,
		Tags:   req.Tags,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "not_found", Message: "Summary not found", Code: http.StatusNotFound})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "database_error", Message: "Failed to update summary", Code: http.StatusInternalServerError})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// DeliverSummary posts an already persisted summary to a destination
func (h *Handlers) DeliverSummary(c *gin.Context) {
	id, ok := summaryID(c)
	if !ok {
		return
	}

	var req struct {
		Target string `json:"target" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "validation_error", Message: "target is required", Code: http.StatusBadRequest})
		return
	}

	attempt, err := h.delivery.Deliver(c.Request.Context(), id, req.Target)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, model.ErrorResponse{Error: "not_found", Message: "Summary not found", Code: http.StatusNotFound})
			return
		}
		if errors.Is(err, delivery.ErrAlreadyDelivered) {
			c.JSON(http.StatusConflict, model.ErrorResponse{Error: "already_delivered", Message: "Summary was already posted", Code: http.StatusConflict})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "delivery_error", Message: err.Error(), Code: http.StatusInternalServerError})
		return
	}

	c.JSON(http.StatusCreated, attempt)
}

// ListDeliveries returns delivery attempts, optionally filtered by status
func (h *Handlers) ListDeliveries(c *gin.Context) {
	status := c.Query("status")
	since := time.Time{}
	if s, ok := parseTimeQuery(c, "since"); ok {
		since = *s
	}

	attempts, err := h.attempts.ListAttempts(c.Request.Context(), status, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: "database_error", Message: "Failed to fetch delivery attempts", Code: http.StatusInternalServerError})
		return
	}

	c.JSON(http.StatusOK, attempts)
}

func summaryID(c *gin.Context) (uint, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: "invalid_id", Message: "Invalid summary ID", Code: http.StatusBadRequest})
		return 0, false
	}
	return uint(id), true
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, false
	}
	return &t, true
}
