// Package api exposes the fraud analysis pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/fingaurd/fraud-engine/internal/anomaly"
	"github.com/fingaurd/fraud-engine/internal/features"
	"github.com/fingaurd/fraud-engine/internal/models"
	"github.com/fingaurd/fraud-engine/internal/queue"
	"github.com/fingaurd/fraud-engine/internal/scoring"
)

// AnalyzeRequest represents an incoming transaction analysis request
type AnalyzeRequest struct {
	TransactionID string  `json:"transaction_id" binding:"required"`
	UserID        string  `json:"user_id" binding:"required"`
	Amount        float64 `json:"amount"`
	Category      string  `json:"category"`
	Type          string  `json:"transaction_type" binding:"omitempty,oneof=INCOME EXPENSE"`
	Timestamp     string  `json:"transaction_date" binding:"required"`
	Description   string  `json:"description"`
}

// BatchRequest represents a batch of transactions to analyze
type BatchRequest struct {
	Transactions []AnalyzeRequest `json:"transactions" binding:"required,min=1,max=1000"`
}

// BatchItemResponse is the per-transaction outcome in a batch response
type BatchItemResponse struct {
	TransactionID string                 `json:"transaction_id"`
	Result        *models.AnalysisResult `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// BatchResponse represents the response for batch analysis
type BatchResponse struct {
	Successful int                 `json:"successful"`
	Failed     int                 `json:"failed"`
	Results    []BatchItemResponse `json:"results"`
}

// EnqueueResponse acknowledges an async analysis submission
type EnqueueResponse struct {
	MessageID     string `json:"message_id"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// HealthChecker reports backing-store connectivity for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler exposes the scoring service over HTTP
type Handler struct {
	service *scoring.Service
	stream  *queue.RedisStreamClient // nil when async submission is disabled
	db      HealthChecker            // nil when no database backs this instance
}

// NewHandler creates an API handler
func NewHandler(service *scoring.Service, stream *queue.RedisStreamClient, db HealthChecker) *Handler {
	return &Handler{service: service, stream: stream, db: db}
}

// RegisterRoutes attaches all routes to the router
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)
	router.GET("/ready", h.ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1/fraud")
	{
		v1.POST("/analyze", h.analyze)
		v1.POST("/analyze/batch", h.analyzeBatch)
		v1.POST("/enqueue", h.enqueue)
		v1.GET("/models", h.modelInfo)
		v1.POST("/models/train", h.train)
		v1.POST("/models/rollback", h.rollback)
	}
}

func (h *Handler) health(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "unhealthy",
				"error":     "database unreachable",
				"timestamp": time.Now().Format(time.RFC3339),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (h *Handler) ready(c *gin.Context) {
	if !h.service.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": "no model loaded",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (h *Handler) analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := req.record()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Analyze(c.Request.Context(), tx)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) analyzeBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := BatchResponse{Results: make([]BatchItemResponse, len(req.Transactions))}

	txs := make([]*models.TransactionRecord, 0, len(req.Transactions))
	pos := make([]int, 0, len(req.Transactions)) // original index of each parsed record
	for i, item := range req.Transactions {
		tx, err := item.record()
		if err != nil {
			resp.Failed++
			resp.Results[i] = BatchItemResponse{TransactionID: item.TransactionID, Error: err.Error()}
			continue
		}
		txs = append(txs, tx)
		pos = append(pos, i)
	}

	for i, item := range h.service.AnalyzeBatch(c.Request.Context(), txs) {
		if item.Err != nil {
			resp.Failed++
			resp.Results[pos[i]] = BatchItemResponse{TransactionID: item.TransactionID, Error: item.Err.Error()}
			continue
		}
		resp.Successful++
		resp.Results[pos[i]] = BatchItemResponse{TransactionID: item.TransactionID, Result: item.Result}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) enqueue(c *gin.Context) {
	if h.stream == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "async analysis is not enabled"})
		return
	}

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := req.record()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := &models.TransactionEvent{
		TransactionID: tx.TransactionID,
		UserID:        tx.UserID,
		Amount:        tx.Amount,
		Category:      tx.Category,
		Type:          tx.Type,
		Timestamp:     tx.Timestamp,
		Description:   tx.Description,
	}

	msgID, err := h.stream.Publish(c.Request.Context(), event)
	if err != nil {
		log.Error().Err(err).Str("transaction_id", tx.TransactionID).Msg("Failed to enqueue transaction")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue transaction"})
		return
	}

	c.JSON(http.StatusAccepted, EnqueueResponse{
		MessageID:     msgID,
		TransactionID: tx.TransactionID,
		Status:        "queued",
	})
}

func (h *Handler) modelInfo(c *gin.Context) {
	info, err := h.service.ModelInfo()
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// TrainRequest optionally bounds the training set for one run
type TrainRequest struct {
	SampleWindowDays int `json:"sample_window_days" binding:"omitempty,min=1"`
	SampleLimit      int `json:"sample_limit" binding:"omitempty,min=1"`
}

func (h *Handler) train(c *gin.Context) {
	var req TrainRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	opts := scoring.TrainOptions{
		SampleWindow: time.Duration(req.SampleWindowDays) * 24 * time.Hour,
		SampleLimit:  req.SampleLimit,
	}

	info, err := h.service.Train(c.Request.Context(), opts)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "model trained and published",
		"model":   info,
	})
}

func (h *Handler) rollback(c *gin.Context) {
	info, err := h.service.Rollback()
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "model rolled back",
		"model":   info,
	})
}

// record converts the request into a transaction record, parsing the
// timestamp as RFC 3339 or a bare datetime taken as UTC.
func (r *AnalyzeRequest) record() (*models.TransactionRecord, error) {
	ts, err := parseTimestamp(r.Timestamp)
	if err != nil {
		return nil, err
	}

	return &models.TransactionRecord{
		TransactionID: r.TransactionID,
		UserID:        r.UserID,
		Amount:        r.Amount,
		Category:      r.Category,
		Type:          r.Type,
		Timestamp:     ts,
		Description:   r.Description,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid transaction_date %q, expected RFC 3339", s)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var invalid *features.InvalidInputError
	var insufficient *anomaly.InsufficientDataError

	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, anomaly.ErrNoModelLoaded):
		return http.StatusServiceUnavailable
	case errors.Is(err, anomaly.ErrNoPreviousModel):
		return http.StatusConflict
	case errors.As(err, &insufficient):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
