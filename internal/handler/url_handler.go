package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Monthlyaway/linktrack/internal/model"
	"github.com/Monthlyaway/linktrack/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// URLHandler handles HTTP requests for URL operations
type URLHandler struct {
	urls     *service.URLService
	resolver *service.Resolver
	analyzer *service.Analyzer
	baseURL  string
	logger   *zap.Logger
}

// NewURLHandler creates a new URL handler instance
func NewURLHandler(urls *service.URLService, resolver *service.Resolver, analyzer *service.Analyzer, baseURL string, logger *zap.Logger) *URLHandler {
	return &URLHandler{
		urls:     urls,
		resolver: resolver,
		analyzer: analyzer,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger.Named("handler"),
	}
}

// CreateShortURLRequest represents the request body for creating a short URL
type CreateShortURLRequest struct {
	LongURL         string   `json:"long_url" binding:"required"`
	ValidityMinutes *float64 `json:"validity_minutes,omitempty"`
	CustomShortCode string   `json:"custom_short_code,omitempty"`
}

// BatchCreateRequest represents the request body for creating several short URLs
type BatchCreateRequest struct {
	URLs []CreateShortURLRequest `json:"urls" binding:"required,dive"`
}

// ShortURLResponse describes a created short URL
type ShortURLResponse struct {
	ShortCode string    `json:"short_code"`
	ShortURL  string    `json:"short_url"`
	LongURL   string    `json:"long_url"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// URLInfoResponse represents a record without its click history
type URLInfoResponse struct {
	ShortCode     string     `json:"short_code"`
	ShortURL      string     `json:"short_url"`
	LongURL       string     `json:"long_url"`
	Clicks        int64      `json:"clicks"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	LastClickedAt *time.Time `json:"last_clicked_at,omitempty"`
}

// ResolveResponse carries the destination of a short code
type ResolveResponse struct {
	LongURL string `json:"long_url"`
}

// Response represents a generic API response
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Register mounts every route on router
func (h *URLHandler) Register(router gin.IRouter) {
	router.GET("/health", h.HealthCheck)
	router.GET("/:short_code", h.Redirect)

	api := router.Group("/api/v1")
	api.POST("/shorten", h.CreateShortURL)
	api.POST("/shorten/batch", h.CreateBatch)
	api.GET("/resolve/:short_code", h.Resolve)
	api.GET("/stats/:short_code", h.GetStats)
	api.GET("/info/:short_code", h.GetURLInfo)
	api.GET("/urls", h.ListURLs)
	api.DELETE("/urls/:short_code", h.DeleteURL)
}

// CreateShortURL handles POST /api/v1/shorten
func (h *URLHandler) CreateShortURL(c *gin.Context) {
	var req CreateShortURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	rec, err := h.urls.Create(c.Request.Context(), req.toService())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Code: http.StatusCreated,
		Data: h.shortURLResponse(rec),
	})
}

// CreateBatch handles POST /api/v1/shorten/batch
func (h *URLHandler) CreateBatch(c *gin.Context) {
	var req BatchCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	reqs := make([]service.CreateRequest, 0, len(req.URLs))
	for _, u := range req.URLs {
		reqs = append(reqs, u.toService())
	}

	recs, err := h.urls.CreateBatch(c.Request.Context(), reqs)
	if err != nil {
		h.handleError(c, err)
		return
	}

	out := make([]ShortURLResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.shortURLResponse(rec))
	}
	c.JSON(http.StatusCreated, Response{
		Code: http.StatusCreated,
		Data: out,
	})
}

// Redirect handles GET /{short_code}
func (h *URLHandler) Redirect(c *gin.Context) {
	longURL, err := h.resolver.Resolve(c.Request.Context(), c.Param("short_code"), clickInfo(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.Redirect(http.StatusFound, longURL)
}

// Resolve handles GET /api/v1/resolve/{short_code}
func (h *URLHandler) Resolve(c *gin.Context) {
	longURL, err := h.resolver.Resolve(c.Request.Context(), c.Param("short_code"), clickInfo(c))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: ResolveResponse{LongURL: longURL},
	})
}

// GetStats handles GET /api/v1/stats/{short_code}
func (h *URLHandler) GetStats(c *gin.Context) {
	stats, err := h.analyzer.Analyze(c.Request.Context(), c.Param("short_code"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: stats,
	})
}

// GetURLInfo handles GET /api/v1/info/{short_code}
func (h *URLHandler) GetURLInfo(c *gin.Context) {
	rec, err := h.urls.Get(c.Request.Context(), c.Param("short_code"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: h.infoResponse(rec),
	})
}

// ListURLs handles GET /api/v1/urls
func (h *URLHandler) ListURLs(c *gin.Context) {
	recs, err := h.urls.List(c.Request.Context(), service.ListRequest{
		Search:    c.Query("search"),
		TimeRange: c.Query("time_range"),
		SortKey:   c.Query("sort"),
		Order:     c.Query("order"),
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	out := make([]URLInfoResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.infoResponse(rec))
	}
	c.JSON(http.StatusOK, Response{
		Code: http.StatusOK,
		Data: out,
	})
}

// DeleteURL handles DELETE /api/v1/urls/{short_code}
func (h *URLHandler) DeleteURL(c *gin.Context) {
	if err := h.urls.Delete(c.Request.Context(), c.Param("short_code")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HealthCheck handles GET /health
func (h *URLHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "OK",
	})
}

// handleError maps domain errors onto HTTP statuses
func (h *URLHandler) handleError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	_ = c.Error(err)
	c.JSON(status, Response{
		Code:    status,
		Message: err.Error(),
	})
}

func (h *URLHandler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    http.StatusBadRequest,
		Message: "Invalid request: " + err.Error(),
	})
}

// StatusFor returns the HTTP status of a domain error
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrExpired):
		return http.StatusGone
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// clickInfo collects click metadata from query parameters and headers
func clickInfo(c *gin.Context) model.ClickInfo {
	location := c.Query("location")
	if location == "" {
		location = c.GetHeader("X-Client-Location")
	}
	return model.ClickInfo{
		Source:    c.Query("source"),
		Location:  location,
		Referrer:  c.Request.Referer(),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func (r CreateShortURLRequest) toService() service.CreateRequest {
	return service.CreateRequest{
		LongURL:         r.LongURL,
		ValidityMinutes: r.ValidityMinutes,
		CustomShortCode: r.CustomShortCode,
	}
}

func (h *URLHandler) shortURLResponse(rec *model.URLRecord) ShortURLResponse {
	return ShortURLResponse{
		ShortCode: rec.ShortCode,
		ShortURL:  h.buildShortURL(rec.ShortCode),
		LongURL:   rec.LongURL,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}

func (h *URLHandler) infoResponse(rec *model.URLRecord) URLInfoResponse {
	return URLInfoResponse{
		ShortCode:     rec.ShortCode,
		ShortURL:      h.buildShortURL(rec.ShortCode),
		LongURL:       rec.LongURL,
		Clicks:        rec.Clicks,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
		LastClickedAt: rec.LastClickedAt,
	}
}

// buildShortURL builds the full short URL
func (h *URLHandler) buildShortURL(shortCode string) string {
	return fmt.Sprintf("%s/%s", h.baseURL, shortCode)
}
