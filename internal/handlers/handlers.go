package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/xray-check/internal/auth"
	"github.com/example/xray-check/internal/decision"
	"github.com/example/xray-check/internal/imageprocessor"
	"github.com/example/xray-check/internal/model"
	"github.com/example/xray-check/internal/navigation"
	"github.com/example/xray-check/internal/repository"
	"github.com/example/xray-check/internal/usecase"
)

// MaxUploadSize bounds a single X-ray upload.
const MaxUploadSize = 10 << 20

// Detector is the subset of the use case the HTTP layer depends on.
type Detector interface {
	Start(ctx context.Context) (*usecase.SessionView, error)
	Current(ctx context.Context, sessionID string) (*usecase.SessionView, error)
	End(ctx context.Context, sessionID string) error
	Navigate(ctx context.Context, sessionID, screen string) (*usecase.SessionView, error)
	Detect(ctx context.Context, sessionID string, upload usecase.Upload) (*usecase.DetectionResult, error)
	History(ctx context.Context, sessionID string) ([]*repository.PredictionLog, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(sessionID string) (string, time.Time, error)
}

type navigateRequest struct {
	Screen string `json:"screen" binding:"required"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc Detector, issuer TokenIssuer, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	api.POST("/session", func(c *gin.Context) {
		view, err := uc.Start(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		token, expires, err := issuer.Issue(view.SessionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session token"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"session_id": view.SessionID,
			"token":      token,
			"expires_at": expires,
			"view":       view.View,
		})
	})

	authorized := api.Group("", authMiddleware)

	authorized.DELETE("/session", func(c *gin.Context) {
		sessionID, _ := auth.SessionIDFromGin(c)
		if err := uc.End(c.Request.Context(), sessionID); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authorized.GET("/screen", func(c *gin.Context) {
		sessionID, _ := auth.SessionIDFromGin(c)
		view, err := uc.Current(c.Request.Context(), sessionID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	authorized.POST("/navigate", func(c *gin.Context) {
		var req navigateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "screen is required"})
			return
		}
		sessionID, _ := auth.SessionIDFromGin(c)
		view, err := uc.Navigate(c.Request.Context(), sessionID, req.Screen)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	authorized.POST("/detect", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+(1<<20))

		file, err := c.FormFile("image")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}
		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		data, err := io.ReadAll(src)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}

		sessionID, _ := auth.SessionIDFromGin(c)
		result, err := uc.Detect(c.Request.Context(), sessionID, usecase.Upload{Filename: file.Filename, Data: data})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":      result.RequestID,
			"label":           result.Decision.Label,
			"confidence":      result.Decision.ConfidenceString(),
			"probability":     result.Decision.Probability,
			"advice_unlocked": result.Decision.ShowAdvice,
			"message":         result.Decision.Message(),
			"disclaimer":      decision.Disclaimer,
			"view":            result.Session.View,
		})
	})

	authorized.GET("/history", func(c *gin.Context) {
		sessionID, _ := auth.SessionIDFromGin(c)
		logs, err := uc.History(c.Request.Context(), sessionID)
		if err != nil {
			respondError(c, err)
			return
		}

		items := make([]gin.H, 0, len(logs))
		for _, log := range logs {
			items = append(items, gin.H{
				"request_id":         log.RequestID,
				"filename":           log.Filename,
				"label":              log.Label,
				"probability":        log.Probability,
				"confidence_percent": log.ConfidencePercent,
				"created_at":         log.CreatedAt,
			})
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	})

	authorized.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, imageprocessor.ErrUnsupportedFormat):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"error": "unsupported image format",
			"hint":  "Please upload a JPG, JPEG or PNG chest X-ray image.",
		})
	case errors.Is(err, model.ErrModelInvocation):
		c.JSON(http.StatusBadGateway, gin.H{"error": "classification failed, please try again"})
	case errors.Is(err, navigation.ErrUnknownScreen):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
