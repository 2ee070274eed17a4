package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/face-verify/internal/repository"
	"github.com/example/face-verify/internal/settings"
	"github.com/example/face-verify/internal/usecase"
)

// MaxRequestSize is the hard cap on request bodies. Requests beyond it are
// rejected with 413.
const MaxRequestSize = 10 << 20 // 10MB

// ServiceName is reported by the health endpoint.
const ServiceName = "Face Verification API"

var supportedFormats = []string{"jpg", "jpeg", "png", "bmp"}

// Verifier is the slice of the verification use case the transport needs.
type Verifier interface {
	Verify(ctx context.Context, profileImage, idImage string) *usecase.Outcome
	GetResult(ctx context.Context, requestID string) (*repository.VerificationRecord, error)
	Config() *settings.Store
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

type verifyRequest struct {
	ProfileImage string `json:"profile_image"`
	IDImage      string `json:"id_image"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, v Verifier) {
	router.Use(corsMiddleware(), limitRequestSize(MaxRequestSize), jsonRecovery())

	router.GET("/health", handleHealth)
	router.POST("/verify", handleVerify(v))
	router.GET("/result/:request_id", handleResult(v))
	router.GET("/config", handleGetConfig(v))
	router.POST("/config", handleUpdateConfig(v))
	router.GET("/metrics", handleMetrics(v))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Endpoint not found"})
	})
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   ServiceName,
	})
}

func handleVerify(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				c.JSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   fmt.Sprintf("Internal server error: %v", r),
				})
			}
		}()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			if isTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"success": false,
					"error":   "File too large. Maximum size is 10MB.",
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No JSON data provided"})
			return
		}

		var req verifyRequest
		if len(body) == 0 || json.Unmarshal(body, &req) != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "No JSON data provided"})
			return
		}

		if req.ProfileImage == "" || req.IDImage == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Both profile_image and id_image are required",
			})
			return
		}

		outcome := v.Verify(c.Request.Context(), req.ProfileImage, req.IDImage)
		status := http.StatusOK
		if !outcome.Success {
			status = http.StatusBadRequest
		}
		c.JSON(status, outcome)
	}
}

func handleResult(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Param("request_id")
		record, err := v.GetResult(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "Result not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id":     record.RequestID,
			"success":        record.Success,
			"match":          record.Matched,
			"confidence":     record.Confidence,
			"distance":       record.Distance,
			"threshold_used": record.Threshold,
			"error":          record.Error,
			"created_at":     record.CreatedAt,
		})
	}
}

func handleGetConfig(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg := v.Config().Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"confidence_threshold": cfg.ConfidenceThreshold,
			"tolerance":            cfg.Tolerance,
			"supported_formats":    supportedFormats,
			"max_image_size":       "10MB",
		})
	}
}

func handleUpdateConfig(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var update settings.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			if isTooLarge(err) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{
					"success": false,
					"error":   "File too large. Maximum size is 10MB.",
				})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		applied, err := v.Config().Apply(update)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":              true,
			"message":              "Configuration updated successfully",
			"tolerance":            applied.Tolerance,
			"confidence_threshold": applied.ConfidenceThreshold,
		})
	}
}

func handleMetrics(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := v.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Internal server error"})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// limitRequestSize caps every request body, mirroring the transport contract
// of the original deployment.
func limitRequestSize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// corsMiddleware allows browser callers from any origin. The service sits
// behind its own frontend in the reference deployment.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// jsonRecovery keeps any unhandled fault from leaking a stack trace: the
// caller always gets a well-formed JSON body.
func jsonRecovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, _ interface{}) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Internal server error",
		})
	})
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
