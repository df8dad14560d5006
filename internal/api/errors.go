package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ubuygold/studygen/internal/cards"
	"github.com/ubuygold/studygen/internal/failover"
	"github.com/ubuygold/studygen/internal/ingest"
	"github.com/ubuygold/studygen/internal/keypool"
)

// Client-facing messages. Internal error text never reaches the response.
const (
	msgNoKeys           = "No Gemini API keys configured"
	msgAuthRequired     = "Authentication required"
	msgQuotaExceeded    = "Daily generation limit reached"
	msgParseFailed      = "Failed to parse AI response"
	msgBusy             = "AI service is busy, please try again later"
	msgFileFailed       = "Failed to process the uploaded file"
	msgFileTimedOut     = "Timed out while processing the uploaded file"
	msgGenerateFailed   = "Failed to generate content"
	msgMethodNotAllowed = "Method not allowed"
)

// AppError is an error whose message is safe to show to the caller.
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return e.Message
}

func badRequest(message string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: message}
}

// statusFor maps an error to the HTTP status and sanitized message sent to the caller.
func statusFor(err error) (int, string) {
	var appErr *AppError
	switch {
	case errors.As(err, &appErr):
		return appErr.Code, appErr.Message
	case errors.Is(err, keypool.ErrNoKeys):
		return http.StatusInternalServerError, msgNoKeys
	case errors.Is(err, cards.ErrParse):
		return http.StatusInternalServerError, msgParseFailed
	case errors.Is(err, failover.ErrAllKeysExhausted):
		return http.StatusServiceUnavailable, msgBusy
	case errors.Is(err, ingest.ErrFileProcessingFailed):
		return http.StatusInternalServerError, msgFileFailed
	case errors.Is(err, ingest.ErrIngestionTimedOut):
		return http.StatusGatewayTimeout, msgFileTimedOut
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, msgGenerateFailed
	default:
		return http.StatusInternalServerError, msgGenerateFailed
	}
}

func respondError(c *gin.Context, logger *slog.Logger, err error) {
	code, message := statusFor(err)
	if code >= http.StatusInternalServerError {
		logger.Error("Generation request failed", "status", code, "error", err)
	} else {
		logger.Info("Generation request rejected", "status", code, "reason", message)
	}
	c.AbortWithStatusJSON(code, gin.H{"error": message})
}
