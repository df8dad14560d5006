package admin

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ubuygold/studygen/internal/db"
	"github.com/ubuygold/studygen/internal/keypool"
	"github.com/ubuygold/studygen/internal/model"
	"github.com/ubuygold/studygen/internal/quota"
)

// UsageReader exposes read-only quota information.
type UsageReader interface {
	Usage(ctx context.Context, userID, day string) (*quota.Usage, error)
	Report(ctx context.Context, day string) (*quota.Report, error)
}

type GrantRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
}

// KeyInfo describes one pooled API key without revealing it.
type KeyInfo struct {
	Index  int    `json:"index"`
	Suffix string `json:"suffix"`
}

type Handler struct {
	db    db.Service
	usage UsageReader
	pool  *keypool.Pool
}

func NewHandler(dbService db.Service, usage UsageReader, pool *keypool.Pool) *Handler {
	return &Handler{db: dbService, usage: usage, pool: pool}
}

func (h *Handler) ListKeysHandler(c *gin.Context) {
	keys := make([]KeyInfo, 0, h.pool.Count())
	for i := 0; i < h.pool.Count(); i++ {
		keys = append(keys, KeyInfo{Index: i, Suffix: keypool.SafeSuffix(h.pool.Key(i))})
	}
	c.JSON(http.StatusOK, keys)
}

func (h *Handler) ListGrantsHandler(c *gin.Context) {
	grants, err := h.db.ListUnlimitedGrants(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list grants"})
		return
	}
	c.JSON(http.StatusOK, grants)
}

func (h *Handler) CreateGrantHandler(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id cannot be empty"})
		return
	}

	grant := &model.UnlimitedGrant{
		UserID:    req.UserID,
		GrantedBy: "admin",
		Reason:    req.Reason,
	}
	if err := h.db.SaveUnlimitedGrant(c.Request.Context(), grant); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save grant"})
		return
	}
	c.JSON(http.StatusCreated, grant)
}

func (h *Handler) DeleteGrantHandler(c *gin.Context) {
	err := h.db.DeleteUnlimitedGrant(c.Request.Context(), c.Param("userId"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Grant not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete grant"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetUsageHandler(c *gin.Context) {
	day := c.Query("day")
	if day != "" && !validDay(day) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "day must be formatted as YYYY-MM-DD"})
		return
	}
	usage, err := h.usage.Usage(c.Request.Context(), c.Param("userId"), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load usage"})
		return
	}
	c.JSON(http.StatusOK, usage)
}

func (h *Handler) GetReportHandler(c *gin.Context) {
	day := c.Param("day")
	if !validDay(day) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "day must be formatted as YYYY-MM-DD"})
		return
	}
	report, err := h.usage.Report(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build report"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func validDay(day string) bool {
	_, err := time.Parse(model.DayLayout, day)
	return err == nil
}
