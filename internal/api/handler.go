// Package api serves the generation endpoints. Each request runs the same
// pipeline: key pool check, identity and quota, input validation, optional
// file ingestion, generation with key rotation, then response parsing.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ubuygold/studygen/internal/auth"
	"github.com/ubuygold/studygen/internal/cards"
	"github.com/ubuygold/studygen/internal/config"
	"github.com/ubuygold/studygen/internal/failover"
	"github.com/ubuygold/studygen/internal/keypool"
	"github.com/ubuygold/studygen/internal/metrics"
	"github.com/ubuygold/studygen/internal/provider"
	"github.com/ubuygold/studygen/internal/quota"
)

// QuotaChecker charges one generation against a user's daily quota.
type QuotaChecker interface {
	CheckAndIncrement(ctx context.Context, userID string) quota.Decision
}

// Invoker runs provider calls with key rotation.
type Invoker interface {
	Generate(ctx context.Context, req provider.GenerateRequest) (failover.Result[string], error)
	Upload(ctx context.Context, req provider.UploadRequest) (failover.Result[*provider.File], error)
}

// FileWaiter blocks until an uploaded file is usable.
type FileWaiter interface {
	WaitActive(ctx context.Context, apiKey string, file *provider.File) (*provider.File, error)
}

// Settings are the generation parameters and input ceilings.
type Settings struct {
	Model           string
	Temperature     float32
	MaxOutputTokens int32
	MaxFileBytes    int64
	MaxTextChars    int
}

// SettingsFromConfig extracts the handler settings from cfg.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Model:           cfg.Gemini.Model,
		Temperature:     cfg.Gemini.Temperature,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		MaxFileBytes:    cfg.Limits.MaxFileBytes,
		MaxTextChars:    cfg.Limits.MaxTextChars,
	}
}

// Handler holds the collaborators of the generation endpoints.
type Handler struct {
	pool     *keypool.Pool
	quota    QuotaChecker
	invoker  Invoker
	files    FileWaiter
	settings Settings
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(pool *keypool.Pool, ledger QuotaChecker, invoker Invoker, files FileWaiter, settings Settings, logger *slog.Logger) *Handler {
	return &Handler{
		pool:     pool,
		quota:    ledger,
		invoker:  invoker,
		files:    files,
		settings: settings,
		logger:   logger.With("component", "api"),
	}
}

// task describes one kind of generation: what to ask for and how to read the answer.
type task struct {
	endpoint    string
	instruction string
	resultField string
	parse       func(text string) (any, error)
}

var cardsTask = task{
	endpoint:    "generate-cards",
	instruction: cards.CardsInstruction,
	resultField: "cards",
	parse: func(text string) (any, error) {
		return cards.ExtractCards(text)
	},
}

var reviewerTask = task{
	endpoint:    "generate-reviewer",
	instruction: cards.ReviewerInstruction,
	resultField: "sections",
	parse: func(text string) (any, error) {
		return cards.ExtractSections(text)
	},
}

// GenerateCards handles POST /api/generate-cards.
func (h *Handler) GenerateCards(c *gin.Context) {
	h.generate(c, cardsTask)
}

// GenerateReviewer handles POST /api/generate-reviewer.
func (h *Handler) GenerateReviewer(c *gin.Context) {
	h.generate(c, reviewerTask)
}

func (h *Handler) generate(c *gin.Context, t task) {
	start := time.Now()
	defer func() {
		metrics.GenerationRequestsTotal.WithLabelValues(t.endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.GenerationDuration.WithLabelValues(t.endpoint).Observe(time.Since(start).Seconds())
	}()

	ctx := c.Request.Context()
	logger := h.logger.With("endpoint", t.endpoint, "request_id", RequestIDFrom(c))

	// An unconfigured pool must not cost the caller any quota.
	if h.pool.Count() == 0 {
		logger.Error("Rejecting generation request: no Gemini API keys configured")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgNoKeys})
		return
	}

	userID, ok := auth.UserID(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgAuthRequired})
		return
	}
	logger = logger.With("user_id", userID)

	// Quota is charged before the body is validated, so malformed requests still count.
	decision := h.quota.CheckAndIncrement(ctx, userID)
	if !decision.Allowed {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":     msgQuotaExceeded,
			"remaining": decision.Remaining,
			"resetAt":   decision.ResetAt,
		})
		return
	}

	in, err := h.readInput(c)
	if err != nil {
		respondError(c, logger, err)
		return
	}

	var content provider.Part
	if in.File != nil {
		file, err := h.ingest(ctx, logger, in.File)
		if err != nil {
			respondError(c, logger, err)
			return
		}
		content = provider.FilePart(file)
	} else {
		content = provider.TextPart(in.Text)
	}

	res, err := h.invoker.Generate(ctx, provider.GenerateRequest{
		Model:             h.settings.Model,
		SystemInstruction: cards.SystemPrompt,
		Temperature:       h.settings.Temperature,
		MaxOutputTokens:   h.settings.MaxOutputTokens,
		Parts:             []provider.Part{content, provider.TextPart(t.instruction)},
	})
	if err != nil {
		respondError(c, logger, err)
		return
	}

	result, err := t.parse(res.Value)
	if err != nil {
		logger.Warn("Model answer could not be parsed", "key_index", res.KeyIndex, "response_length", len(res.Value))
		respondError(c, logger, err)
		return
	}

	logger.Info("Generation succeeded", "key_index", res.KeyIndex, "remaining", decision.Remaining)
	c.JSON(http.StatusOK, gin.H{
		t.resultField: result,
		"remaining":   decision.Remaining,
	})
}

// ingest uploads the file and waits for it with the key that owns the upload.
func (h *Handler) ingest(ctx context.Context, logger *slog.Logger, in *fileInput) (*provider.File, error) {
	uploaded, err := h.invoker.Upload(ctx, provider.UploadRequest{
		DisplayName: in.Name,
		MIMEType:    in.MIMEType,
		Data:        in.Data,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("File uploaded", "file", uploaded.Value.Name, "key_index", uploaded.KeyIndex, "bytes", len(in.Data))

	return h.files.WaitActive(ctx, h.pool.Key(uploaded.KeyIndex), uploaded.Value)
}

// Health reports liveness and the number of configured keys.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "keys": h.pool.Count()})
}
