package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardid/cardid/internal/domain"
	"github.com/cardid/cardid/internal/logger"
)

// maxUploadBytes caps the multipart file field at 10MB; larger uploads are
// rejected with 413. The check runs after the multipart form has been
// parsed, so the request body has already been read by then.
const maxUploadBytes = 10 << 20

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Identifier is the subset of pipeline.Pipeline the scanner handler depends
// on.
type Identifier interface {
	Identify(ctx context.Context, raw []byte, previousAttempt int) (domain.ScanVerdict, error)
}

// Seeder is the subset of ingest.Ingestor the scanner handler depends on.
type Seeder interface {
	SeedSet(ctx context.Context, setCode string) (cardsProcessed, embeddingsGenerated int, err error)
}

// ScannerHandler serves the /scanner routes of spec.md §6.
type ScannerHandler struct {
	pipeline Identifier
	ingestor Seeder
}

// NewScannerHandler builds a ScannerHandler.
func NewScannerHandler(pipeline Identifier, ingestor Seeder) *ScannerHandler {
	return &ScannerHandler{pipeline: pipeline, ingestor: ingestor}
}

type identifyResponse struct {
	Status                domain.ScanStatus      `json:"status"`
	Confidence            domain.Confidence      `json:"confidence"`
	ConfidenceScore       float64                `json:"confidenceScore"`
	DetectionMethod       domain.DetectionMethod `json:"detectionMethod"`
	ProcessingTimeMs      int64                  `json:"processingTimeMs"`
	RescanAttempt         int                    `json:"rescanAttempt"`
	Card                  *domain.CardRef        `json:"card"`
	AlternativeCandidates []domain.CardRef       `json:"alternativeCandidates"`
}

// Identify handles POST /scanner/identify.
func (h *ScannerHandler) Identify(c *gin.Context) {
	start := time.Now()

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if fileHeader.Size == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty file"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds 10MB limit"})
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !allowedContentTypes[contentType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported content-type: " + contentType})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read file"})
		return
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read file"})
		return
	}
	if len(raw) > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds 10MB limit"})
		return
	}

	attempt := 0
	if v := c.Query("attempt"); v != "" {
		if parsed, ok := parsePositiveInt(v); ok {
			attempt = parsed
		}
	}

	verdict, err := h.pipeline.Identify(c.Request.Context(), raw, attempt)
	if err != nil {
		logger.CtxError(c.Request.Context(), "identify: pipeline failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal failure"})
		return
	}

	c.JSON(http.StatusOK, identifyResponse{
		Status:                verdict.Status,
		Confidence:            verdict.Confidence,
		ConfidenceScore:       verdict.ConfidenceScore,
		DetectionMethod:       verdict.DetectionMethod,
		ProcessingTimeMs:      time.Since(start).Milliseconds(),
		RescanAttempt:         verdict.Attempt,
		Card:                  verdict.Card,
		AlternativeCandidates: verdict.Alternatives,
	})
}

// Seed handles GET /scanner/seed/:setCode.
func (h *ScannerHandler) Seed(c *gin.Context) {
	setCode := c.Param("setCode")
	if setCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "setCode is required"})
		return
	}

	processed, generated, err := h.ingestor.SeedSet(c.Request.Context(), setCode)
	if err != nil {
		logger.CtxError(c.Request.Context(), "seed: set %q failed: %v", setCode, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal failure"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":              "success",
		"set":                 setCode,
		"cardsProcessed":      processed,
		"embeddingsGenerated": generated,
		"message":             "seed completed",
	})
}

func parsePositiveInt(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
