package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driftnote/driftnote-backend/internal/http/response"
	"github.com/driftnote/driftnote-backend/internal/services"
	"github.com/driftnote/driftnote-backend/internal/types"
)

type ContentHandler struct {
	ingestion services.IngestionService
}

func NewContentHandler(ingestion services.IngestionService) *ContentHandler {
	return &ContentHandler{ingestion: ingestion}
}

// POST /api/content/items
func (h *ContentHandler) SubmitItem(c *gin.Context) {
	var req services.SubmitItemInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	result, err := h.ingestion.SubmitRawContentItem(c.Request.Context(), req)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	if result.Created {
		response.RespondAccepted(c, result)
		return
	}
	response.RespondOK(c, result)
}

// GET /api/users/:id/chunks?since=RFC3339&limit=100
func (h *ContentHandler) LatestChunks(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	var since time.Time
	if v := strings.TrimSpace(c.Query("since")); v != "" {
		since, err = time.Parse(time.RFC3339, v)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_since", err)
			return
		}
	}
	limit := 100
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	chunks, err := h.ingestion.LatestChunks(c.Request.Context(), userID, since, limit)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"chunks": chunks})
}

type createSourceReq struct {
	UserID  uuid.UUID `json:"user_id"`
	Kind    string    `json:"kind"`
	Label   string    `json:"label"`
	Cadence string    `json:"cadence"`
}

// POST /api/content/sources
func (h *ContentHandler) CreateSource(c *gin.Context) {
	var req createSourceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	source, err := h.ingestion.CreateSource(c.Request.Context(), &types.ContentSource{
		UserID:  req.UserID,
		Kind:    req.Kind,
		Label:   req.Label,
		Cadence: req.Cadence,
	})
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"source": source})
}

// GET /api/users/:id/sources
func (h *ContentHandler) ListSources(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	sources, err := h.ingestion.ListSources(c.Request.Context(), userID)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"sources": sources})
}
