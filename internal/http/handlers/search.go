package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/driftnote/driftnote-backend/internal/http/response"
	"github.com/driftnote/driftnote-backend/internal/services"
)

type SearchHandler struct {
	search services.SearchService
}

func NewSearchHandler(search services.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

type searchReq struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// POST /api/users/:id/search
func (h *SearchHandler) Search(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_user_id", err)
		return
	}
	var req searchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	hits, err := h.search.Search(c.Request.Context(), userID, req.Query, req.TopK)
	if err != nil {
		response.RespondDomainError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"hits": hits})
}
