package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
)

// RespondDomainError maps the service error taxonomy onto HTTP statuses
// so handlers do not repeat the switch.
func RespondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidArgument):
		RespondError(c, http.StatusBadRequest, "invalid_argument", err)
	case errors.Is(err, apperrors.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, apperrors.ErrUnsupportedFormat):
		RespondError(c, http.StatusUnprocessableEntity, "unsupported_format", err)
	case errors.Is(err, apperrors.ErrEmptyDocument):
		RespondError(c, http.StatusUnprocessableEntity, "empty_document", err)
	case errors.Is(err, apperrors.ErrEmptyIndex):
		RespondError(c, http.StatusConflict, "empty_index", err)
	case errors.Is(err, apperrors.ErrNoGroundingContent):
		RespondError(c, http.StatusConflict, "no_grounding_content", err)
	case errors.Is(err, apperrors.ErrRateLimited):
		RespondError(c, http.StatusTooManyRequests, "rate_limited", err)
	case errors.Is(err, apperrors.ErrGenerationTimeout):
		RespondError(c, http.StatusGatewayTimeout, "generation_timeout", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
