package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/impcg-clinical-engine/internal/domain"
	"github.com/impcg-clinical-engine/internal/middleware"
)

// classify maps an engine error to an HTTP status and error code.
func classify(err error) (int, string) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, domain.ErrValidation
	case errors.Is(err, domain.ErrNoClassification):
		return http.StatusUnprocessableEntity, domain.ErrClassificationEmpty
	case errors.Is(err, domain.ErrInvalidRiskInput),
		errors.Is(err, domain.ErrInvalidDilation),
		errors.Is(err, domain.ErrInvalidTimeOfDay),
		errors.Is(err, domain.ErrInvalidSAID),
		errors.Is(err, domain.ErrUnknownAction),
		errors.Is(err, domain.ErrInvalidConsciousness):
		return http.StatusUnprocessableEntity, domain.ErrInvalidInput
	case errors.Is(err, domain.ErrSessionGated),
		errors.Is(err, domain.ErrNoActiveSession),
		errors.Is(err, domain.ErrSessionAlreadyActive),
		errors.Is(err, domain.ErrNoPendingSession):
		return http.StatusConflict, domain.ErrSessionState
	case errors.Is(err, domain.ErrConfirmationRequired):
		return http.StatusPreconditionRequired, domain.ErrConfirmation
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFoundCode
	case errors.Is(err, domain.ErrAssistantUnavailable):
		return http.StatusBadGateway, domain.ErrExternalAPI
	default:
		return http.StatusInternalServerError, domain.ErrInternalServer
	}
}

func (s *Server) writeError(c *gin.Context, err error) {
	status, code := classify(err)

	message := err.Error()
	details := ""
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		message = ve.Message
		details = ve.Field
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", middleware.GetRequestID(c)).Error("Request failed")
		message = "internal error"
	}

	c.AbortWithStatusJSON(status, domain.NewMCPError(code, message, details, middleware.GetRequestID(c)))
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest,
		domain.NewMCPError(domain.ErrInvalidInput, "malformed request body", err.Error(), middleware.GetRequestID(c)))
}
