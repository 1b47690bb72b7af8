package api

import (
	"errors"
	"net/http"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

// httpStatusFor maps a domain error to its HTTP status. Schema problems are
// 422, semantic refusals 400, unknown callers 401, role mismatches 403.
func httpStatusFor(err error) int {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return http.StatusInternalServerError
	}

	switch domErr.Category {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity
	case core.ErrCatSemantic:
		return http.StatusBadRequest
	case core.ErrCatNotFound:
		return http.StatusNotFound
	case core.ErrCatAuth:
		if domErr.Code == "AUTH_FAILED" {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case core.ErrCatConflict:
		return http.StatusConflict
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondDomainError writes err with its mapped status and message.
func respondDomainError(w http.ResponseWriter, err error) {
	status := httpStatusFor(err)
	var domErr *core.DomainError
	if errors.As(err, &domErr) && domErr != nil {
		respondJSON(w, status, map[string]string{
			"error": domErr.Message,
			"code":  domErr.Code,
		})
		return
	}
	respondError(w, status, err.Error())
}
