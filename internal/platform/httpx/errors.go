package httpx

import (
	"errors"
	"net/http"

	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	if conflict, ok := shared.AsConflict(err); ok {
		JSON(w, http.StatusConflict, ProblemDetail{
			Title:      "Conflict",
			Status:     http.StatusConflict,
			Detail:     conflict.Error(),
			ExistingID: conflict.ExistingID,
		})
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
