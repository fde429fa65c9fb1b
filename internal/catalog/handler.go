package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-dms/meridian-dms/internal/platform/httpx"
	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// Handler serves the customer self-service catalog.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/customers/{id}/catalog", h.listAgreementItems)
	r.Get("/items/{id}", h.getItem)
}

func (h *Handler) listAgreementItems(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid customer id")
		return
	}

	entries, err := h.service.ListAgreementItems(r.Context(), customerID)
	if err != nil {
		h.logger.Error("list agreement catalog", slog.Any("error", err), slog.Int64("customer_id", customerID))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}

	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		if err != shared.ErrNotFound {
			h.logger.Error("get item", slog.Any("error", err), slog.Int64("id", id))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}
