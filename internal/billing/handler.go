package billing

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-dms/meridian-dms/internal/platform/httpx"
	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// Handler serves billing document endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders/{id}/documents", h.generateDocuments)
	r.Post("/orders/{id}/proforma", h.generateProforma)
	r.Get("/proformas/{id}", h.getProforma)
	r.Post("/proformas/{id}/convert", h.convertProforma)
	r.Get("/invoices/{id}", h.getInvoice)
	r.Patch("/invoices/{id}/payment", h.updatePayment)
}

func (h *Handler) generateDocuments(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}

	proforma, invoice, err := h.service.GenerateForOrder(r.Context(), orderID)
	if err != nil {
		if err != shared.ErrNotFound {
			h.logger.Error("generate documents", slog.Any("error", err), slog.Int64("order_id", orderID))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"proforma": proforma,
		"invoice":  invoice,
	})
}

func (h *Handler) generateProforma(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}

	proforma, err := h.service.GenerateProformaExplicit(r.Context(), orderID)
	if err != nil {
		if _, conflict := shared.AsConflict(err); !conflict && err != shared.ErrNotFound {
			h.logger.Error("generate proforma", slog.Any("error", err), slog.Int64("order_id", orderID))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, proforma)
}

func (h *Handler) getProforma(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid proforma id")
		return
	}

	proforma, err := h.service.GetProforma(r.Context(), id)
	if err != nil {
		if err != shared.ErrNotFound {
			h.logger.Error("get proforma", slog.Any("error", err), slog.Int64("id", id))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, proforma)
}

func (h *Handler) convertProforma(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid proforma id")
		return
	}

	var req ConvertProformaRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
	}

	invoice, err := h.service.Convert(r.Context(), id, req)
	if err != nil {
		if _, conflict := shared.AsConflict(err); !conflict && err != shared.ErrNotFound {
			h.logger.Error("convert proforma", slog.Any("error", err), slog.Int64("id", id))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	invoice, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		if err != shared.ErrNotFound {
			h.logger.Error("get invoice", slog.Any("error", err), slog.Int64("id", id))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}

	var req UpdatePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	invoice, err := h.service.UpdatePayment(r.Context(), id, req)
	if err != nil {
		if err != shared.ErrNotFound {
			h.logger.Error("update invoice payment", slog.Any("error", err), slog.Int64("id", id))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}
