package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-dms/meridian-dms/internal/platform/httpx"
	"github.com/meridian-dms/meridian-dms/internal/shared"
)

// Handler serves order endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}/status", h.updateStatus)
	r.Patch("/orders/{id}/dispatch", h.updateDispatch)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	order, proforma, generated, err := h.service.Create(r.Context(), req)
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("create order", slog.Any("error", err), slog.Int64("customer_id", req.CustomerID))
		}
		httpx.RespondError(w, err)
		return
	}

	resp := map[string]any{
		"order":               order,
		"documents_generated": generated,
	}
	if proforma != nil {
		resp["proforma"] = proforma
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	req := ListOrdersRequest{}
	q := r.URL.Query()

	if v := q.Get("customer_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid customer_id filter")
			return
		}
		req.CustomerID = &id
	}
	if v := q.Get("status"); v != "" {
		status := OrderStatus(v)
		if !status.Valid() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status filter")
			return
		}
		req.Status = &status
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid limit")
			return
		}
		req.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid offset")
			return
		}
		req.Offset = offset
	}

	list, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	perPage := req.Limit
	if perPage <= 0 {
		perPage = 50
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"orders":     list,
		"pagination": shared.NewPagination(req.Offset/perPage+1, perPage, total),
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}

	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("get order", slog.Any("error", err), slog.Int64("id", id))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}

	var req UpdateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	order, generated, err := h.service.UpdateStatus(r.Context(), id, req)
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("update order status", slog.Any("error", err), slog.Int64("id", id))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"order":               order,
		"documents_generated": generated,
	})
}

func (h *Handler) updateDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid order id")
		return
	}

	var req UpdateDispatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	order, err := h.service.UpdateDispatch(r.Context(), id, req)
	if err != nil {
		if !isClientError(err) {
			h.logger.Error("update order dispatch", slog.Any("error", err), slog.Int64("id", id))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func isClientError(err error) bool {
	if _, ok := shared.AsConflict(err); ok {
		return true
	}
	return errors.Is(err, shared.ErrNotFound) || errors.Is(err, shared.ErrValidation)
}
