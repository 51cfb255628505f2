package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/httpx"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/services/order-service/internal/orders"
	"github.com/md-rashed-zaman/eventrelay/services/order-service/internal/storage"
)

type Handler struct {
	svc    *orders.Service
	logger *slog.Logger
}

func New(svc *orders.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
	})
	r.Route("/api/customers", func(r chi.Router) {
		r.Get("/", h.ListCustomers)
		r.Get("/{id}", h.GetCustomer)
	})
	return r
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID      uuid.UUID `json:"userId"`
		Product     string    `json:"product"`
		Quantity    int       `json:"quantity"`
		TotalAmount float64   `json:"totalAmount"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	o, err := h.svc.Create(r.Context(), orders.NewOrder{
		UserID:      req.UserID,
		Product:     req.Product,
		Quantity:    req.Quantity,
		TotalAmount: req.TotalAmount,
	})
	switch {
	case errors.Is(err, orders.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, outbox.ErrPublish):
		h.logger.Warn("order stored, event pending", "order_id", o.ID.String(), "err", err)
		httpx.WriteErrorWithID(w, http.StatusBadGateway, "order stored but OrderCreated not delivered yet", o.ID.String())
	case err != nil:
		h.logger.Error("create order failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create order")
	default:
		httpx.WriteJSON(w, http.StatusCreated, o)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Error("list orders failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	o, err := h.svc.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger.Error("get order failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to get order")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	err := h.svc.Delete(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "order not found")
		return
	}
	if err != nil {
		h.logger.Error("delete order failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to delete order")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Customers(r.Context())
	if err != nil {
		h.logger.Error("list customers failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list customers")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Customer(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "customer not found")
		return
	}
	if err != nil {
		h.logger.Error("get customer failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to get customer")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}
