package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/httpx"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/services/payment-service/internal/payments"
	"github.com/md-rashed-zaman/eventrelay/services/payment-service/internal/storage"
)

type Handler struct {
	svc    *payments.Service
	logger *slog.Logger
}

func New(svc *payments.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/payments", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
	})
	return r
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID uuid.UUID `json:"orderId"`
		Amount  float64   `json:"amount"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	p, err := h.svc.Process(r.Context(), req.OrderID, req.Amount)
	switch {
	case errors.Is(err, payments.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrOrderPaid):
		httpx.WriteError(w, http.StatusConflict, "order already paid")
	case errors.Is(err, outbox.ErrPublish):
		h.logger.Warn("payment stored, event pending", "payment_id", p.ID.String(), "err", err)
		httpx.WriteErrorWithID(w, http.StatusBadGateway, "payment stored but PaymentProcessed not delivered yet", p.ID.String())
	case err != nil:
		h.logger.Error("create payment failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create payment")
	default:
		httpx.WriteJSON(w, http.StatusCreated, p)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Error("list payments failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list payments")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid id")
		return
	}
	p, err := h.svc.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		h.logger.Error("get payment failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to get payment")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid id")
		return
	}
	err = h.svc.Delete(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		h.logger.Error("delete payment failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to delete payment")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
