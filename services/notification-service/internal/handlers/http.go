package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/httpx"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/services/notification-service/internal/notifications"
	"github.com/md-rashed-zaman/eventrelay/services/notification-service/internal/storage"
)

type Handler struct {
	svc    *notifications.Service
	logger *slog.Logger
}

func New(svc *notifications.Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/notifications", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
	})
	return r
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID  uuid.UUID `json:"userId"`
		Message string    `json:"message"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	n, err := h.svc.Send(r.Context(), req.UserID, req.Message)
	switch {
	case errors.Is(err, notifications.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, outbox.ErrPublish):
		h.logger.Warn("notification stored, event pending", "notification_id", n.ID.String(), "err", err)
		httpx.WriteErrorWithID(w, http.StatusBadGateway, "notification stored but NotificationSent not delivered yet", n.ID.String())
	case err != nil:
		h.logger.Error("create notification failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to create notification")
	default:
		httpx.WriteJSON(w, http.StatusCreated, n)
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		h.logger.Error("list notifications failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list notifications")
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
	n, err := h.svc.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		h.logger.Error("get notification failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to get notification")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid id")
		return
	}
	err = h.svc.Delete(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "notification not found")
		return
	}
	if err != nil {
		h.logger.Error("delete notification failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to delete notification")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
