package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/service"
	"github.com/trollofun/uitdeitp/internal/util"
)

// ReminderHandler handles HTTP requests for reminder subscriptions
type ReminderHandler struct {
	reminderService *service.ReminderService
	logger          *zap.Logger
}

// NewReminderHandler creates a new reminder handler
func NewReminderHandler(reminderService *service.ReminderService, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{
		reminderService: reminderService,
		logger:          logger,
	}
}

// RegisterRoutes registers all reminder routes
func (h *ReminderHandler) RegisterRoutes(router chi.Router) {
	router.Route("/reminders", func(r chi.Router) {
		r.Post("/", h.CreateReminder)
		r.Get("/search", h.SearchByPlate)
		r.Get("/{reminderID}", h.GetReminder)
		r.Put("/{reminderID}", h.UpdateReminder)
		r.Delete("/{reminderID}", h.DeleteReminder)
		r.Delete("/{reminderID}/purge", h.PurgeReminder)
	})
}

// CreateReminder handles reminder creation
func (h *ReminderHandler) CreateReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.ReminderCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	view, err := h.reminderService.CreateReminder(ctx, &req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to create reminder")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(view, "Reminder created successfully"))
	h.logger.Info("Reminder created via HTTP",
		util.String("reminder_id", view.ID),
		util.Duration("duration", time.Since(startTime)),
	)
}

// GetReminder handles reminder retrieval by ID
func (h *ReminderHandler) GetReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reminderID := chi.URLParam(r, "reminderID")
	view, err := h.reminderService.GetReminder(ctx, reminderID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to get reminder")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(view, ""))
}

// UpdateReminder handles partial reminder updates
func (h *ReminderHandler) UpdateReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reminderID := chi.URLParam(r, "reminderID")

	var req service.ReminderUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	view, err := h.reminderService.UpdateReminder(ctx, reminderID, &req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to update reminder")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(view, "Reminder updated successfully"))
}

// DeleteReminder soft-deletes a reminder
func (h *ReminderHandler) DeleteReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reminderID := chi.URLParam(r, "reminderID")
	if err := h.reminderService.DeleteReminder(ctx, reminderID); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to delete reminder")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Reminder deleted successfully"))
}

// PurgeReminder hard-deletes a reminder. GDPR path.
func (h *ReminderHandler) PurgeReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reminderID := chi.URLParam(r, "reminderID")
	if err := h.reminderService.PurgeReminder(ctx, reminderID); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to purge reminder")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(nil, "Reminder purged"))
}

// SearchByPlate handles the admin plate lookup
func (h *ReminderHandler) SearchByPlate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	plate := r.URL.Query().Get("plate")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	docs, err := h.reminderService.SearchByPlate(ctx, plate, limit)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to search reminders")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, Response{
		Success: true,
		Data:    docs,
		Meta:    &Meta{Total: len(docs)},
	})
}
