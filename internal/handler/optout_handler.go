package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/service"
	"github.com/trollofun/uitdeitp/internal/util"
)

// OptOutHandler serves the short opt-out link embedded in reminder SMS.
// The path stays /o?t= so the link fits a single SMS segment.
type OptOutHandler struct {
	reminderService *service.ReminderService
	logger          *zap.Logger
}

// NewOptOutHandler creates a new opt-out handler
func NewOptOutHandler(reminderService *service.ReminderService, logger *zap.Logger) *OptOutHandler {
	return &OptOutHandler{
		reminderService: reminderService,
		logger:          logger,
	}
}

// RegisterRoutes registers the opt-out route at the root of the router
func (h *OptOutHandler) RegisterRoutes(router chi.Router) {
	router.Get("/o", h.OptOut)
}

// OptOut decodes the token and silences every reminder for that phone.
// The response is a tiny human-readable page, since the link is opened
// from an SMS, not by an API client.
func (h *OptOutHandler) OptOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("t")
	if token == "" {
		h.renderPage(w, http.StatusBadRequest, "Link de dezabonare invalid.")
		return
	}

	affected, err := h.reminderService.OptOut(ctx, token)
	if err != nil {
		h.logger.Warn("Opt-out request failed",
			util.ErrorField(err))
		h.renderPage(w, getStatusCode(err), "Link de dezabonare invalid sau expirat.")
		return
	}

	h.logger.Info("Opt-out completed via HTTP",
		util.Int("reminders_affected", affected))

	h.renderPage(w, http.StatusOK, "Te-ai dezabonat. Nu vei mai primi notificari pentru acest numar.")
}

func (h *OptOutHandler) renderPage(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="ro">
<head><meta charset="utf-8"><title>uitdeITP</title></head>
<body><p>%s</p></body>
</html>
`, message)
}
