package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/config"
	"github.com/trollofun/uitdeitp/internal/models"
	"github.com/trollofun/uitdeitp/internal/ratelimit"
	"github.com/trollofun/uitdeitp/internal/service"
	"github.com/trollofun/uitdeitp/internal/util"
)

// VerificationHandler handles HTTP requests for the OTP flow
type VerificationHandler struct {
	verificationService *service.VerificationService
	limiter             *ratelimit.Limiter
	cfg                 *config.Config
	logger              *zap.Logger
}

// NewVerificationHandler creates a new verification handler
func NewVerificationHandler(
	verificationService *service.VerificationService,
	limiter *ratelimit.Limiter,
	cfg *config.Config,
	logger *zap.Logger,
) *VerificationHandler {
	return &VerificationHandler{
		verificationService: verificationService,
		limiter:             limiter,
		cfg:                 cfg,
		logger:              logger,
	}
}

// RegisterRoutes registers all verification routes
func (h *VerificationHandler) RegisterRoutes(router chi.Router) {
	router.Route("/verification", func(r chi.Router) {
		r.Post("/send", h.SendCode)
		r.Post("/verify", h.VerifyCode)
		r.Post("/resend", h.ResendCode)
	})
}

// SendCode issues a verification code to a phone number
func (h *VerificationHandler) SendCode(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "send", h.cfg.RateLimit.SendPerHourIP) {
		return
	}
	h.issueCode(w, r, false)
}

// ResendCode issues an additional code without invalidating earlier ones
func (h *VerificationHandler) ResendCode(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "resend", h.cfg.RateLimit.ResendPerHourIP) {
		return
	}
	h.issueCode(w, r, true)
}

func (h *VerificationHandler) issueCode(w http.ResponseWriter, r *http.Request, resend bool) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.CodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Source == "" {
		req.Source = models.SourceDashboard
	}
	req.IPAddress = clientIP(r)

	var (
		resp *service.CodeResponse
		err  error
	)
	if resend {
		resp, err = h.verificationService.ResendCode(ctx, &req)
	} else {
		resp, err = h.verificationService.RequestCode(ctx, &req)
	}
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to send verification code")
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(resp, resp.Message))
	h.logger.Info("Verification code requested via HTTP",
		util.String("source", string(req.Source)),
		util.Bool("resend", resend),
		util.Duration("duration", time.Since(startTime)),
	)
}

// VerifyCode checks a submitted verification code
func (h *VerificationHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r, "verify", h.cfg.RateLimit.VerifyPerHourIP) {
		return
	}

	ctx := r.Context()
	startTime := time.Now()

	var req service.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	req.IPAddress = clientIP(r)

	resp, err := h.verificationService.VerifyCode(ctx, &req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, service.GenericVerifyMessage())
		return
	}

	respondWithJSON(w, h.logger, http.StatusOK, successResponse(resp, "Numarul de telefon a fost verificat."))
	h.logger.Info("Verification completed via HTTP",
		util.Duration("duration", time.Since(startTime)),
	)
}

// allow enforces the per-IP budget for an endpoint and stamps rate-limit
// headers on every response, allowed or not.
func (h *VerificationHandler) allow(w http.ResponseWriter, r *http.Request, endpoint string, budget int) bool {
	key := fmt.Sprintf("%s:%s", endpoint, clientIP(r))

	result, err := h.limiter.Check(r.Context(), key, budget, h.cfg.RateLimit.Window)
	if err != nil {
		// Limiter already failed open; log and continue.
		h.logger.Warn("Rate limit check failed",
			util.String("endpoint", endpoint),
			util.ErrorField(err))
	}

	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(budget))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	if !result.ResetTime.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))
	}

	if !result.Allowed {
		if !result.ResetTime.IsZero() {
			retryAfter := int(time.Until(result.ResetTime).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
		respondWithError(w, h.logger, http.StatusTooManyRequests, service.ErrRateLimited,
			"Prea multe cereri. Incearca din nou mai tarziu.")
		return false
	}

	return true
}
