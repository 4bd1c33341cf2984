package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mihaimyh/gocredits/pkg/credits"
)

const maxUserIDLen = 255

// Handler provides the HTTP endpoints of the engine.
type Handler struct {
	config Config
}

// GetUsage returns the authenticated user's balance and subscription
// standing. A user with no wallet yet reads as balance zero.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := h.config.GetUserID(r)
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "user ID not found")
		return
	}
	if len(userID) > maxUserIDLen {
		h.writeError(w, http.StatusBadRequest, "invalid user ID format")
		return
	}

	resp := UsageResponse{UserID: userID}

	wallet, err := h.config.Store.GetWallet(ctx, userID)
	switch {
	case err == nil:
		resp.Balance = wallet.Balance
	case errors.Is(err, credits.ErrWalletNotFound):
		// No grant yet; zero balance.
	default:
		h.config.Logger.Error("failed to get wallet",
			credits.Field{Key: "user_id", Value: userID},
			credits.Field{Key: "error", Value: err},
		)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	sub, err := h.config.Store.GetSubscriptionByUser(ctx, userID)
	switch {
	case err == nil:
		resp.Subscription = &SubscriptionInfo{
			PlanID:             sub.PlanID,
			Status:             string(sub.Status),
			CurrentPeriodStart: sub.CurrentPeriodStart,
			CurrentPeriodEnd:   sub.CurrentPeriodEnd,
			LastCreditReset:    sub.LastCreditReset,
		}
	case errors.Is(err, credits.ErrSubscriptionNotFound):
		// Free user.
	default:
		h.config.Logger.Error("failed to get subscription",
			credits.Field{Key: "user_id", Value: userID},
			credits.Field{Key: "error", Value: err},
		)
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// TriggerCreditReset runs a sweep synchronously and returns its report.
// It backs POST /internal/credit-reset for support and incident response;
// re-running is safe because every grant is idempotent per period.
func (h *Handler) TriggerCreditReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorized(r) {
		h.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.config.Sweeper == nil {
		h.writeError(w, http.StatusServiceUnavailable, "sweeper not configured")
		return
	}

	report, err := h.config.Sweeper.Run(r.Context())
	switch {
	case err == nil:
		h.writeJSON(w, http.StatusOK, report)
	case errors.Is(err, credits.ErrSweepInProgress), errors.Is(err, credits.ErrLockNotAcquired):
		h.writeError(w, http.StatusConflict, "a sweep is already running")
	default:
		h.config.Logger.Error("manual sweep failed", credits.Field{Key: "error", Value: err})
		h.writeError(w, http.StatusInternalServerError, "sweep failed")
	}
}

// authorized checks the bearer token in constant time. An unset token
// fails closed.
func (h *Handler) authorized(r *http.Request) bool {
	if h.config.AdminToken == "" {
		return false
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.config.AdminToken)) == 1
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.config.Logger.Error("failed to encode response", credits.Field{Key: "error", Value: err})
	}
}

func (h *Handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, ErrorResponse{Error: msg})
}
