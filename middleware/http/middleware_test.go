package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mihaimyh/gocredits/pkg/credits"
	"github.com/mihaimyh/gocredits/storage/memory"
)

func seedUser(t *testing.T, store *memory.Store, userID string, status credits.SubscriptionStatus, balance int64) {
	t.Helper()
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	sub := &credits.Subscription{
		ID:                 "sub-" + userID,
		UserID:             userID,
		PlanID:             "starter-monthly",
		Status:             status,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	var grant *credits.Grant
	if balance > 0 {
		grant = &credits.Grant{SubscriptionID: sub.ID, UserID: userID, Amount: balance, ResetAt: now}
	}
	if err := store.CreateSubscription(context.Background(), sub, grant, credits.AppliedEvent{Key: "evt-" + userID}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func gatedRequest(t *testing.T, mw func(http.Handler) http.Handler, userID string) *httptest.ResponseRecorder {
	t.Helper()
	var reached bool
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/generate", nil)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code == http.StatusOK && !reached {
		t.Fatal("200 without reaching the handler")
	}
	return rr
}

func TestMiddleware_Gate(t *testing.T) {
	store := memory.New()
	seedUser(t, store, "active-user", credits.StatusActive, 100)
	seedUser(t, store, "trial-user", credits.StatusTrialing, 0)
	seedUser(t, store, "pastdue-user", credits.StatusPastDue, 100)
	seedUser(t, store, "broke-user", credits.StatusActive, 0)

	mw := Middleware(Config{
		Store:          store,
		GetUserID:      FromHeader("X-User-ID"),
		RequireBalance: true,
	})

	tests := []struct {
		name   string
		userID string
		want   int
	}{
		{name: "active with balance", userID: "active-user", want: http.StatusOK},
		{name: "unauthenticated", userID: "", want: http.StatusPaymentRequired},
		{name: "unknown user", userID: "nobody", want: http.StatusPaymentRequired},
		{name: "past due", userID: "pastdue-user", want: http.StatusPaymentRequired},
		{name: "active but empty wallet", userID: "broke-user", want: http.StatusPaymentRequired},
		{name: "trialing but empty wallet", userID: "trial-user", want: http.StatusPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := gatedRequest(t, mw, tt.userID); rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestMiddleware_StatusOnly(t *testing.T) {
	store := memory.New()
	seedUser(t, store, "trial-user", credits.StatusTrialing, 0)

	mw := Middleware(Config{
		Store:     store,
		GetUserID: FromHeader("X-User-ID"),
	})

	// Without RequireBalance, a trialing user with no wallet passes.
	if rr := gatedRequest(t, mw, "trial-user"); rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestMiddleware_InvalidConfigPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on missing store")
		}
	}()
	Middleware(Config{GetUserID: FromHeader("X-User-ID")})
}
