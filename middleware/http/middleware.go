// Package http provides HTTP middleware that gates requests on credit
// standing. The gate is read-only: it checks the subscription status and
// wallet balance but never decrements. Spending is a separate,
// ordering-sensitive operation that does not belong in middleware.
package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mihaimyh/gocredits/pkg/credits"
)

// UserIDExtractor extracts the user ID from an HTTP request.
// Return empty string if the user is not authenticated.
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration.
type Config struct {
	// Store is the credit state backend (required).
	Store credits.Store

	// GetUserID extracts the user ID from a request (required).
	GetUserID UserIDExtractor

	// RequireBalance also rejects users whose wallet is empty, not just
	// users without an active subscription.
	RequireBalance bool

	// OnDenied handles rejected requests. If nil, a JSON 402 is written.
	OnDenied func(w http.ResponseWriter, r *http.Request, reason string)

	// OnError handles backend failures. If nil, a JSON 500 is written.
	// The request is never let through on a backend failure.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// Middleware returns a middleware that admits only users with an active
// (or trialing) subscription, and optionally a positive balance. It
// panics on invalid configuration, mirroring http.StripPrefix and
// friends: misconfiguration is a programming error, not a runtime state.
func Middleware(config Config) func(http.Handler) http.Handler {
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("invalid middleware config: %v", err))
	}
	if config.OnDenied == nil {
		config.OnDenied = defaultDenied
	}
	if config.OnError == nil {
		config.OnError = defaultError
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				config.OnDenied(w, r, "unauthenticated")
				return
			}

			sub, err := config.Store.GetSubscriptionByUser(r.Context(), userID)
			if err != nil {
				if errors.Is(err, credits.ErrSubscriptionNotFound) {
					config.OnDenied(w, r, "no subscription")
					return
				}
				config.OnError(w, r, err)
				return
			}
			switch sub.Status {
			case credits.StatusActive, credits.StatusTrialing:
			default:
				config.OnDenied(w, r, "subscription "+string(sub.Status))
				return
			}

			if config.RequireBalance {
				wallet, err := config.Store.GetWallet(r.Context(), userID)
				if err != nil && !errors.Is(err, credits.ErrWalletNotFound) {
					config.OnError(w, r, err)
					return
				}
				if wallet == nil || wallet.Balance <= 0 {
					config.OnDenied(w, r, "no credits remaining")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// FromHeader returns a UserIDExtractor that reads a header.
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

func defaultDenied(w http.ResponseWriter, r *http.Request, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	fmt.Fprintf(w, `{"error":%q}`, reason)
}

func defaultError(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprint(w, `{"error":"internal error"}`)
}
