// Package api provides the HTTP surface of the reconciliation engine:
// a user-facing usage endpoint and the internal admin endpoint that
// triggers a credit reset sweep on demand.
package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/gocredits/pkg/credits"
)

// Config holds configuration for the API handler.
type Config struct {
	// Store is the durable state backend (required).
	Store credits.Store

	// Catalog is the plan reference data (required).
	Catalog *credits.Catalog

	// Sweeper runs on-demand credit reset sweeps (required for the
	// admin endpoint).
	Sweeper *credits.Sweeper

	// AdminToken authorizes the internal endpoints. When empty the
	// admin endpoint refuses every request rather than becoming open.
	AdminToken string

	// GetUserID extracts the authenticated user ID from a request
	// (required for the usage endpoint).
	GetUserID func(*http.Request) string

	// Logger is used for structured logging (default: NoopLogger).
	Logger credits.Logger
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Catalog == nil {
		return fmt.Errorf("catalog is required")
	}
	if c.GetUserID == nil {
		return fmt.Errorf("getUserID is required")
	}
	return nil
}

// NewHandler creates an API handler with the given configuration.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &credits.NoopLogger{}
	}
	return &Handler{config: config}, nil
}

// Helper functions for common UserID extraction patterns

// FromHeader returns a GetUserID function that extracts the user ID from
// a header.
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetUserID function that extracts the user ID
// from the request context.
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
