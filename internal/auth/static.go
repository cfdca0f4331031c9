package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Guizzs26/shop-sync/internal/config"
	"github.com/Guizzs26/shop-sync/internal/models"
)

// None leaves requests unauthenticated
type None struct{}

func (None) Authorize(context.Context, *http.Request, bool) error { return nil }

// APIKey sends a fixed X-Api-Key header; it never refreshes
type APIKey struct{ Key string }

func (a APIKey) Authorize(_ context.Context, req *http.Request, _ bool) error {
	req.Header.Set("X-Api-Key", a.Key)
	return nil
}

// Bearer sends a fixed bearer token; it never refreshes
type Bearer struct{ Token string }

func (b Bearer) Authorize(_ context.Context, req *http.Request, _ bool) error {
	req.Header.Set("Authorization", "Bearer "+b.Token)
	return nil
}

// ContactAuthorizer picks the contact API authentication mode. Full OAuth2
// client credentials win, then "key:<apikey>", then "oauth2", then any other
// non-empty mode is used verbatim as a fixed bearer token.
func ContactAuthorizer(cfg config.ContactConfig, store TokenStore, httpClient *http.Client, logger *slog.Logger) Authorizer {
	mode := strings.TrimSpace(cfg.AuthMode)
	hasClient := cfg.ClientID != "" && cfg.ClientSecret != ""

	switch {
	case hasClient, strings.EqualFold(mode, "oauth2"):
		g := NewOAuthGranter(OAuthOptions{
			BaseURL:      cfg.BaseURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Username:     cfg.Username,
			Password:     cfg.Password,
			HTTPClient:   httpClient,
		})
		return NewManager(models.IntegrationContact, g, store, logger)
	case strings.HasPrefix(strings.ToLower(mode), "key:"):
		return APIKey{Key: strings.TrimSpace(mode[len("key:"):])}
	case mode != "":
		return Bearer{Token: mode}
	default:
		return None{}
	}
}

// SourceAuthorizer prefers a static integration token, else the admin token grant
func SourceAuthorizer(cfg config.SourceConfig, store TokenStore, httpClient *http.Client, logger *slog.Logger) Authorizer {
	if t := strings.TrimSpace(cfg.Token); t != "" {
		return Bearer{Token: t}
	}
	g := NewAdminTokenGranter(cfg.BaseURL, cfg.Username, cfg.Password, httpClient)
	return NewManager(models.IntegrationSource, g, store, logger)
}
