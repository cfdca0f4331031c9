package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
)

// AdminTokenLifetime is the effective lifetime assumed for opaque admin tokens
const AdminTokenLifetime = 50 * time.Minute

// AdminTokenGranter exchanges admin credentials for a source API bearer token
type AdminTokenGranter struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	now      func() time.Time
}

func NewAdminTokenGranter(baseURL, username, password string, httpClient *http.Client) *AdminTokenGranter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 25 * time.Second}
	}
	return &AdminTokenGranter{
		baseURL:  NormalizeSourceBaseURL(baseURL),
		username: username,
		password: password,
		http:     httpClient,
		now:      time.Now,
	}
}

func (g *AdminTokenGranter) Grant(ctx context.Context) (models.Token, error) {
	if g.username == "" || g.password == "" {
		return models.Token{}, &syncerr.AuthError{Integration: models.IntegrationSource, Diagnostic: "no credentials configured"}
	}

	body, err := json.Marshal(map[string]string{"username": g.username, "password": g.password})
	if err != nil {
		return models.Token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/V1/integration/admin/token", bytes.NewReader(body))
	if err != nil {
		return models.Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.http.Do(req)
	if err != nil {
		return models.Token{}, &syncerr.AuthError{Integration: models.IntegrationSource, Diagnostic: "token endpoint unreachable"}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return models.Token{}, &syncerr.AuthError{
			Integration: models.IntegrationSource,
			Status:      resp.StatusCode,
			Diagnostic:  upstreamMessage(raw, "token request rejected"),
		}
	}

	access := parseTokenBody(raw)
	if access == "" {
		return models.Token{}, &syncerr.AuthError{Integration: models.IntegrationSource, Status: resp.StatusCode, Diagnostic: "empty token in response"}
	}

	now := g.now()
	expires := now.Add(AdminTokenLifetime)
	if exp, ok := jwtExpiry(access); ok && exp.Before(expires) {
		expires = exp
	}
	return models.Token{AccessToken: access, ExpiresAt: expires}, nil
}

// Refresh is unsupported: admin tokens are simply re-granted
func (g *AdminTokenGranter) Refresh(context.Context, string) (models.Token, error) {
	return models.Token{}, errors.New("admin tokens cannot be refreshed")
}

// parseTokenBody accepts a JSON string body and falls back to trimming quotes
func parseTokenBody(raw []byte) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.Trim(strings.TrimSpace(string(raw)), `"' `)
}

// jwtExpiry reads the exp claim without verifying the signature; the token
// came straight from the issuer over TLS.
func jwtExpiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// upstreamMessage extracts {"message": "..."} style diagnostics, never the request
func upstreamMessage(raw []byte, fallback string) string {
	var body struct {
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Message != "":
			return truncate(body.Message, 200)
		case body.ErrorDescription != "":
			return truncate(body.ErrorDescription, 200)
		case body.Error != "":
			return truncate(body.Error, 200)
		}
	}
	return fallback
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// NormalizeSourceBaseURL trims a trailing /V1 and makes sure the REST root is addressed
func NormalizeSourceBaseURL(base string) string {
	b := strings.TrimRight(strings.TrimSpace(base), "/")
	if strings.HasSuffix(strings.ToLower(b), "/v1") {
		b = strings.TrimRight(b[:len(b)-3], "/")
	}
	if !strings.Contains(strings.ToLower(b), "/rest") {
		b += "/rest"
	}
	return b
}

func (g *AdminTokenGranter) String() string {
	return fmt.Sprintf("admin token grant for %s", g.baseURL)
}
