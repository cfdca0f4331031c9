package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/Guizzs26/shop-sync/internal/models"
	"github.com/Guizzs26/shop-sync/internal/syncerr"
)

const (
	defaultExpiresIn = 3600 * time.Second
	minTokenLifetime = 2 * SafetyMargin
	expirySkew       = 30 * time.Second
)

// OAuthOptions configures the contact API OAuth2 grants
type OAuthOptions struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	HTTPClient   *http.Client
}

// OAuthGranter runs password, client_credentials and refresh_token grants
type OAuthGranter struct {
	opts   OAuthOptions
	config oauth2.Config
	client clientcredentials.Config
	now    func() time.Time
}

func NewOAuthGranter(o OAuthOptions) *OAuthGranter {
	tokenURL := strings.TrimRight(o.BaseURL, "/") + "/oauth/v2/token"
	endpoint := oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams}
	return &OAuthGranter{
		opts: o,
		config: oauth2.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			Endpoint:     endpoint,
		},
		client: clientcredentials.Config{
			ClientID:     o.ClientID,
			ClientSecret: o.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		now: time.Now,
	}
}

func (g *OAuthGranter) withClient(ctx context.Context) context.Context {
	if g.opts.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.opts.HTTPClient)
}

// Grant tries the password grant first, then client_credentials
func (g *OAuthGranter) Grant(ctx context.Context) (models.Token, error) {
	ctx = g.withClient(ctx)
	var lastErr error

	if g.opts.Username != "" && g.opts.Password != "" {
		t, err := g.config.PasswordCredentialsToken(ctx, g.opts.Username, g.opts.Password)
		if err == nil {
			return g.convert(t), nil
		}
		lastErr = err
	}

	if g.opts.ClientID != "" && g.opts.ClientSecret != "" {
		t, err := g.client.Token(ctx)
		if err == nil {
			return g.convert(t), nil
		}
		lastErr = err
	}

	if lastErr == nil {
		return models.Token{}, &syncerr.AuthError{Integration: models.IntegrationContact, Diagnostic: "no credentials configured"}
	}
	return models.Token{}, toAuthError(lastErr)
}

// Refresh runs the refresh_token grant
func (g *OAuthGranter) Refresh(ctx context.Context, refreshToken string) (models.Token, error) {
	src := g.config.TokenSource(g.withClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	t, err := src.Token()
	if err != nil {
		return models.Token{}, toAuthError(err)
	}
	if t.RefreshToken == "" {
		t.RefreshToken = refreshToken
	}
	return g.convert(t), nil
}

// convert stores expiry as now + max(60s, expires_in - 30s)
func (g *OAuthGranter) convert(t *oauth2.Token) models.Token {
	now := g.now()
	expiresIn := defaultExpiresIn
	switch {
	case t.ExpiresIn > 0:
		expiresIn = time.Duration(t.ExpiresIn) * time.Second
	case !t.Expiry.IsZero():
		expiresIn = t.Expiry.Sub(now)
	}
	lifetime := max(minTokenLifetime, expiresIn-expirySkew)

	return models.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    now.Add(lifetime),
	}
}

func toAuthError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		ae := &syncerr.AuthError{Integration: models.IntegrationContact, Diagnostic: "token endpoint rejected the grant"}
		if re.Response != nil {
			ae.Status = re.Response.StatusCode
		}
		if re.ErrorCode != "" {
			ae.Diagnostic = re.ErrorCode
		}
		return ae
	}
	return &syncerr.AuthError{Integration: models.IntegrationContact, Diagnostic: "token endpoint unreachable"}
}
