package models

import "time"

const (
	IntegrationSource  = "source"
	IntegrationContact = "contact"
)

// Token is a cached bearer credential for one integration
type Token struct {
	Integration  string    `db:"integration"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
}

// ValidAt reports whether the token can still be used at now given a safety margin
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt.Add(-margin))
}
