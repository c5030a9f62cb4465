package domain

import "time"

// Credential holds the OAuth token material for one upstream athlete account.
// At most one live row exists per athlete; only the token manager mutates it.
type Credential struct {
	AthleteID      int64
	AccessToken    string
	RefreshToken   string
	ExpiresAt      time.Time
	ReauthRequired bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ExpiresWithin reports whether the access token expires before now+skew,
// i.e. whether a proactive refresh is due.
func (c Credential) ExpiresWithin(skew time.Duration, now time.Time) bool {
	return !c.ExpiresAt.After(now.Add(skew))
}
