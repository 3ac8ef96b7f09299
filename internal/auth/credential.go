package auth

import "time"

// CredentialKey is the storage key under which the single OAuth credential
// record lives.
const CredentialKey = "anthropic"

// OAuthCredential is the persisted OAuth credential record. Expires is an
// absolute instant in milliseconds since epoch, never a duration.
type OAuthCredential struct {
	Type         string `json:"type"`
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token"`
	Expires      int64  `json:"expires"`
}

// Valid reports whether the record is a complete oauth credential.
func (c OAuthCredential) Valid() bool {
	return c.Type == "oauth" && c.RefreshToken != "" && c.AccessToken != "" && c.Expires != 0
}

// Fresh reports whether the access token is still usable at now. Expiry is
// strict: a token expiring exactly now is treated as expired.
func (c OAuthCredential) Fresh(now time.Time) bool {
	return c.Expires > now.UnixMilli()
}
