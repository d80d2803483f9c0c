package broker

import (
	"encoding/json"
	"fmt"
	"time"
)

// Credential is the short-lived secret a client uses for the SDP exchange.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the credential is past its expiry at t.
// A credential without an expiry never expires.
func (c Credential) Expired(t time.Time) bool {
	return !c.ExpiresAt.IsZero() && !t.Before(c.ExpiresAt)
}

// sessionPayload is the subset of the provider's session object we read.
type sessionPayload struct {
	ID           string `json:"id"`
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// ParseCredential extracts the credential from a session payload.
func ParseCredential(payload []byte) (Credential, error) {
	var p sessionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Credential{}, fmt.Errorf("broker: decode session payload: %w", err)
	}
	if p.ClientSecret == nil || p.ClientSecret.Value == "" {
		return Credential{}, ErrNoClientSecret
	}
	c := Credential{Value: p.ClientSecret.Value}
	if p.ClientSecret.ExpiresAt > 0 {
		c.ExpiresAt = time.Unix(p.ClientSecret.ExpiresAt, 0)
	}
	return c, nil
}
