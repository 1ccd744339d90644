package model

import "time"

// DeviceToken is the bearer credential issued after device login.
type DeviceToken struct {
	Token      string    `json:"token"`
	DeviceUUID string    `json:"device_uuid"`
	Revoked    bool      `json:"is_revoked"`
	IssuedAt   time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Valid reports whether the token is usable at the given instant.
// Expiry is strict: a token whose expires_at equals now is already dead.
func (t *DeviceToken) Valid(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
