package model

import "time"

// Device represents a registered TPM-backed client identity.
type Device struct {
	ID            string    `json:"id"`
	UUID          string    `json:"uuid"`
	EKCertificate string    `json:"ek_certificate"`
	AIK           string    `json:"aik"`
	PublicKey     string    `json:"public_key"`
	Active        bool      `json:"is_active"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastAccess    time.Time `json:"last_access"`
}
