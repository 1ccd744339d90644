package model

// DeviceView hides key material when returning devices to operators.
type DeviceView struct {
	UUID         string `json:"uuid"`
	AIK          string `json:"aik"`
	Active       bool   `json:"is_active"`
	RegisteredAt string `json:"registered_at"`
	LastAccess   string `json:"last_access"`
}
