package service

import (
	"context"
	"strings"
	"time"

	"github.com/bunker-labs/tpm-bunker-server/internal/crypto"
	"github.com/bunker-labs/tpm-bunker-server/internal/model"
	"github.com/bunker-labs/tpm-bunker-server/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DeviceService owns the device directory: registration and lookup of
// device identity records and their public key material.
type DeviceService struct {
	store  storage.Store
	logger zerolog.Logger
}

// RegisterRequest describes a device registration payload.
type RegisterRequest struct {
	UUID          string `json:"uuid"`
	EKCertificate string `json:"ek_certificate"`
	AIK           string `json:"aik"`
	PublicKey     string `json:"public_key"`
}

// NewDeviceService constructs DeviceService.
func NewDeviceService(store storage.Store, logger zerolog.Logger) *DeviceService {
	return &DeviceService{
		store:  store,
		logger: logger.With().Str("component", "device").Logger(),
	}
}

// Register creates a device record after validating its credentials.
func (s *DeviceService) Register(ctx context.Context, req RegisterRequest) (*model.Device, error) {
	deviceUUID := strings.TrimSpace(req.UUID)
	if _, err := uuid.Parse(deviceUUID); err != nil {
		return nil, validationErr("uuid is not a valid UUID")
	}
	if !validateEKCertificate(req.EKCertificate) {
		return nil, validationErr("invalid EK certificate")
	}
	if strings.TrimSpace(req.AIK) == "" {
		return nil, validationErr("aik is required")
	}
	if _, err := crypto.ParsePublicKey(req.PublicKey); err != nil {
		return nil, validationErr("public_key is not a valid PEM-encoded RSA key")
	}

	device := &model.Device{
		ID:            uuid.NewString(),
		UUID:          deviceUUID,
		EKCertificate: req.EKCertificate,
		AIK:           req.AIK,
		PublicKey:     req.PublicKey,
		Active:        true,
		RegisteredAt:  time.Now().UTC(),
	}
	if err := s.store.CreateDevice(ctx, device); err != nil {
		if err == storage.ErrConflict {
			return nil, validationErr("device already registered")
		}
		return nil, serviceErr("create device", err)
	}
	s.logger.Info().Str("uuid", device.UUID).Msg("device registered")
	return device, nil
}

// Lookup resolves an active device by uuid. A missing device and a
// disabled device are reported identically so callers learn nothing
// about which check failed.
func (s *DeviceService) Lookup(ctx context.Context, deviceUUID string) (*model.Device, error) {
	device, err := s.store.GetDevice(ctx, deviceUUID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, authErr("device not found or inactive")
		}
		return nil, serviceErr("get device", err)
	}
	if !device.Active {
		return nil, authErr("device not found or inactive")
	}
	return device, nil
}

// Touch records the device's last authenticated access.
func (s *DeviceService) Touch(ctx context.Context, device *model.Device) {
	device.LastAccess = time.Now().UTC()
	if err := s.store.UpdateDevice(ctx, device); err != nil {
		s.logger.Warn().Err(err).Str("uuid", device.UUID).Msg("update last access")
	}
}

// List returns all devices (operator surface).
func (s *DeviceService) List(ctx context.Context) ([]*model.Device, error) {
	devices, err := s.store.ListDevices(ctx)
	if err != nil {
		return nil, serviceErr("list devices", err)
	}
	return devices, nil
}

// ListViews returns devices with key material stripped.
func (s *DeviceService) ListViews(ctx context.Context) ([]*model.DeviceView, error) {
	devices, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*model.DeviceView, 0, len(devices))
	for _, device := range devices {
		views = append(views, toView(device))
	}
	return views, nil
}

// validateEKCertificate is the acceptance hook for TPM endorsement key
// certificates. Chain validation against TPM vendor roots is not wired
// in yet; the current check is presence only, matching what the device
// enrollment flow provides.
func validateEKCertificate(ekCertificate string) bool {
	return strings.TrimSpace(ekCertificate) != ""
}

func toView(device *model.Device) *model.DeviceView {
	view := &model.DeviceView{
		UUID:         device.UUID,
		AIK:          maskValue(device.AIK),
		Active:       device.Active,
		RegisteredAt: device.RegisteredAt.UTC().Format(time.RFC3339),
	}
	if !device.LastAccess.IsZero() {
		view.LastAccess = device.LastAccess.UTC().Format(time.RFC3339)
	}
	return view
}

func maskValue(value string) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= 4 {
		return value
	}
	masked := make([]rune, len(runes)-4)
	for i := range masked {
		masked[i] = '*'
	}
	return string(runes[:4]) + string(masked)
}
