package service

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/bunker-labs/tpm-bunker-server/internal/crypto"
	"github.com/bunker-labs/tpm-bunker-server/internal/model"
	"github.com/bunker-labs/tpm-bunker-server/internal/storage"
	"github.com/rs/zerolog"
)

const tokenBytes = 32

// AuthService is the token authority: it issues, validates and revokes
// device bearer tokens. Token values never appear in logs.
type AuthService struct {
	store     storage.Store
	deviceSvc *DeviceService
	tokenTTL  time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// NewAuthService constructs AuthService. tokenTTL <= 0 falls back to
// 30 days.
func NewAuthService(store storage.Store, deviceSvc *DeviceService, tokenTTL time.Duration, logger zerolog.Logger) *AuthService {
	if tokenTTL <= 0 {
		tokenTTL = 30 * 24 * time.Hour
	}
	return &AuthService{
		store:     store,
		deviceSvc: deviceSvc,
		tokenTTL:  tokenTTL,
		logger:    logger.With().Str("component", "auth").Logger(),
		now:       time.Now,
	}
}

// Login authenticates a device by uuid + EK certificate and issues a
// fresh token, revoking every token the device still holds. The uuid
// and certificate are checked as a single predicate so a failure leaks
// nothing about which credential was wrong.
func (s *AuthService) Login(ctx context.Context, deviceUUID, ekCertificate string) (*model.DeviceToken, error) {
	device, err := s.store.GetDevice(ctx, deviceUUID)
	switch {
	case err == storage.ErrNotFound:
		return nil, authErr("device not found or invalid credentials")
	case err != nil:
		return nil, serviceErr("get device", err)
	}
	ekMatch := subtle.ConstantTimeCompare([]byte(device.EKCertificate), []byte(ekCertificate)) == 1
	if !ekMatch || !device.Active {
		return nil, authErr("device not found or invalid credentials")
	}

	value, err := crypto.GenerateToken(tokenBytes)
	if err != nil {
		return nil, serviceErr("generate token", err)
	}
	now := s.now().UTC()
	token := &model.DeviceToken{
		Token:      value,
		DeviceUUID: device.UUID,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.tokenTTL),
	}
	// Revocation of prior tokens and insertion of the new one happen in
	// one store transaction; concurrent logins serialize there.
	if err := s.store.ReplaceDeviceTokens(ctx, device.UUID, token); err != nil {
		return nil, serviceErr("rotate tokens", err)
	}
	s.deviceSvc.Touch(ctx, device)
	s.logger.Info().Str("uuid", device.UUID).Time("expires_at", token.ExpiresAt).Msg("device login")
	return token, nil
}

// Verify resolves a bearer token to its owning device. The device's
// active flag is re-checked through the directory on every call, so a
// device disabled mid-session is rejected even while its token is
// still live.
func (s *AuthService) Verify(ctx context.Context, tokenValue string) (*model.Device, error) {
	rec, err := s.store.GetToken(ctx, tokenValue)
	switch {
	case err == storage.ErrNotFound:
		return nil, authErr("invalid or expired token")
	case err != nil:
		return nil, serviceErr("get token", err)
	}
	if !rec.Valid(s.now().UTC()) {
		return nil, authErr("invalid or expired token")
	}
	return s.deviceSvc.Lookup(ctx, rec.DeviceUUID)
}

// Revoke marks a token revoked. Revoking twice is an error, not a
// no-op: the second caller learns the token was already dead.
func (s *AuthService) Revoke(ctx context.Context, tokenValue string) (*model.DeviceToken, error) {
	rec, err := s.store.GetToken(ctx, tokenValue)
	switch {
	case err == storage.ErrNotFound:
		return nil, notFoundErr("token not found")
	case err != nil:
		return nil, serviceErr("get token", err)
	}
	if rec.Revoked {
		return nil, validationErr("token already revoked")
	}
	rec.Revoked = true
	if err := s.store.UpdateToken(ctx, rec); err != nil {
		return nil, serviceErr("update token", err)
	}
	s.logger.Info().Str("uuid", rec.DeviceUUID).Msg("token revoked")
	return rec, nil
}
