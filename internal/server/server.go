package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bunker-labs/tpm-bunker-server/internal/config"
	"github.com/bunker-labs/tpm-bunker-server/internal/model"
	"github.com/bunker-labs/tpm-bunker-server/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

const deviceLocal = "device"

// Server wires HTTP handlers.
type Server struct {
	app          *fiber.App
	cfg          *config.Config
	deviceSvc    *service.DeviceService
	authSvc      *service.AuthService
	operationSvc *service.OperationService
	auditSvc     *service.AuditService
	adminSvc     *service.AdminService
	logger       zerolog.Logger
}

// New builds a server instance.
func New(cfg *config.Config, deviceSvc *service.DeviceService, authSvc *service.AuthService, operationSvc *service.OperationService, auditSvc *service.AuditService, adminSvc *service.AdminService, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		IdleTimeout:  cfg.HTTP.ReadTimeout,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		BodyLimit:    cfg.HTTP.BodyLimit,
		AppName:      "tpm-bunker-server",
	})
	s := &Server{
		app:          app,
		cfg:          cfg,
		deviceSvc:    deviceSvc,
		authSvc:      authSvc,
		operationSvc: operationSvc,
		auditSvc:     auditSvc,
		adminSvc:     adminSvc,
		logger:       logger.With().Str("component", "http").Logger(),
	}
	s.registerRoutes()
	return s
}

// Start listens and serves HTTP traffic.
func (s *Server) Start() error {
	return s.app.Listen(s.cfg.HTTP.Addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	s.app.Get("/healthz", s.handleHealth)

	s.app.Post("/auth/login", s.handleLogin)
	s.app.Post("/auth/verify", s.handleVerifyToken)
	s.app.Post("/auth/revoke", s.handleRevokeToken)

	s.app.Post("/devices/register", s.handleDeviceRegister)

	ops := s.app.Group("/operations", s.requireDevice)
	ops.Post("/store", s.handleStoreData)
	ops.Get("/retrieve", s.handleRetrieveData)
	ops.Get("/", s.handleOperationList)

	s.app.Post("/admin/login", s.handleAdminLogin)
	admin := s.app.Group("/admin", s.requireAdmin)
	admin.Get("/devices", s.handleAdminListDevices)
	admin.Get("/audit/list", s.handleAuditList)
	admin.Get("/audit/count/date", s.handleAuditCountDate)
	admin.Get("/audit/count/action", s.handleAuditCountAction)
	admin.Get("/audit/count/device", s.handleAuditCountDevice)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		UUID          string `json:"uuid"`
		EKCertificate string `json:"ek_certificate"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, "invalid request body")
	}
	token, err := s.authSvc.Login(c.UserContext(), req.UUID, req.EKCertificate)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(model.Success("login successful", fiber.Map{
		"token":      token.Token,
		"expires_at": token.ExpiresAt,
	}))
}

func (s *Server) handleVerifyToken(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, "invalid request body")
	}
	// verify never fails: an absent or expired token is simply invalid
	_, err := s.authSvc.Verify(c.UserContext(), req.Token)
	return c.JSON(model.Success("ok", fiber.Map{"valid": err == nil}))
}

func (s *Server) handleRevokeToken(c *fiber.Ctx) error {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, "invalid request body")
	}
	rec, err := s.authSvc.Revoke(c.UserContext(), req.Token)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(model.Success("token revoked", fiber.Map{
		"token":      rec.Token,
		"expires_at": rec.ExpiresAt,
		"is_revoked": rec.Revoked,
	}))
}

func (s *Server) handleDeviceRegister(c *fiber.Ctx) error {
	var req service.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, "invalid request body")
	}
	device, err := s.deviceSvc.Register(c.UserContext(), req)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.Status(http.StatusCreated).JSON(model.Success("device registered", fiber.Map{
		"uuid":          device.UUID,
		"registered_at": device.RegisteredAt,
	}))
}

func (s *Server) handleStoreData(c *fiber.Ctx) error {
	device := s.deviceFromCtx(c)

	fileHeader, err := c.FormFile("encrypted_data")
	if err != nil {
		return s.fail(c, http.StatusBadRequest, "encrypted_data file is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return s.fail(c, http.StatusBadRequest, "cannot read encrypted_data")
	}
	defer file.Close()
	envelope, err := io.ReadAll(file)
	if err != nil {
		return s.fail(c, http.StatusBadRequest, "cannot read encrypted_data")
	}

	metadata, err := parseMetadata(c.FormValue("metadata"))
	if err != nil {
		return s.fail(c, http.StatusBadRequest, "metadata must be a JSON object of strings")
	}

	req := service.StoreRequest{
		Envelope:               envelope,
		WrappedSymmetricKeyB64: c.FormValue("encrypted_symmetric_key"),
		DigitalSignatureB64:    c.FormValue("digital_signature"),
		OriginalHash:           c.FormValue("hash_original"),
		Metadata:               metadata,
		FileName:               fileHeader.Filename,
	}
	if req.WrappedSymmetricKeyB64 == "" || req.DigitalSignatureB64 == "" || req.OriginalHash == "" {
		return s.fail(c, http.StatusBadRequest, "encrypted_symmetric_key, digital_signature and hash_original are required")
	}

	ctx := c.UserContext()
	if s.cfg.HTTP.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.HTTP.WriteTimeout)
		defer cancel()
	}
	result, err := s.operationSvc.Store(ctx, device, req)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.Status(http.StatusCreated).JSON(model.Success("data stored", result))
}

func (s *Server) handleRetrieveData(c *fiber.Ctx) error {
	device := s.deviceFromCtx(c)
	operationID := c.Query("operation_id")
	if operationID == "" {
		return s.fail(c, http.StatusBadRequest, "operation_id is required")
	}
	result, err := s.operationSvc.Retrieve(c.UserContext(), device, operationID)
	if err != nil {
		return s.failErr(c, err)
	}

	fileName := result.FileName
	if fileName == "" {
		fileName = "encrypted_data.bin"
	}
	c.Set(fiber.HeaderContentType, "application/octet-stream")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+url.PathEscape(fileName)+`"`)
	c.Set("X-Wrapped-Key", base64.StdEncoding.EncodeToString(result.WrappedSymmetricKey))
	c.Set("X-Digital-Signature", base64.StdEncoding.EncodeToString(result.DigitalSignature))
	c.Set("X-Original-Hash", result.OriginalHash)
	c.Set("X-File-Name", url.PathEscape(fileName))
	return c.Send(result.Envelope)
}

func (s *Server) handleOperationList(c *fiber.Ctx) error {
	device := s.deviceFromCtx(c)
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "10"))
	result, err := s.operationSvc.List(c.UserContext(), device, page, pageSize)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(model.Success("ok", result))
}

func (s *Server) handleAdminLogin(c *fiber.Ctx) error {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, http.StatusBadRequest, "invalid request body")
	}
	if !s.adminSvc.Enabled() {
		return c.JSON(model.Success("authentication disabled", fiber.Map{
			"token":   "",
			"enabled": false,
		}))
	}
	token, err := s.adminSvc.Authenticate(req.Username, req.Password)
	if err != nil {
		return s.fail(c, http.StatusUnauthorized, "invalid username or password")
	}
	return c.JSON(model.Success("login successful", fiber.Map{
		"token":   token,
		"enabled": true,
	}))
}

func (s *Server) handleAdminListDevices(c *fiber.Ctx) error {
	views, err := s.deviceSvc.ListViews(c.UserContext())
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(model.Success("ok", views))
}

func (s *Server) handleAuditList(c *fiber.Ctx) error {
	filter := parseAuditFilter(c)
	page, err := s.auditSvc.Query(c.UserContext(), filter)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(model.Success("ok", page))
}

func (s *Server) handleAuditCountDate(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.auditSvc.CountByDate(c.UserContext(), c.Query("dateType", "day"), begin, end)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(model.Success("ok", data))
}

func (s *Server) handleAuditCountAction(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.auditSvc.CountByAction(c.UserContext(), begin, end)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(model.Success("ok", data))
}

func (s *Server) handleAuditCountDevice(c *fiber.Ctx) error {
	begin, end := parseTimeRange(c)
	data, err := s.auditSvc.CountByDevice(c.UserContext(), begin, end)
	if err != nil {
		return s.failErr(c, err)
	}
	return c.JSON(model.Success("ok", data))
}

// requireDevice resolves the bearer token to its owning device and
// stashes the principal in request locals as a plain value. When the
// client also sends an X-Device-UUID header it must agree with the
// token's owner.
func (s *Server) requireDevice(c *fiber.Ctx) error {
	token := extractBearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		return s.fail(c, http.StatusUnauthorized, "missing bearer token")
	}
	device, err := s.authSvc.Verify(c.UserContext(), token)
	if err != nil {
		return s.failErr(c, err)
	}
	if header := strings.TrimSpace(c.Get("X-Device-UUID")); header != "" && header != device.UUID {
		return s.fail(c, http.StatusUnauthorized, "device identity mismatch")
	}
	c.Locals(deviceLocal, device)
	return c.Next()
}

func (s *Server) requireAdmin(c *fiber.Ctx) error {
	if !s.adminSvc.Enabled() {
		return c.Next()
	}
	token := extractBearerToken(c.Get(fiber.HeaderAuthorization))
	if token == "" {
		return s.fail(c, http.StatusUnauthorized, "not logged in")
	}
	claims, err := s.adminSvc.Validate(token)
	if err != nil {
		return s.fail(c, http.StatusUnauthorized, "session expired")
	}
	c.Locals("username", claims.Username)
	return c.Next()
}

func (s *Server) deviceFromCtx(c *fiber.Ctx) *model.Device {
	device, _ := c.Locals(deviceLocal).(*model.Device)
	return device
}

func (s *Server) failErr(c *fiber.Ctx, err error) error {
	status := http.StatusInternalServerError
	switch service.ErrKind(err) {
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindAuthentication:
		status = http.StatusUnauthorized
	case service.KindNotFound:
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
		// internal detail stays out of the response
		return s.fail(c, status, "internal error")
	}
	return s.fail(c, status, err.Error())
}

func (s *Server) fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(model.Error(message))
}

func extractBearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return header
}

func parseMetadata(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func parseAuditFilter(c *fiber.Ctx) model.AuditLogFilter {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "10"))
	begin, end := parseTimeRange(c)
	return model.AuditLogFilter{
		DeviceUUID:  c.Query("device"),
		OperationID: c.Query("operation"),
		Action:      c.Query("action"),
		BeginTime:   begin,
		EndTime:     end,
		Page:        page,
		PageSize:    pageSize,
	}
}

func parseTimeRange(c *fiber.Ctx) (*time.Time, *time.Time) {
	return parseTime(c.Query("beginTime")), parseTime(c.Query("endTime"))
}

func parseTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}
