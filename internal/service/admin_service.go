package service

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/bunker-labs/tpm-bunker-server/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AdminService handles operator authentication for the audit and
// device-admin surface. Operators hold short-lived JWTs, unrelated to
// the opaque device tokens the token authority issues.
type AdminService struct {
	enabled  bool
	username string
	password string
	secret   []byte
}

// AdminClaims represents the operator JWT payload.
type AdminClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// NewAdminService builds AdminService from config.
func NewAdminService(cfg *config.Config) *AdminService {
	adminCfg := cfg.Admin
	username := strings.TrimSpace(adminCfg.Username)
	if username == "" {
		username = "admin"
	}
	secret := strings.TrimSpace(adminCfg.JWTSecret)
	if secret == "" {
		secret = "tpm-bunker-default-secret"
	}
	return &AdminService{
		enabled:  adminCfg.Enabled,
		username: username,
		password: strings.TrimSpace(adminCfg.Password),
		secret:   []byte(secret),
	}
}

// Enabled reports whether operator authentication is enforced.
func (a *AdminService) Enabled() bool {
	return a != nil && a.enabled
}

// Authenticate validates operator credentials and returns a JWT.
func (a *AdminService) Authenticate(username, password string) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	if !a.matchUsername(username) || !a.matchPassword(password) {
		return "", authErr("invalid username or password")
	}
	claims := AdminClaims{
		Username: a.username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Validate parses an operator token and returns its claims if valid.
func (a *AdminService) Validate(token string) (*AdminClaims, error) {
	if !a.Enabled() {
		return &AdminClaims{Username: "anonymous"}, nil
	}
	parsed, err := jwt.ParseWithClaims(token, &AdminClaims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, authErr("invalid session")
	}
	if claims, ok := parsed.Claims.(*AdminClaims); ok && parsed.Valid {
		return claims, nil
	}
	return nil, authErr("invalid session")
}

func (a *AdminService) matchUsername(input string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(input)), []byte(a.username)) == 1
}

func (a *AdminService) matchPassword(input string) bool {
	if strings.HasPrefix(a.password, "$2a$") || strings.HasPrefix(a.password, "$2b$") || strings.HasPrefix(a.password, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(a.password), []byte(input)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(input), []byte(a.password)) == 1
}
