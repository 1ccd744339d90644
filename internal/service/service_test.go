package service

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"path/filepath"
	"testing"
	"time"

	bunkercrypto "github.com/bunker-labs/tpm-bunker-server/internal/crypto"
	"github.com/bunker-labs/tpm-bunker-server/internal/model"
	boltstore "github.com/bunker-labs/tpm-bunker-server/internal/storage/bolt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type testEnv struct {
	store        *boltstore.Store
	deviceSvc    *DeviceService
	authSvc      *AuthService
	operationSvc *OperationService
	auditSvc     *AuditService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := boltstore.New(filepath.Join(t.TempDir(), "bunker.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := zerolog.Nop()
	deviceSvc := NewDeviceService(store, logger)
	return &testEnv{
		store:        store,
		deviceSvc:    deviceSvc,
		authSvc:      NewAuthService(store, deviceSvc, 0, logger),
		operationSvc: NewOperationService(store, store.Blobs(), logger),
		auditSvc:     NewAuditService(store),
	}
}

type testDevice struct {
	device *model.Device
	key    *rsa.PrivateKey
}

func registerDevice(t *testing.T, env *testEnv) *testDevice {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	device, err := env.deviceSvc.Register(context.Background(), RegisterRequest{
		UUID:          uuid.NewString(),
		EKCertificate: "ek-cert-" + uuid.NewString(),
		AIK:           "aik-material",
		PublicKey:     pubPEM,
	})
	if err != nil {
		t.Fatalf("register device: %v", err)
	}
	return &testDevice{device: device, key: key}
}

// buildStoreRequest produces a well-formed device submission: an
// IV-prefixed AES-CBC envelope, an OAEP-wrapped symmetric key and a
// PSS signature over the raw envelope bytes.
func buildStoreRequest(t *testing.T, td *testDevice, plaintext []byte) StoreRequest {
	t.Helper()
	symKey := make([]byte, 32)
	iv := make([]byte, 16)
	if _, err := rand.Read(symKey); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand: %v", err)
	}

	envelope, err := bunkercrypto.EncodeEnvelope(plaintext, symKey, iv)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &td.key.PublicKey, symKey, nil)
	if err != nil {
		t.Fatalf("wrap key: %v", err)
	}

	digest := sha256.Sum256(envelope)
	signature, err := rsa.SignPSS(rand.Reader, td.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		t.Fatalf("sign envelope: %v", err)
	}

	origHash := sha256.Sum256(plaintext)
	return StoreRequest{
		Envelope:               envelope,
		WrappedSymmetricKeyB64: base64.StdEncoding.EncodeToString(wrappedKey),
		DigitalSignatureB64:    base64.StdEncoding.EncodeToString(signature),
		OriginalHash:           base64.StdEncoding.EncodeToString(origHash[:]),
		Metadata:               map[string]string{"source": "test"},
		FileName:               "secret.bin",
	}
}

func wantKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got := ErrKind(err); got != kind {
		t.Fatalf("error kind = %v, want %v (err: %v)", got, kind, err)
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
