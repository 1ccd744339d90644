package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bunker-labs/tpm-bunker-server/internal/blob"
	"github.com/bunker-labs/tpm-bunker-server/internal/model"
	"github.com/bunker-labs/tpm-bunker-server/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "bunker.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDeviceCreateGetConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	device := &model.Device{ID: "id-1", UUID: "uuid-1", EKCertificate: "ek", Active: true}
	if err := s.CreateDevice(ctx, device); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateDevice(ctx, device); err != storage.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := s.GetDevice(ctx, "uuid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.EKCertificate != "ek" || !got.Active {
		t.Fatalf("unexpected device %+v", got)
	}

	if _, err := s.GetDevice(ctx, "missing"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateDeviceMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateDevice(context.Background(), &model.Device{UUID: "nope"})
	if err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReplaceDeviceTokens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := &model.DeviceToken{Token: "tok-1", DeviceUUID: "dev-a", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.ReplaceDeviceTokens(ctx, "dev-a", first); err != nil {
		t.Fatalf("insert first: %v", err)
	}
	other := &model.DeviceToken{Token: "tok-other", DeviceUUID: "dev-b", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.ReplaceDeviceTokens(ctx, "dev-b", other); err != nil {
		t.Fatalf("insert other: %v", err)
	}

	second := &model.DeviceToken{Token: "tok-2", DeviceUUID: "dev-a", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := s.ReplaceDeviceTokens(ctx, "dev-a", second); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	got, err := s.GetToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("get first: %v", err)
	}
	if !got.Revoked {
		t.Fatal("first token should be revoked after rotation")
	}

	got, err = s.GetToken(ctx, "tok-2")
	if err != nil {
		t.Fatalf("get second: %v", err)
	}
	if got.Revoked {
		t.Fatal("fresh token must not be revoked")
	}

	// another device's tokens are untouched
	got, err = s.GetToken(ctx, "tok-other")
	if err != nil {
		t.Fatalf("get other: %v", err)
	}
	if got.Revoked {
		t.Fatal("other device's token was revoked")
	}
}

func TestOperationLifecyclePersistence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	op := &model.Operation{ID: "op-1", DeviceUUID: "dev-a", Type: model.OperationStore, Status: model.StatusProcessing, CreatedAt: time.Now().UTC()}
	if err := s.CreateOperation(ctx, op); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateOperation(ctx, op); err != storage.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	op.Status = model.StatusCompleted
	if err := s.UpdateOperation(ctx, op); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetOperation(ctx, "op-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}

	ops, err := s.ListOperationsByDevice(ctx, "dev-a")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("listed %d operations, want 1", len(ops))
	}
	if ops, _ := s.ListOperationsByDevice(ctx, "dev-b"); len(ops) != 0 {
		t.Fatal("listed operations for the wrong device")
	}
}

func TestPackageUniquePerOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pkg := &model.EncryptedPackage{OperationID: "op-1", BlobRef: "blob-1", FileName: "a.bin"}
	if err := s.CreatePackage(ctx, pkg); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreatePackage(ctx, pkg); err != storage.ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := s.GetPackage(ctx, "op-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BlobRef != "blob-1" {
		t.Fatalf("blob ref = %s", got.BlobRef)
	}
	if _, err := s.GetPackage(ctx, "op-2"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOperationLogAppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, action := range []string{"STORE_COMPLETED", "STORE_FAILED", "RETRIEVE_COMPLETED"} {
		entry := &model.OperationLogEntry{OperationID: "op-1", DeviceUUID: "dev-a", Action: action}
		if err := s.AppendOperationLog(ctx, entry); err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
		if entry.ID == 0 {
			t.Fatal("append did not assign a sequence id")
		}
		if entry.Timestamp.IsZero() {
			t.Fatal("append did not stamp the entry")
		}
	}

	entries, err := s.ListOperationLogs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("listed %d entries, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].ID <= entries[i-1].ID {
			t.Fatal("entries not in append order")
		}
	}
}

func TestBlobStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	blobs := s.Blobs()

	data := []byte("envelope bytes")
	if err := blobs.Put(ctx, "ref-1", data); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := blobs.Get(ctx, "ref-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != string(data) {
		t.Fatal("blob content mismatch")
	}
	if err := blobs.Delete(ctx, "ref-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := blobs.Get(ctx, "ref-1"); err != blob.ErrNotFound {
		t.Fatalf("expected blob.ErrNotFound, got %v", err)
	}
	if err := blobs.Delete(ctx, "ref-1"); err != nil {
		t.Fatalf("second delete should be a no-op, got %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.GetDevice(ctx, "uuid-1"); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
