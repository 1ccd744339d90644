package service

import (
	"context"
	"encoding/base64"
	"sort"
	"time"

	"github.com/bunker-labs/tpm-bunker-server/internal/blob"
	"github.com/bunker-labs/tpm-bunker-server/internal/crypto"
	"github.com/bunker-labs/tpm-bunker-server/internal/model"
	"github.com/bunker-labs/tpm-bunker-server/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// OperationService drives the store/retrieve operation lifecycle and
// the append-only audit trail. It is the only component that mutates
// Operation status.
type OperationService struct {
	store  storage.Store
	blobs  blob.Store
	logger zerolog.Logger
}

// StoreRequest carries a device's encrypted package submission.
// Envelope holds the raw wire bytes (IV + ciphertext); the key and
// signature arrive base64-encoded from the HTTP boundary.
type StoreRequest struct {
	Envelope               []byte
	WrappedSymmetricKeyB64 string
	DigitalSignatureB64    string
	OriginalHash           string
	Metadata               map[string]string
	FileName               string
}

// StoreResult reports a successful store.
type StoreResult struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
}

// RetrieveResult returns the stored envelope and its key material.
type RetrieveResult struct {
	Envelope            []byte
	WrappedSymmetricKey []byte
	DigitalSignature    []byte
	OriginalHash        string
	Metadata            map[string]string
	FileName            string
	FileSize            int64
}

// NewOperationService constructs OperationService.
func NewOperationService(store storage.Store, blobs blob.Store, logger zerolog.Logger) *OperationService {
	return &OperationService{
		store:  store,
		blobs:  blobs,
		logger: logger.With().Str("component", "operation").Logger(),
	}
}

// Store runs the full store pipeline for an authenticated device:
// decode the envelope, verify the device's signature over its raw
// bytes, persist the blob and the package record, and complete the
// operation. Every failure path leaves the operation FAILED with a
// STORE_FAILED audit entry; no partially-built package survives.
func (s *OperationService) Store(ctx context.Context, device *model.Device, req StoreRequest) (*StoreResult, error) {
	op, err := s.create(ctx, device, model.OperationStore)
	if err != nil {
		return nil, err
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(req.WrappedSymmetricKeyB64)
	if err != nil {
		return nil, s.failWith(ctx, op, validationErr("invalid encrypted_symmetric_key format"))
	}

	if _, _, err := crypto.DecodeEnvelope(req.Envelope); err != nil {
		return nil, s.failWith(ctx, op, validationErr("malformed envelope: %v", err))
	}

	signature, err := base64.StdEncoding.DecodeString(req.DigitalSignatureB64)
	if err != nil {
		return nil, s.failWith(ctx, op, validationErr("invalid digital_signature format"))
	}
	if !crypto.VerifySignature(device.PublicKey, req.Envelope, signature) {
		return nil, s.failWith(ctx, op, authErr("invalid digital signature"))
	}

	blobRef := uuid.NewString()
	if err := s.blobs.Put(ctx, blobRef, req.Envelope); err != nil {
		return nil, s.failWith(ctx, op, serviceErr("store blob", err))
	}

	pkg := &model.EncryptedPackage{
		OperationID:         op.ID,
		FileName:            req.FileName,
		FileSize:            int64(len(req.Envelope)),
		BlobRef:             blobRef,
		WrappedSymmetricKey: wrappedKey,
		DigitalSignature:    signature,
		OriginalHash:        req.OriginalHash,
		Metadata:            req.Metadata,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.store.CreatePackage(ctx, pkg); err != nil {
		// The blob must not outlive a package that was never created.
		if delErr := s.blobs.Delete(ctx, blobRef); delErr != nil {
			s.logger.Error().Err(delErr).Str("blob_ref", blobRef).Msg("orphan blob cleanup failed")
		}
		return nil, s.failWith(ctx, op, serviceErr("create package", err))
	}

	if err := s.complete(ctx, op, map[string]string{"blob_ref": blobRef, "file_name": req.FileName}); err != nil {
		return nil, err
	}
	s.logger.Info().Str("operation_id", op.ID).Str("uuid", device.UUID).Int64("file_size", pkg.FileSize).Msg("store completed")
	return &StoreResult{OperationID: op.ID, Status: "success"}, nil
}

// Retrieve returns the stored package for a COMPLETED operation owned
// by the calling device. Operations of other devices, non-terminal
// operations and failed operations are all the same "operation not
// found" to the caller.
func (s *OperationService) Retrieve(ctx context.Context, device *model.Device, operationID string) (*RetrieveResult, error) {
	if _, err := uuid.Parse(operationID); err != nil {
		return nil, validationErr("invalid operation id")
	}

	op, err := s.store.GetOperation(ctx, operationID)
	switch {
	case err == storage.ErrNotFound:
		return nil, notFoundErr("operation not found")
	case err != nil:
		return nil, serviceErr("get operation", err)
	}
	if op.DeviceUUID != device.UUID || op.Status != model.StatusCompleted {
		return nil, notFoundErr("operation not found")
	}

	pkg, err := s.store.GetPackage(ctx, op.ID)
	switch {
	case err == storage.ErrNotFound:
		// A completed STORE without its package is corruption, not a
		// benign miss; keep the two cases apart in the logs.
		s.logger.Error().Str("operation_id", op.ID).Msg("completed operation has no package")
		return nil, notFoundErr("package not found")
	case err != nil:
		return nil, serviceErr("get package", err)
	}

	envelope, err := s.blobs.Get(ctx, pkg.BlobRef)
	switch {
	case err == blob.ErrNotFound:
		s.logger.Error().Str("operation_id", op.ID).Str("blob_ref", pkg.BlobRef).Msg("package blob missing")
		return nil, notFoundErr("package not found")
	case err != nil:
		return nil, serviceErr("fetch blob", err)
	}

	return &RetrieveResult{
		Envelope:            envelope,
		WrappedSymmetricKey: pkg.WrappedSymmetricKey,
		DigitalSignature:    pkg.DigitalSignature,
		OriginalHash:        pkg.OriginalHash,
		Metadata:            pkg.Metadata,
		FileName:            pkg.FileName,
		FileSize:            pkg.FileSize,
	}, nil
}

// List returns the device's operations newest-first, with file facts
// from the related package when one exists.
func (s *OperationService) List(ctx context.Context, device *model.Device, page, pageSize int) (*model.OperationPage, error) {
	ops, err := s.store.ListOperationsByDevice(ctx, device.UUID)
	if err != nil {
		return nil, serviceErr("list operations", err)
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			// v7 ids are time-ordered, so this keeps ties deterministic
			return ops[i].ID > ops[j].ID
		}
		return ops[i].CreatedAt.After(ops[j].CreatedAt)
	})

	total := len(ops)
	if pageSize <= 0 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}
	if page <= 0 {
		page = 1
	}
	start := min((page-1)*pageSize, total)
	end := min(start+pageSize, total)

	views := make([]*model.OperationView, 0, end-start)
	for _, op := range ops[start:end] {
		view := &model.OperationView{
			ID:           op.ID,
			Type:         op.Type,
			Status:       op.Status,
			ErrorMessage: op.ErrorMessage,
			CreatedAt:    op.CreatedAt,
		}
		if pkg, err := s.store.GetPackage(ctx, op.ID); err == nil {
			view.FileName = pkg.FileName
			view.FileSize = pkg.FileSize
		}
		views = append(views, view)
	}

	return &model.OperationPage{
		Data:     views,
		Total:    total,
		Pages:    (total + pageSize - 1) / pageSize,
		PageNum:  page,
		PageSize: pageSize,
	}, nil
}

// create opens an operation already in PROCESSING: requests go
// in-flight the moment they are accepted, there is no queued state.
func (s *OperationService) create(ctx context.Context, device *model.Device, opType string) (*model.Operation, error) {
	now := time.Now().UTC()
	id, err := uuid.NewV7()
	if err != nil {
		return nil, serviceErr("generate operation id", err)
	}
	op := &model.Operation{
		ID:         id.String(),
		DeviceUUID: device.UUID,
		Type:       opType,
		Status:     model.StatusProcessing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateOperation(ctx, op); err != nil {
		return nil, serviceErr("create operation", err)
	}
	return op, nil
}

// complete transitions to COMPLETED and appends the audit entry.
func (s *OperationService) complete(ctx context.Context, op *model.Operation, details map[string]string) error {
	if op.Terminal() {
		return transitionErr("operation %s already %s", op.ID, op.Status)
	}
	op.Status = model.StatusCompleted
	op.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateOperation(ctx, op); err != nil {
		return serviceErr("update operation", err)
	}
	s.appendLog(ctx, op, op.Type+"_COMPLETED", details)
	return nil
}

// fail transitions to FAILED, records the error message and appends
// the audit entry.
func (s *OperationService) fail(ctx context.Context, op *model.Operation, msg string) error {
	if op.Terminal() {
		return transitionErr("operation %s already %s", op.ID, op.Status)
	}
	op.Status = model.StatusFailed
	op.ErrorMessage = msg
	op.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateOperation(ctx, op); err != nil {
		return serviceErr("update operation", err)
	}
	s.appendLog(ctx, op, op.Type+"_FAILED", map[string]string{"error": msg})
	return nil
}

// failWith marks the operation failed with cause's message and hands
// cause back so the caller surfaces the original typed error. The
// transition write is detached from ctx cancellation so an aborted
// request cannot leave the operation stuck in PROCESSING.
func (s *OperationService) failWith(ctx context.Context, op *model.Operation, cause *Error) error {
	if err := s.fail(context.WithoutCancel(ctx), op, cause.Msg); err != nil {
		s.logger.Error().Err(err).Str("operation_id", op.ID).Msg("fail transition")
	}
	return cause
}

func (s *OperationService) appendLog(ctx context.Context, op *model.Operation, action string, details map[string]string) {
	entry := &model.OperationLogEntry{
		OperationID: op.ID,
		DeviceUUID:  op.DeviceUUID,
		Action:      action,
		Details:     details,
		Timestamp:   time.Now().UTC(),
	}
	// a failed audit write is logged but does not change the
	// operation outcome
	if err := s.store.AppendOperationLog(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("operation_id", op.ID).Str("action", action).Msg("append audit entry")
	}
}
