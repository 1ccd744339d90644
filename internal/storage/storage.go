package storage

import (
	"context"

	"github.com/bunker-labs/tpm-bunker-server/internal/model"
)

// Store abstracts persistence for devices, tokens, operations,
// encrypted packages and the audit log.
type Store interface {
	CreateDevice(ctx context.Context, device *model.Device) error
	GetDevice(ctx context.Context, uuid string) (*model.Device, error)
	UpdateDevice(ctx context.Context, device *model.Device) error
	ListDevices(ctx context.Context) ([]*model.Device, error)

	GetToken(ctx context.Context, token string) (*model.DeviceToken, error)
	UpdateToken(ctx context.Context, token *model.DeviceToken) error
	// ReplaceDeviceTokens revokes every non-revoked token owned by the
	// device and inserts the fresh one in a single transaction, so a
	// racing login can never observe a half-finished rotation.
	ReplaceDeviceTokens(ctx context.Context, deviceUUID string, fresh *model.DeviceToken) error

	CreateOperation(ctx context.Context, op *model.Operation) error
	GetOperation(ctx context.Context, id string) (*model.Operation, error)
	UpdateOperation(ctx context.Context, op *model.Operation) error
	ListOperationsByDevice(ctx context.Context, deviceUUID string) ([]*model.Operation, error)

	CreatePackage(ctx context.Context, pkg *model.EncryptedPackage) error
	GetPackage(ctx context.Context, operationID string) (*model.EncryptedPackage, error)

	AppendOperationLog(ctx context.Context, entry *model.OperationLogEntry) error
	ListOperationLogs(ctx context.Context) ([]*model.OperationLogEntry, error)

	Close() error
}
