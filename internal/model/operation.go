package model

import "time"

// Operation tracks one store/retrieve/delete attempt for a device.
type Operation struct {
	ID           string    `json:"id"`
	DeviceUUID   string    `json:"device_uuid"`
	Type         string    `json:"operation_type"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	OperationStore    = "STORE"
	OperationRetrieve = "RETRIEVE"
	OperationDelete   = "DELETE"
)

const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Terminal reports whether the operation has reached a final status.
func (o *Operation) Terminal() bool {
	return o.Status == StatusCompleted || o.Status == StatusFailed
}

// EncryptedPackage is the stored envelope record, 1:1 with a completed
// STORE operation. The envelope bytes themselves live in the blob store
// under BlobRef.
type EncryptedPackage struct {
	OperationID         string            `json:"operation_id"`
	FileName            string            `json:"file_name"`
	FileSize            int64             `json:"file_size"`
	BlobRef             string            `json:"blob_ref"`
	WrappedSymmetricKey []byte            `json:"encrypted_symmetric_key"`
	DigitalSignature    []byte            `json:"digital_signature"`
	OriginalHash        string            `json:"hash_original"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
}

// OperationLogEntry is an append-only audit fact about an operation.
type OperationLogEntry struct {
	ID          uint64            `json:"id"`
	OperationID string            `json:"operation_id"`
	DeviceUUID  string            `json:"device_uuid"`
	Action      string            `json:"action"`
	Details     map[string]string `json:"details,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// OperationView is the list representation returned to devices,
// flattening the related package's file facts when one exists.
type OperationView struct {
	ID           string    `json:"id"`
	Type         string    `json:"operation_type"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	FileName     string    `json:"file_name,omitempty"`
	FileSize     int64     `json:"file_size,omitempty"`
}

// AuditLogFilter describes query parameters for audit log searching.
type AuditLogFilter struct {
	DeviceUUID  string
	OperationID string
	Action      string
	BeginTime   *time.Time
	EndTime     *time.Time
	Page        int
	PageSize    int
}
