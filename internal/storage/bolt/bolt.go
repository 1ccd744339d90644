package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/bunker-labs/tpm-bunker-server/internal/model"
	"github.com/bunker-labs/tpm-bunker-server/internal/storage"
	bolt "go.etcd.io/bbolt"
)

var _ storage.Store = (*Store)(nil)

var (
	bucketDevices    = []byte("devices")
	bucketTokens     = []byte("tokens")
	bucketOperations = []byte("operations")
	bucketPackages   = []byte("packages")
	bucketOpLogs     = []byte("op_logs")
	bucketBlobs      = []byte("blobs")
)

// Store is a BoltDB-backed Store implementation. Records are stored as
// JSON documents keyed by their natural identifier: devices by uuid,
// tokens by token value, operations and packages by operation id.
type Store struct {
	db *bolt.DB
}

// New initialises the Bolt store.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketDevices, bucketTokens, bucketOperations,
			bucketPackages, bucketOpLogs, bucketBlobs,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying Bolt DB.
func (s *Store) Close() error {
	return s.db.Close()
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// CreateDevice inserts a device; a device with the same uuid is a
// conflict, never silently overwritten.
func (s *Store) CreateDevice(ctx context.Context, device *model.Device) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(device)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDevices)
		if bkt.Get([]byte(device.UUID)) != nil {
			return storage.ErrConflict
		}
		return bkt.Put([]byte(device.UUID), payload)
	})
}

// GetDevice fetches a device by uuid.
func (s *Store) GetDevice(ctx context.Context, uuid string) (*model.Device, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var device model.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDevices).Get([]byte(uuid))
		if raw == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(raw, &device)
	})
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// UpdateDevice overwrites an existing device record.
func (s *Store) UpdateDevice(ctx context.Context, device *model.Device) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(device)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketDevices)
		if bkt.Get([]byte(device.UUID)) == nil {
			return storage.ErrNotFound
		}
		return bkt.Put([]byte(device.UUID), payload)
	})
}

// ListDevices returns all devices.
func (s *Store) ListDevices(ctx context.Context) ([]*model.Device, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var devices []*model.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDevices).ForEach(func(_, v []byte) error {
			var device model.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			devices = append(devices, &device)
			return nil
		})
	})
	return devices, err
}

// GetToken fetches a token record by its value.
func (s *Store) GetToken(ctx context.Context, token string) (*model.DeviceToken, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var rec model.DeviceToken
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTokens).Get([]byte(token))
		if raw == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateToken overwrites an existing token record.
func (s *Store) UpdateToken(ctx context.Context, token *model.DeviceToken) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketTokens)
		if bkt.Get([]byte(token.Token)) == nil {
			return storage.ErrNotFound
		}
		return bkt.Put([]byte(token.Token), payload)
	})
}

// ReplaceDeviceTokens revokes all live tokens for a device and inserts
// the fresh one within one write transaction.
func (s *Store) ReplaceDeviceTokens(ctx context.Context, deviceUUID string, fresh *model.DeviceToken) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketTokens)
		cur := bkt.Cursor()
		for k, v := cur.First(); k != nil; k, v = cur.Next() {
			var rec model.DeviceToken
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.DeviceUUID != deviceUUID || rec.Revoked {
				continue
			}
			rec.Revoked = true
			payload, err := json.Marshal(&rec)
			if err != nil {
				return err
			}
			if err := bkt.Put(k, payload); err != nil {
				return err
			}
		}
		payload, err := json.Marshal(fresh)
		if err != nil {
			return err
		}
		return bkt.Put([]byte(fresh.Token), payload)
	})
}

// CreateOperation inserts a new operation record.
func (s *Store) CreateOperation(ctx context.Context, op *model.Operation) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketOperations)
		if bkt.Get([]byte(op.ID)) != nil {
			return storage.ErrConflict
		}
		return bkt.Put([]byte(op.ID), payload)
	})
}

// GetOperation fetches an operation by id.
func (s *Store) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var op model.Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketOperations).Get([]byte(id))
		if raw == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(raw, &op)
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// UpdateOperation overwrites an existing operation record.
func (s *Store) UpdateOperation(ctx context.Context, op *model.Operation) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketOperations)
		if bkt.Get([]byte(op.ID)) == nil {
			return storage.ErrNotFound
		}
		return bkt.Put([]byte(op.ID), payload)
	})
}

// ListOperationsByDevice returns all operations owned by the device.
func (s *Store) ListOperationsByDevice(ctx context.Context, deviceUUID string) ([]*model.Operation, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var ops []*model.Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOperations).ForEach(func(_, v []byte) error {
			var op model.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			if op.DeviceUUID == deviceUUID {
				ops = append(ops, &op)
			}
			return nil
		})
	})
	return ops, err
}

// CreatePackage inserts a package record keyed by its operation id.
func (s *Store) CreatePackage(ctx context.Context, pkg *model.EncryptedPackage) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(pkg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketPackages)
		if bkt.Get([]byte(pkg.OperationID)) != nil {
			return storage.ErrConflict
		}
		return bkt.Put([]byte(pkg.OperationID), payload)
	})
}

// GetPackage fetches the package for an operation.
func (s *Store) GetPackage(ctx context.Context, operationID string) (*model.EncryptedPackage, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var pkg model.EncryptedPackage
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPackages).Get([]byte(operationID))
		if raw == nil {
			return storage.ErrNotFound
		}
		return json.Unmarshal(raw, &pkg)
	})
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// AppendOperationLog stores an audit entry under a monotonic sequence
// key. Entries are never updated or deleted.
func (s *Store) AppendOperationLog(ctx context.Context, entry *model.OperationLogEntry) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketOpLogs)
		id, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = id
		payload, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, id)
		return bkt.Put(key, payload)
	})
}

// ListOperationLogs returns all audit entries in append order.
func (s *Store) ListOperationLogs(ctx context.Context) ([]*model.OperationLogEntry, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var entries []*model.OperationLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOpLogs).ForEach(func(_, v []byte) error {
			var entry model.OperationLogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	return entries, err
}
