package bolt

import (
	"context"

	"github.com/bunker-labs/tpm-bunker-server/internal/blob"
	bolt "go.etcd.io/bbolt"
)

var _ blob.Store = (*BlobStore)(nil)

// BlobStore serves the blob contract out of the same Bolt file as the
// document store. Good enough for small deployments where envelope
// payloads stay modest.
type BlobStore struct {
	db *bolt.DB
}

// Blobs returns a blob.Store view over this store's database.
func (s *Store) Blobs() *BlobStore {
	return &BlobStore{db: s.db}
}

// Put stores blob bytes under ref.
func (b *BlobStore) Put(ctx context.Context, ref string, data []byte) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Put([]byte(ref), data)
	})
}

// Get fetches blob bytes by ref.
func (b *BlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBlobs).Get([]byte(ref))
		if raw == nil {
			return blob.ErrNotFound
		}
		data = append([]byte(nil), raw...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes a blob; absent refs are not an error.
func (b *BlobStore) Delete(ctx context.Context, ref string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlobs).Delete([]byte(ref))
	})
}
