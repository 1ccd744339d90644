package blob

import (
	"context"
	"os"
	"path/filepath"
)

var _ Store = (*FSStore)(nil)

// FSStore keeps each blob as one file under a directory. Suitable for
// deployments where envelopes grow beyond what the document store
// should carry inline.
type FSStore struct {
	dir string
}

// NewFSStore creates the directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FSStore{dir: dir}, nil
}

func (f *FSStore) path(ref string) string {
	return filepath.Join(f.dir, ref+".blob")
}

// Put writes the blob, replacing any previous content under ref.
func (f *FSStore) Put(ctx context.Context, ref string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(f.path(ref), data, 0o600)
}

// Get reads the blob bytes.
func (f *FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(ref))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

// Delete removes the blob; deleting an absent ref is not an error.
func (f *FSStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(f.path(ref))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
