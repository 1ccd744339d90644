// Package blob defines the content storage contract for encrypted
// envelope payloads. Package records in the main store hold only an
// opaque ref into one of these backends.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound indicates no blob exists under the given ref.
var ErrNotFound = errors.New("blob not found")

// Store is the three-method payload storage contract. A blob written
// with Put must remain readable until Delete.
type Store interface {
	Put(ctx context.Context, ref string, data []byte) error
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}
