// Package storage provides key-addressed object storage for docforge
// artifacts: template sources, parsed-document JSON, and rendered outputs.
package storage

import "context"

// Content types recorded alongside stored objects.
const (
	ContentTypeWordprocessingML = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeJSON             = "application/json"
)

// ObjectStore is the storage contract the core depends on. Keys are
// deterministic, human-inspectable paths (see keys.go). Errors surface as
// return values; the interface never panics across the boundary.
type ObjectStore interface {
	// Put stores data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get retrieves an object. Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes an object. Returns false if the key was absent.
	Delete(ctx context.Context, key string) (bool, error)

	// Close releases any resources held by the store.
	Close() error
}

// ErrNotFound is returned when no object is stored under the requested key.
type ErrNotFound struct {
	Key string
}

func (e ErrNotFound) Error() string {
	return "object not found: " + e.Key
}

// IsNotFound returns true if the error is ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}
