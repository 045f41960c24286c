package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FSStore is a filesystem-backed ObjectStore. Objects live under basePath
// mirroring their key layout:
//
//	.docforge/
//	  objects/
//	    templates/t-1/1/source.docx
//	    templates/t-1/1/source.docx.meta.json
//	    documents/d-1/1/output.docx
type FSStore struct {
	basePath string
	mu       sync.RWMutex
}

type objectMeta struct {
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewFSStore creates a filesystem-backed object store rooted at basePath.
func NewFSStore(basePath string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(basePath, "objects"), 0750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{basePath: basePath}, nil
}

// Put stores data under key, overwriting any existing object.
func (fs *FSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, err := fs.objectPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write object: %w", err)
	}

	meta := objectMeta{
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   time.Now(),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta.json", metaBytes, 0600); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Get retrieves an object by key.
func (fs *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path, err := fs.objectPath(key)
	if err != nil {
		return nil, err
	}
	// #nosec G304 - path is rooted under basePath and key is validated
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound{Key: key}
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Exists reports whether an object is stored under key.
func (fs *FSStore) Exists(ctx context.Context, key string) (bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path, err := fs.objectPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// Delete removes an object. Returns false if the key was absent.
func (fs *FSStore) Delete(ctx context.Context, key string) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path, err := fs.objectPath(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete object: %w", err)
	}
	os.Remove(path + ".meta.json") // Best effort
	os.Remove(filepath.Dir(path))  // Best effort: drop empty dirs
	return true, nil
}

// Close releases resources.
func (fs *FSStore) Close() error {
	return nil
}

// ContentType returns the recorded content type for a stored object.
func (fs *FSStore) ContentType(key string) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path, err := fs.objectPath(key)
	if err != nil {
		return "", err
	}
	// #nosec G304 - path is rooted under basePath and key is validated
	data, err := os.ReadFile(path + ".meta.json")
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound{Key: key}
		}
		return "", fmt.Errorf("read metadata: %w", err)
	}
	var meta objectMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", fmt.Errorf("unmarshal metadata: %w", err)
	}
	return meta.ContentType, nil
}

// objectPath maps a key onto the filesystem, rejecting traversal attempts.
func (fs *FSStore) objectPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(fs.basePath, "objects", clean), nil
}
