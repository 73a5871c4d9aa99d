package results

import (
	"context"
	"fmt"
	"io"
)

// Store persists extraction and ML result documents. Keys are
// forward-slash relative paths like "jobs/12/run-3.json".
type Store interface {
	// Put writes the document at key, replacing any existing one
	Put(ctx context.Context, key string, reader io.Reader) error

	// Get opens the document at key. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether a document is stored at key
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the document at key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// validateKey rejects traversal attempts before a key touches a backend
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if key[0] == '/' {
		return fmt.Errorf("key must be relative")
	}
	for i := 0; i+1 < len(key); i++ {
		if key[i] == '.' && key[i+1] == '.' {
			return fmt.Errorf("key contains path traversal sequence")
		}
	}
	return nil
}
