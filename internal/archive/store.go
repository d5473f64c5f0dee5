package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FSStore keeps submission archives as opaque blobs under a single root
// directory. Blob names are issued server-side so callers never control the
// on-disk path.
type FSStore struct {
	root string
}

// NewFSStore validates the root directory and constructs the store.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("archive: storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Save streams the archive to disk under a fresh blob name and returns the name.
func (s *FSStore) Save(r io.Reader) (string, int64, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", 0, err
	}
	name := id.String() + ".zip"
	file, err := os.Create(filepath.Join(s.root, name))
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(file, r)
	closeErr := file.Close()
	if err != nil {
		_ = os.Remove(filepath.Join(s.root, name))
		return "", 0, err
	}
	if closeErr != nil {
		_ = os.Remove(filepath.Join(s.root, name))
		return "", 0, closeErr
	}
	return name, size, nil
}

// Unlink removes a stored blob. Removing an already-absent blob succeeds, so
// cleanup after a failed upload is safe to retry.
func (s *FSStore) Unlink(name string) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("archive: invalid blob name %q", name)
	}
	err := os.Remove(filepath.Join(s.root, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Path resolves a blob name to its on-disk location.
func (s *FSStore) Path(name string) string {
	return filepath.Join(s.root, filepath.Base(name))
}
