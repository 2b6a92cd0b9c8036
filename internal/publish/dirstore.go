package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// DirStore is a storage backend on the local filesystem. Remote paths are
// resolved below Root.
type DirStore struct {
	Root string
}

func (d DirStore) Upload(ctx context.Context, remotePath string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := d.Resolve(remotePath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod %s: %w", remotePath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", remotePath, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("replace %s: %w", remotePath, err)
	}
	return nil
}

func (d DirStore) CreateFolder(ctx context.Context, folder string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(d.Resolve(folder), 0o755)
}

// Resolve maps a slash path to a file below Root. Paths cannot escape Root.
func (d DirStore) Resolve(remotePath string) string {
	return filepath.Join(d.Root, filepath.FromSlash(path.Clean("/"+remotePath)))
}
