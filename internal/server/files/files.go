// Package files implements the operator file browser. Paths are cleaned but
// not sandboxed: the daemon is a host administration tool.
package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Entry is one directory listing row.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

// List returns the entries directly under path.
func List(path string) ([]Entry, error) {
	path = clean(path)
	dirents, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("files: list %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:    d.Name(),
			Path:    filepath.Join(path, d.Name()),
			Size:    info.Size(),
			Mode:    info.Mode().String(),
			ModTime: info.ModTime().UTC(),
			IsDir:   d.IsDir(),
		})
	}
	return entries, nil
}

// Save writes the uploaded content to dir/name.
func Save(dir, name string, src io.Reader) (string, error) {
	dir = clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("files: ensure dir %s: %w", dir, err)
	}
	dest := filepath.Join(dir, filepath.Base(name))
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("files: create %s: %w", dest, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("files: write %s: %w", dest, err)
	}
	return dest, nil
}

// Delete removes a file or an entire directory tree.
func Delete(path string) error {
	path = clean(path)
	if path == "/" {
		return fmt.Errorf("files: refusing to delete /")
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("files: delete %s: %w", path, err)
	}
	return nil
}

func clean(path string) string {
	if path == "" {
		path = "/"
	}
	return filepath.Clean(path)
}
