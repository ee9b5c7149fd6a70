package files

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestListAndDelete(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}

	if err := Delete(filepath.Join(dir, "a.txt")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, err = List(dir)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(entries) != 1 || !entries[0].IsDir {
		t.Fatalf("unexpected entries after delete: %+v", entries)
	}
}

func TestSaveUsesBaseName(t *testing.T) {
	dir := t.TempDir()
	dest, err := Save(dir, "../../evil.txt", strings.NewReader("content"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Dir(dest) != dir {
		t.Fatalf("upload escaped target dir: %s", dest)
	}
	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "content" {
		t.Fatalf("read back: %q %v", data, err)
	}
}

func TestDeleteRootRefused(t *testing.T) {
	if err := Delete("/"); err == nil {
		t.Fatalf("expected refusal to delete /")
	}
}
