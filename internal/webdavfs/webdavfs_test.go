package webdavfs

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestStatHidesHiddenFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".secret"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := New(root, false, true)
	if _, err := fs.Stat(context.Background(), "/.secret"); !os.IsNotExist(err) {
		t.Errorf("got %v, want not-exist for hidden file", err)
	}
	if _, err := fs.Stat(context.Background(), "/visible.txt"); err != nil {
		t.Errorf("unexpected error for visible file: %v", err)
	}
}

func TestReaddirFiltersHiddenEntries(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, ".secret"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0o644)

	fs := New(root, false, true)
	f, err := fs.OpenFile(context.Background(), "/", os.O_RDONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	entries, err := f.Readdir(-1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "visible.txt" {
		t.Errorf("got %v, want only visible.txt", entries)
	}
}

func TestOpenFileRejectsWrite(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "a.txt"), []byte("x"), 0o644)
	fs := New(root, true, true)
	if _, err := fs.OpenFile(context.Background(), "/a.txt", os.O_RDWR, 0); err != os.ErrPermission {
		t.Errorf("got %v, want ErrPermission", err)
	}
}

func TestSymlinkPolicy(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink creation requires elevated privileges on windows")
	}
	root := t.TempDir()
	target := t.TempDir()
	os.WriteFile(filepath.Join(target, "real.txt"), []byte("x"), 0o644)
	if err := os.Symlink(target, filepath.Join(root, "link")); err != nil {
		t.Fatal(err)
	}

	noFollow := New(root, true, false)
	if _, err := noFollow.Stat(context.Background(), "/link"); !os.IsNotExist(err) {
		t.Errorf("got %v, want not-exist when symlinks disallowed", err)
	}

	follow := New(root, true, true)
	if _, err := follow.Stat(context.Background(), "/link"); err != nil {
		t.Errorf("unexpected error when symlinks allowed: %v", err)
	}
}
