package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"miniserve/internal/config"
	"miniserve/internal/pathresolve"
)

func newHandler(t *testing.T, onDup config.DuplicatePolicy) (*Handler, string) {
	t.Helper()
	root := t.TempDir()
	resolver := pathresolve.New(root, true)
	h := New(resolver, config.Upload{
		Mode:        config.UploadAnywhere,
		OnDuplicate: onDup,
	})
	return h, root
}

func TestSaveFileBasic(t *testing.T) {
	h, root := newHandler(t, config.DuplicateError)
	res, err := h.SaveFile(context.Background(), root, "report.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Name != "report.txt" || res.Size != 5 {
		t.Fatalf("got %+v", res)
	}
	content, err := os.ReadFile(filepath.Join(root, "report.txt"))
	if err != nil || string(content) != "hello" {
		t.Fatalf("content = %q, err = %v", content, err)
	}
}

func TestSaveFileSanitizesClientPath(t *testing.T) {
	h, root := newHandler(t, config.DuplicateError)
	res, err := h.SaveFile(context.Background(), root, "../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Name != "passwd" {
		t.Fatalf("got name %q, want passwd (path components stripped)", res.Name)
	}
}

func TestSaveFileDuplicateError(t *testing.T) {
	h, root := newHandler(t, config.DuplicateError)
	if _, err := h.SaveFile(context.Background(), root, "a.txt", strings.NewReader("1")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.SaveFile(context.Background(), root, "a.txt", strings.NewReader("2")); err != ErrConflict {
		t.Fatalf("got %v, want ErrConflict", err)
	}
}

func TestSaveFileDuplicateOverwrite(t *testing.T) {
	h, root := newHandler(t, config.DuplicateOverwrite)
	if _, err := h.SaveFile(context.Background(), root, "a.txt", strings.NewReader("first")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.SaveFile(context.Background(), root, "a.txt", strings.NewReader("second")); err != nil {
		t.Fatal(err)
	}
	content, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil || string(content) != "second" {
		t.Fatalf("content = %q, err = %v", content, err)
	}
}

func TestSaveFileDuplicateRenameSequence(t *testing.T) {
	h, root := newHandler(t, config.DuplicateRename)
	if _, err := h.SaveFile(context.Background(), root, "a.txt", strings.NewReader("0")); err != nil {
		t.Fatal(err)
	}
	r1, err := h.SaveFile(context.Background(), root, "a.txt", strings.NewReader("1"))
	if err != nil {
		t.Fatal(err)
	}
	if r1.Name != "a-1.txt" {
		t.Fatalf("got %q, want a-1.txt", r1.Name)
	}
	r2, err := h.SaveFile(context.Background(), root, "a.txt", strings.NewReader("2"))
	if err != nil {
		t.Fatal(err)
	}
	if r2.Name != "a-2.txt" {
		t.Fatalf("got %q, want a-2.txt", r2.Name)
	}
}

func TestMkdirRequiresFlag(t *testing.T) {
	h, root := newHandler(t, config.DuplicateError)
	if err := h.Mkdir(root, "newdir"); err != ErrForbidden {
		t.Fatalf("got %v, want ErrForbidden when Mkdir disabled", err)
	}
	h.cfg.Mkdir = true
	if err := h.Mkdir(root, "newdir"); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(filepath.Join(root, "newdir")); err != nil || !info.IsDir() {
		t.Fatalf("expected newdir to exist: %v", err)
	}
}

func TestTargetDirRestrictedMode(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, "uploads"), 0o755)
	os.MkdirAll(filepath.Join(root, "private"), 0o755)
	resolver := pathresolve.New(root, true)
	h := New(resolver, config.Upload{
		Mode:        config.UploadRestricted,
		AllowedDirs: []string{"uploads"},
		OnDuplicate: config.DuplicateError,
	})

	if _, err := h.TargetDir("uploads"); err != nil {
		t.Fatalf("expected uploads to be allowed: %v", err)
	}
	if _, err := h.TargetDir("private"); err != ErrForbidden {
		t.Fatalf("got %v, want ErrForbidden for a directory outside AllowedDirs", err)
	}
}
