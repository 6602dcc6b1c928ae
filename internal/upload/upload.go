// Package upload implements the multipart upload pipeline: a per-file
// temp file staged in the destination directory, duplicate resolution,
// and an atomic rename into place. The server never retains uploaded
// bytes anywhere but the path the client asked to write to.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"miniserve/internal/config"
	"miniserve/internal/pathresolve"
)

// ErrConflict means on_duplicate=error and the destination name already
// exists.
var ErrConflict = errors.New("upload: destination already exists")

// ErrForbidden means the target directory is outside the configured
// upload scope or fails the path resolver's jail/symlink check.
var ErrForbidden = errors.New("upload: target directory not permitted")

// ErrBadName means the client-supplied filename or mkdir name is empty,
// ".", "..", or contains a path separator.
var ErrBadName = errors.New("upload: invalid file or directory name")

// Result describes one file successfully placed on disk.
type Result struct {
	Name string // final, possibly renamed, file name
	Size int64
}

// Handler resolves destinations, enforces the upload scope and duplicate
// policy, and places uploaded bytes via a same-directory temp file plus
// atomic rename.
type Handler struct {
	resolver *pathresolve.Resolver
	cfg      config.Upload
}

// New builds a Handler backed by resolver's jail root.
func New(resolver *pathresolve.Resolver, cfg config.Upload) *Handler {
	return &Handler{resolver: resolver, cfg: cfg}
}

// TargetDir resolves and authorizes targetRel (the "path" query parameter)
// against the configured upload mode and allowed directories.
func (h *Handler) TargetDir(targetRel string) (string, error) {
	if h.cfg.Mode == config.UploadDisabled {
		return "", ErrForbidden
	}
	if h.cfg.Mode == config.UploadRestricted && !isAllowedDir(targetRel, h.cfg.AllowedDirs) {
		return "", ErrForbidden
	}
	abs, err := h.resolver.ResolveForWrite(targetRel)
	if err != nil {
		if errors.Is(err, pathresolve.ErrForbidden) {
			return "", ErrForbidden
		}
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", ErrForbidden
	}
	return abs, nil
}

func isAllowedDir(targetRel string, allowed []string) bool {
	clean, err := pathresolve.Sanitize(targetRel, true)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if clean == a || strings.HasPrefix(clean, a+"/") {
			return true
		}
	}
	return false
}

// Mkdir creates name inside targetDir, honoring cfg.Mkdir.
func (h *Handler) Mkdir(targetDir, name string) error {
	if !h.cfg.Mkdir {
		return ErrForbidden
	}
	if !validName(name) {
		return ErrBadName
	}
	return os.Mkdir(filepath.Join(targetDir, name), 0o755)
}

// SaveFile streams src into a temp file in targetDir, resolves the
// destination name against cfg.OnDuplicate, and renames the temp file into
// place. The temp file and the final destination always share a
// filesystem, so the placement is a single atomic os.Rename — the server
// never persists uploaded bytes anywhere but the requested destination.
func (h *Handler) SaveFile(ctx context.Context, targetDir, clientName string, src io.Reader) (Result, error) {
	name := sanitizeFileName(clientName)
	if !validName(name) {
		return Result{}, ErrBadName
	}

	finalName, err := h.resolveCollision(targetDir, name)
	if err != nil {
		return Result{}, err
	}

	tmp, err := os.CreateTemp(targetDir, ".miniserve-upload-*")
	if err != nil {
		return Result{}, err
	}
	tmpPath := tmp.Name()

	size, err := copyWithContext(ctx, tmp, src)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Result{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Result{}, err
	}

	dst := filepath.Join(targetDir, finalName)
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return Result{}, fmt.Errorf("upload: place %q: %w", finalName, err)
	}
	return Result{Name: finalName, Size: size}, nil
}

// copyWithContext copies src into dst in chunks, checking ctx between
// reads so a canceled request aborts a large upload instead of running to
// completion after the client has gone away.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var n int64
	buf := make([]byte, 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rn, rerr := src.Read(buf)
		if rn > 0 {
			wn, werr := dst.Write(buf[:rn])
			n += int64(wn)
			if werr != nil {
				return n, werr
			}
		}
		if errors.Is(rerr, io.EOF) {
			return n, nil
		}
		if rerr != nil {
			return n, rerr
		}
	}
}

// resolveCollision applies cfg.OnDuplicate against name's current presence
// in targetDir, returning the name to actually write under.
func (h *Handler) resolveCollision(targetDir, name string) (string, error) {
	dst := filepath.Join(targetDir, name)
	if _, err := os.Lstat(dst); err != nil {
		if os.IsNotExist(err) {
			return name, nil
		}
		return "", err
	}

	switch h.cfg.OnDuplicate {
	case config.DuplicateOverwrite:
		return name, nil
	case config.DuplicateRename:
		return nextAvailableName(targetDir, name), nil
	default:
		return "", ErrConflict
	}
}

// nextAvailableName appends "-1", "-2", ... before the extension until a
// free name is found in targetDir.
func nextAvailableName(targetDir, name string) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d%s", base, i, ext)
		if _, err := os.Lstat(filepath.Join(targetDir, candidate)); os.IsNotExist(err) {
			return candidate
		}
	}
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}

// sanitizeFileName strips any path component the client may have sent,
// keeping only the base name.
func sanitizeFileName(clientName string) string {
	clientName = strings.ReplaceAll(clientName, "\\", "/")
	return path.Base(clientName)
}
