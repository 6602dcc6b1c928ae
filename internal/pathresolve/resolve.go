// Package pathresolve turns a request path into a filesystem path that is
// guaranteed to stay inside the configured root, applying the hidden-file
// and symlink policies uniformly across every consumer (file responder,
// directory lister, archive builder, thumbnail cache, WebDAV adapter).
package pathresolve

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound means the resolved path does not exist under the root.
var ErrNotFound = errors.New("pathresolve: not found")

// ErrForbidden means the path exists but is hidden, crosses a symlink the
// policy disallows, or otherwise fails the jail check.
var ErrForbidden = errors.New("pathresolve: forbidden")

// ErrBadPath means the request path could not be sanitized at all: it
// contains a ".." component or a NUL byte.
var ErrBadPath = errors.New("pathresolve: bad path")

// Resolver resolves request paths against a single canonical root.
type Resolver struct {
	root       string // absolute, symlink-free
	showHidden bool
}

// New builds a Resolver rooted at root, which must already be an absolute,
// symlink-evaluated path (config.Config.RootPath satisfies this).
func New(root string, showHidden bool) *Resolver {
	return &Resolver{root: filepath.Clean(root), showHidden: showHidden}
}

// Sanitize rebuilds requestPath component by component, rejecting any ".."
// component outright (rather than popping a level, which would silently
// mask a traversal attempt) and rejecting hidden components unless
// showHidden allows them. It never touches the filesystem.
func Sanitize(requestPath string, showHidden bool) (string, error) {
	if strings.ContainsRune(requestPath, 0) {
		return "", ErrBadPath
	}
	var kept []string
	for _, comp := range strings.Split(filepath.ToSlash(requestPath), "/") {
		switch comp {
		case "", ".":
			// skip
		case "..":
			return "", ErrBadPath
		default:
			kept = append(kept, comp)
		}
	}
	for _, comp := range kept {
		if !showHidden && strings.HasPrefix(comp, ".") {
			return "", ErrForbidden
		}
	}
	return strings.Join(kept, "/"), nil
}

// ResolveForRead maps a request path to an absolute filesystem path,
// applying the hidden-file policy and, when allowSymlinks is false,
// rejecting any path that traverses a symbolic link at any component.
func (r *Resolver) ResolveForRead(requestPath string, allowSymlinks bool) (string, error) {
	rel, err := Sanitize(requestPath, r.showHidden)
	if err != nil {
		return "", err
	}
	abs := filepath.Join(r.root, filepath.FromSlash(rel))

	if _, err := os.Lstat(abs); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", ErrForbidden
	}

	if !allowSymlinks {
		if containsSymlink(r.root, rel) {
			return "", ErrForbidden
		}
	}

	if !r.showHidden && containsHiddenAncestor(r.root, abs) {
		return "", ErrForbidden
	}

	return abs, nil
}

// ResolveForWrite maps an upload destination path to an absolute
// filesystem path. Writes never follow symlinks, independent of the
// server's read-side AllowSymlinks setting, matching the stricter default
// SPEC_FULL.md assigns to mutation.
func (r *Resolver) ResolveForWrite(requestPath string) (string, error) {
	rel, err := Sanitize(requestPath, true)
	if err != nil {
		return "", err
	}
	abs := filepath.Join(r.root, filepath.FromSlash(rel))
	if containsSymlink(r.root, rel) {
		return "", ErrForbidden
	}
	return abs, nil
}

// Root returns the canonical jail root.
func (r *Resolver) Root() string { return r.root }

// RelPath returns abs relative to the jail root using forward slashes,
// suitable for building URLs and cache keys.
func (r *Resolver) RelPath(abs string) (string, error) {
	rel, err := filepath.Rel(r.root, abs)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// containsSymlink walks each component of root/rel and reports whether any
// prefix is a symlink, mirroring a per-component symlink_metadata check.
func containsSymlink(root, rel string) bool {
	if rel == "" {
		return false
	}
	cur := root
	for _, comp := range strings.Split(rel, "/") {
		cur = filepath.Join(cur, comp)
		info, err := os.Lstat(cur)
		if err != nil {
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return true
		}
	}
	return false
}

// containsHiddenAncestor reports whether any path component between root
// and abs (exclusive of root) starts with a dot. ResolveForRead builds abs
// lexically from the already-sanitized path, so this repeats Sanitize's
// hidden-component check on the joined path.
func containsHiddenAncestor(root, abs string) bool {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." {
		return false
	}
	for _, comp := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(comp, ".") {
			return true
		}
	}
	return false
}
