// Package webdavfs wraps golang.org/x/net/webdav.Dir with the same
// hidden-file and symlink policy the rest of the server enforces, so
// PROPFIND never reveals an entry a regular GET would refuse to serve.
package webdavfs

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/webdav"
)

// FS restricts an underlying webdav.Dir to entries that pass the
// configured hidden-file and symlink policy.
type FS struct {
	dir           webdav.Dir
	root          string
	showHidden    bool
	allowSymlinks bool
}

// New builds a restricting WebDAV filesystem rooted at root.
func New(root string, showHidden, allowSymlinks bool) webdav.FileSystem {
	return &FS{dir: webdav.Dir(root), root: filepath.Clean(root), showHidden: showHidden, allowSymlinks: allowSymlinks}
}

func (fs *FS) allowed(name string) bool {
	rel := strings.TrimPrefix(filepath.ToSlash(name), "/")
	if rel == "" {
		return true
	}
	if !fs.showHidden && hasHiddenComponent(rel) {
		return false
	}
	if !fs.allowSymlinks && hasSymlinkComponent(fs.root, rel) {
		return false
	}
	return true
}

func hasHiddenComponent(rel string) bool {
	for _, comp := range strings.Split(rel, "/") {
		if strings.HasPrefix(comp, ".") {
			return true
		}
	}
	return false
}

func hasSymlinkComponent(root, rel string) bool {
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

func (fs *FS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return os.ErrPermission // read-only adapter; see SPEC_FULL.md §1 Non-goals
}

func (fs *FS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	if !fs.allowed(name) {
		return nil, os.ErrNotExist
	}
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, os.ErrPermission
	}
	f, err := fs.dir.OpenFile(ctx, name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &filteringFile{File: f, fs: fs, dirRel: strings.TrimPrefix(filepath.ToSlash(name), "/")}, nil
}

// filteringFile wraps a directory handle so Readdir drops entries the
// hidden-file or symlink policy would reject, matching the filtering
// RestrictedFs applies at the stream level.
type filteringFile struct {
	webdav.File
	fs     *FS
	dirRel string
}

func (f *filteringFile) Readdir(count int) ([]os.FileInfo, error) {
	all, err := f.File.Readdir(count)
	if err != nil {
		return nil, err
	}
	out := make([]os.FileInfo, 0, len(all))
	for _, info := range all {
		childRel := strings.TrimSuffix(f.dirRel+"/"+info.Name(), "/")
		if strings.HasPrefix(childRel, "/") {
			childRel = childRel[1:]
		}
		if f.fs.allowed(childRel) {
			out = append(out, info)
		}
	}
	return out, nil
}

func (fs *FS) RemoveAll(ctx context.Context, name string) error {
	return os.ErrPermission
}

func (fs *FS) Rename(ctx context.Context, oldName, newName string) error {
	return os.ErrPermission
}

func (fs *FS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	if !fs.allowed(name) {
		return nil, os.ErrNotExist
	}
	return fs.dir.Stat(ctx, name)
}
