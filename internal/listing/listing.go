// Package listing builds the sorted entry list and breadcrumb trail for a
// directory, decoupled from HTTP so it can be unit tested directly.
package listing

import (
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"miniserve/internal/config"
	"miniserve/internal/dirsize"
)

// EntryType distinguishes directories from files in a listing.
type EntryType int

const (
	TypeFile EntryType = iota
	TypeDirectory
)

// Entry is one row of a directory listing.
type Entry struct {
	Name         string
	Type         EntryType
	Link         string
	Size         int64 // bytes; for directories: the computed total, 0 while SizePending, or -1 when dir_sizes is off
	SizePending  bool  // true while a background size computation is in flight
	ModTime      time.Time
	SymlinkDest  string // non-empty only when ShowSymlinkInfo and it is a symlink
	ThumbnailURL string // non-empty only when show_thumbnails and the entry looks like an image
}

// IsDir reports whether the entry represents a directory.
func (e Entry) IsDir() bool { return e.Type == TypeDirectory }

// Breadcrumb is one link in the path leading to the listed directory.
type Breadcrumb struct {
	Name string
	Link string
}

// Params carries the query-string overrides a listing request may specify.
type Params struct {
	Sort  config.SortMethod
	Order config.SortOrder
	Raw   bool
}

// ParamsFromQuery builds Params from defaults overridden by any recognized
// query parameters ("sort", "order", "raw").
func ParamsFromQuery(q url.Values, defaults config.Sort) Params {
	p := Params{Sort: defaults.Method, Order: defaults.Order}
	if v := q.Get("sort"); v != "" {
		switch config.SortMethod(v) {
		case config.SortByName, config.SortBySize, config.SortByDate:
			p.Sort = config.SortMethod(v)
		}
	}
	if v := q.Get("order"); v != "" {
		switch config.SortOrder(v) {
		case config.OrderAsc, config.OrderDesc:
			p.Order = config.SortOrder(v)
		}
	}
	p.Raw = q.Get("raw") == "true" || q.Get("raw") == "1"
	return p
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// IsImage reports whether name's extension looks like a thumbnailable
// image, used by both the listing builder and the thumbnail handler.
func IsImage(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// Build reads dirAbs, applies cfg's hidden/symlink policy (already enforced
// by the caller via pathresolve — Build trusts dirAbs is safe to read), and
// returns the sorted entries, with links built under urlPath.
func Build(
	dirAbs string,
	urlPath string,
	cfg config.Config,
	params Params,
	sizes *dirsize.Walker,
) ([]Entry, error) {
	dirents, err := os.ReadDir(dirAbs)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		name := d.Name()
		if !cfg.ShowHidden && strings.HasPrefix(name, ".") {
			continue
		}

		info, err := d.Info()
		isSymlink := info != nil && info.Mode()&os.ModeSymlink != 0
		var symlinkDest string
		if isSymlink {
			target, resolveErr := os.Stat(dirAbs + string(os.PathSeparator) + name)
			if resolveErr != nil {
				continue // broken symlink: omit rather than 500 the whole listing
			}
			if !cfg.AllowSymlinks {
				continue
			}
			info = target
			if cfg.ShowSymlinkInfo {
				if dest, lerr := os.Readlink(dirAbs + string(os.PathSeparator) + name); lerr == nil {
					symlinkDest = dest
				}
			}
		}
		if err != nil || info == nil {
			continue
		}

		link := urlPath + escapeSegment(name)
		entry := Entry{
			Name:        name,
			Link:        link,
			ModTime:     info.ModTime(),
			SymlinkDest: symlinkDest,
		}

		if info.IsDir() {
			entry.Type = TypeDirectory
			entry.Link += "/"
			if cfg.DirSizes && sizes != nil {
				if sz, ok := sizes.Get(dirAbs + string(os.PathSeparator) + name); ok {
					entry.Size = sz
				} else {
					entry.SizePending = true
					sizes.Request(dirAbs + string(os.PathSeparator) + name)
				}
			} else {
				entry.Size = -1
			}
		} else {
			entry.Type = TypeFile
			entry.Size = info.Size()
			if cfg.ShowThumbnails && IsImage(name) {
				entry.ThumbnailURL = cfg.InternalRoute("thumb") + "?path=" + url.QueryEscape(strings.TrimPrefix(urlPath, cfg.RoutePrefix)+name)
			}
		}

		entries = append(entries, entry)
	}

	sortEntries(entries, params)

	if cfg.Sort.DirFirst {
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].IsDir() && !entries[j].IsDir()
		})
	}

	return entries, nil
}

func sortEntries(entries []Entry, p Params) {
	var less func(i, j int) bool
	switch p.Sort {
	case config.SortBySize:
		less = func(i, j int) bool { return entries[i].Size < entries[j].Size }
	case config.SortByDate:
		less = func(i, j int) bool { return entries[i].ModTime.Before(entries[j].ModTime) }
	default: // name
		less = func(i, j int) bool {
			return naturalLess(entries[i].Name, entries[j].Name)
		}
	}
	sort.SliceStable(entries, less)
	if p.Order == config.OrderDesc {
		reverse(entries)
	}
}

func reverse(entries []Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

// naturalLess compares names the way a human expects a directory listing
// ordered: case-insensitively, and comparing runs of digits by numeric
// value rather than lexically, so "file2" sorts before "file10".
func naturalLess(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			na, ei := scanNumber(a, i)
			nb, ej := scanNumber(b, j)
			if na != nb {
				return na < nb
			}
			i, j = ei, ej
			continue
		}
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	return len(a)-i < len(b)-j
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// scanNumber reads the run of digits in s starting at i and returns its
// numeric value along with the index just past it.
func scanNumber(s string, i int) (int64, int) {
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	var n int64
	for _, c := range s[start:i] {
		n = n*10 + int64(c-'0')
	}
	return n, i
}

func escapeSegment(s string) string {
	return (&url.URL{Path: s}).EscapedPath()
}

// Breadcrumbs splits urlPath (relative to routePrefix) into a chain of
// Breadcrumb entries, the last of which links to "." (the current page).
func Breadcrumbs(urlPath, routePrefix, title string) []Breadcrumb {
	rel := strings.TrimPrefix(urlPath, routePrefix)
	rel = strings.Trim(rel, "/")

	crumbs := []Breadcrumb{{Name: title, Link: routePrefix + "/"}}
	if rel == "" {
		crumbs[0].Link = "."
		return crumbs
	}

	parts := strings.Split(rel, "/")
	acc := routePrefix + "/"
	for i, p := range parts {
		acc += escapeSegment(p) + "/"
		link := acc
		if i == len(parts)-1 {
			link = "."
		}
		crumbs = append(crumbs, Breadcrumb{Name: p, Link: link})
	}
	return crumbs
}
