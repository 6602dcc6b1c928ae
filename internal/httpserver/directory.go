package httpserver

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"

	"miniserve/internal/archive"
	"miniserve/internal/listing"
	"miniserve/internal/pathresolve"
	"miniserve/internal/render"
)

// serveResolved implements the bulk of §4.8: resolve the path, then
// dispatch to the index-file check, SPA/pretty-url fallback, directory
// listing, or file responder.
func (s *Server) serveResolved(w http.ResponseWriter, r *http.Request, rel string) {
	abs, err := s.resolver.ResolveForRead(rel, s.cfg.AllowSymlinks)
	if err != nil {
		s.handleResolveError(w, r, rel, err)
		return
	}

	if isDir(abs) {
		s.serveDirectory(w, r, abs, rel)
		return
	}

	s.serveFile(w, r, abs)
}

// handleResolveError applies the SPA and pretty-URL fallbacks on NotFound
// before surfacing a themed error page.
func (s *Server) handleResolveError(w http.ResponseWriter, r *http.Request, rel string, err error) {
	switch {
	case errors.Is(err, pathresolve.ErrBadPath):
		s.errorPage(w, http.StatusBadRequest, "Bad Request", "The requested path is malformed.")
	case errors.Is(err, pathresolve.ErrForbidden):
		if _, herr := pathresolve.Sanitize(rel, s.cfg.ShowHidden); errors.Is(herr, pathresolve.ErrForbidden) {
			// hidden paths are reported as missing, not as forbidden
			s.errorPage(w, http.StatusNotFound, "Not Found", "The requested resource does not exist.")
			return
		}
		s.errorPage(w, http.StatusForbidden, "Forbidden", "You do not have permission to access this resource.")
	case errors.Is(err, pathresolve.ErrNotFound):
		if s.cfg.PrettyURLs {
			if abs, ok := s.resolvePrettyURL(rel); ok {
				s.serveFile(w, r, abs)
				return
			}
		}
		if s.cfg.SPA && s.cfg.IndexFile != "" {
			if abs, ierr := s.resolver.ResolveForRead("/"+s.cfg.IndexFile, s.cfg.AllowSymlinks); ierr == nil {
				s.serveFile(w, r, abs)
				return
			}
		}
		s.errorPage(w, http.StatusNotFound, "Not Found", "The requested resource does not exist.")
	default:
		s.errorPage(w, http.StatusInternalServerError, "Internal Server Error", "Something went wrong while resolving this path.")
	}
}

func (s *Server) resolvePrettyURL(rel string) (string, bool) {
	abs, err := s.resolver.ResolveForRead(rel+".html", s.cfg.AllowSymlinks)
	if err != nil || isDir(abs) {
		return "", false
	}
	return abs, true
}

// serveDirectory implements the Directory Lister (§4.3) plus the
// index-file short-circuit §4.8 performs before falling back to a
// listing.
func (s *Server) serveDirectory(w http.ResponseWriter, r *http.Request, dirAbs, rel string) {
	urlPath := ensureTrailingSlash(r.URL.Path)
	if urlPath != r.URL.Path {
		http.Redirect(w, r, urlPath+queryString(r), http.StatusMovedPermanently)
		return
	}

	if s.cfg.IndexFile != "" {
		indexAbs := filepath.Join(dirAbs, s.cfg.IndexFile)
		if info, err := os.Stat(indexAbs); err == nil && !info.IsDir() {
			s.serveFile(w, r, indexAbs)
			return
		}
	}

	if s.cfg.DisableIndexing {
		s.errorPage(w, http.StatusNotFound, "Not Found", "Directory listing is disabled.")
		return
	}

	if dl := r.URL.Query().Get("download"); dl != "" {
		s.streamArchive(w, r, dirAbs, rel, dl)
		return
	}

	s.renderListing(w, r, dirAbs, urlPath)
}

func (s *Server) renderListing(w http.ResponseWriter, r *http.Request, dirAbs, urlPath string) {
	params := listing.ParamsFromQuery(r.URL.Query(), s.cfg.Sort)
	entries, err := listing.Build(dirAbs, urlPath, s.cfg, params, s.sizes)
	if err != nil {
		s.errorPage(w, http.StatusInternalServerError, "Internal Server Error", "Could not read this directory.")
		return
	}

	if s.cfg.FileExternalURL != "" {
		applyExternalURL(entries, s.cfg.FileExternalURL, urlPath)
	}

	title := "Index of " + urlPath
	if s.cfg.Title != "" {
		title = s.cfg.Title
	}

	breadcrumbs := listing.Breadcrumbs(urlPath, s.cfg.RoutePrefix, title)
	readmeHTML := s.renderReadme(dirAbs)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if params.Raw {
		body, err := render.Raw(title, entries)
		if err != nil {
			s.errorPage(w, http.StatusInternalServerError, "Internal Server Error", "Could not render listing.")
			return
		}
		w.Write(body)
		return
	}

	uploadURL := s.cfg.RoutePrefix + "/upload?path=" + strings.TrimPrefix(urlPath, s.cfg.RoutePrefix)
	page := render.BuildListingPage(s.cfg, title, breadcrumbs, uploadURL, s.archiveLinks(urlPath), readmeHTML)
	body, err := render.Listing(page, entries)
	if err != nil {
		s.errorPage(w, http.StatusInternalServerError, "Internal Server Error", "Could not render listing.")
		return
	}
	w.Write(body)
}

func (s *Server) archiveLinks(urlPath string) []render.ArchiveLink {
	var links []render.ArchiveLink
	if s.cfg.EnableTar {
		links = append(links, render.ArchiveLink{Name: "tar", Link: urlPath + "?download=tar"})
	}
	if s.cfg.EnableTarGz {
		links = append(links, render.ArchiveLink{Name: "tar.gz", Link: urlPath + "?download=tar_gz"})
	}
	if s.cfg.EnableZip {
		links = append(links, render.ArchiveLink{Name: "zip", Link: urlPath + "?download=zip"})
	}
	return links
}

func (s *Server) renderReadme(dirAbs string) string {
	if !s.cfg.Readme {
		return ""
	}
	for _, name := range []string{"README.md", "README", "README.txt"} {
		b, err := os.ReadFile(filepath.Join(dirAbs, name))
		if err != nil {
			continue
		}
		if strings.HasSuffix(name, ".md") {
			return renderMarkdown(b)
		}
		return "<pre>" + template.HTMLEscapeString(string(b)) + "</pre>"
	}
	return ""
}

// renderMarkdown converts README.md's bytes to an HTML fragment. Markdown
// rendering is the pure "(bytes) -> html" external collaborator SPEC_FULL.md
// §1 names; goldmark supplies that function.
func renderMarkdown(src []byte) string {
	var buf bytes.Buffer
	if err := goldmark.Convert(src, &buf); err != nil {
		return "<pre>" + template.HTMLEscapeString(string(src)) + "</pre>"
	}
	return buf.String()
}

func logArchiveError(rel string, err error) {
	log.Printf("archive %s: %v", rel, err)
}

func applyExternalURL(entries []listing.Entry, externalURL, urlPath string) {
	for i := range entries {
		if entries[i].IsDir() {
			continue
		}
		entries[i].Link = strings.TrimSuffix(externalURL, "/") + "/" + strings.TrimPrefix(urlPath+entries[i].Name, "/")
	}
}

func ensureTrailingSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

func queryString(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}

// streamArchive implements the Archive Streamer endpoint (§4.4): a GET on
// a directory with ?download=tar|tar.gz|zip.
func (s *Server) streamArchive(w http.ResponseWriter, r *http.Request, dirAbs, rel, method string) {
	m, err := archive.ParseMethod(method)
	if err != nil || !m.Enabled(s.cfg.EnableTar, s.cfg.EnableTarGz, s.cfg.EnableZip) {
		s.errorPage(w, http.StatusNotFound, "Not Found", "The requested archive format is not enabled.")
		return
	}

	topName := path.Base(strings.TrimSuffix(rel, "/"))
	if topName == "" || topName == "/" || topName == "." {
		topName = "root"
	}

	w.Header().Set("Content-Type", m.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s%s"`, topName, m.Extension()))
	w.WriteHeader(http.StatusOK)

	if err := archive.Stream(r.Context(), w, m, dirAbs, topName, s.cfg.AllowSymlinks); err != nil {
		// Headers are already flushed; nothing to do but log and let the
		// connection close on a truncated body.
		logArchiveError(rel, err)
	}
}

