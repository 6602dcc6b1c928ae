// Package httpserver wires the path resolver, directory lister, archive
// streamer, upload handler, auth gate, and WebDAV adapter behind a single
// http.Handler.
package httpserver

import (
	"context"
	"log"
	"net/http"
	"os"
	"path"
	"strings"

	"golang.org/x/net/webdav"

	"miniserve/internal/authgate"
	"miniserve/internal/config"
	"miniserve/internal/dirsize"
	"miniserve/internal/pathresolve"
	"miniserve/internal/render"
	"miniserve/internal/thumbnail"
	"miniserve/internal/upload"
	"miniserve/internal/webdavfs"
)

// Options bundles everything Server needs beyond the static configuration:
// collaborators the Non-goals in SPEC_FULL.md §1 keep external (TLS
// loading, CLI parsing, logging setup) but that must still be handed in
// once built.
type Options struct {
	Config config.Config
}

// Server holds the long-lived collaborators shared by every request:
// the path resolver, the background directory-size walker, the thumbnail
// cache, and the upload policy handler.
type Server struct {
	cfg config.Config

	resolver *pathresolve.Resolver
	sizes    *dirsize.Walker
	thumbs   *thumbnail.Cache
	uploads  *upload.Handler
	webdav   *webdav.Handler
}

// New builds a Server from opts. The background directory-size walker
// is started here and must be stopped by calling Close when the server
// shuts down.
func New(ctx context.Context, opts Options) (*Server, error) {
	cfg := opts.Config

	thumbs, err := thumbnail.NewCache(path.Join(cfg.StateDir, "thumbs"))
	if err != nil {
		return nil, err
	}

	resolver := pathresolve.New(cfg.RootPath, cfg.ShowHidden)
	uploadHandler := upload.New(resolver, cfg.Upload)

	var davHandler *webdav.Handler
	if cfg.EnableWebDAV {
		davHandler = &webdav.Handler{
			Prefix:     cfg.RoutePrefix,
			FileSystem: webdavfs.New(cfg.RootPath, cfg.ShowHidden, cfg.AllowSymlinks),
			LockSystem: webdav.NewMemLS(),
			Logger: func(r *http.Request, err error) {
				if err != nil {
					log.Printf("webdav %s %s: %v", r.Method, r.URL.Path, err)
				}
			},
		}
	}

	return &Server{
		cfg:      cfg,
		resolver: resolver,
		sizes:    dirsize.New(ctx),
		thumbs:   thumbs,
		uploads:  uploadHandler,
		webdav:   davHandler,
	}, nil
}

// Close releases the background directory-size watcher.
func (s *Server) Close() {
	s.sizes.Close()
}

// Handler returns the root http.Handler, wrapped in auth enforcement and
// the configured extra response headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.routeRequest)

	var h http.Handler = mux
	h = authgate.RequireAuth(s.cfg, h)
	h = s.injectHeaders(h)
	h = s.logRequests(h)
	return h
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	if !s.cfg.Verbose {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s %s", r.RemoteAddr, r.Method, r.URL.RequestURI())
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, hdr := range s.cfg.ExtraHeaders {
			if w.Header().Get(hdr.Name) == "" {
				w.Header().Set(hdr.Name, hdr.Value)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// routeRequest implements the Request Router: strip the route prefix,
// dispatch internal asset routes, WebDAV verbs, upload POSTs, and
// otherwise resolve the path and hand off to the file or directory
// handler.
func (s *Server) routeRequest(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Path

	if rest, ok := s.stripInternalPrefix(urlPath); ok {
		s.serveInternal(w, r, rest)
		return
	}

	rel, ok := stripPrefix(urlPath, s.cfg.RoutePrefix)
	if !ok {
		s.errorPage(w, http.StatusNotFound, "Not Found", "The requested resource does not exist.")
		return
	}

	if s.cfg.EnableWebDAV && (r.Method == http.MethodOptions || r.Method == "PROPFIND") {
		s.webdav.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && rel == "/upload" {
		s.handleUpload(w, r)
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		s.errorPage(w, http.StatusNotFound, "Not Found", "The requested resource does not exist.")
		return
	}

	s.serveResolved(w, r, rel)
}

// stripInternalPrefix reports whether urlPath is under
// "<prefix>/__miniserve_internal/" and, if so, returns the remainder.
func (s *Server) stripInternalPrefix(urlPath string) (string, bool) {
	base := s.cfg.RoutePrefix + "/__miniserve_internal/"
	if strings.HasPrefix(urlPath, base) {
		return strings.TrimPrefix(urlPath, base), true
	}
	return "", false
}

// stripPrefix removes routePrefix from urlPath, requiring an exact or
// slash-bounded match. An empty routePrefix always matches.
func stripPrefix(urlPath, routePrefix string) (string, bool) {
	if routePrefix == "" {
		return urlPath, true
	}
	if urlPath == routePrefix {
		return "/", true
	}
	if strings.HasPrefix(urlPath, routePrefix+"/") {
		return strings.TrimPrefix(urlPath, routePrefix), true
	}
	return "", false
}

func (s *Server) serveInternal(w http.ResponseWriter, r *http.Request, rest string) {
	switch rest {
	case "healthcheck":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("OK"))
	case "favicon.svg":
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Write(render.FaviconSVG())
	case "style.css":
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Write(render.StyleCSS())
	case "thumb":
		s.handleThumb(w, r)
	default:
		s.errorPage(w, http.StatusNotFound, "Not Found", "The requested resource does not exist.")
	}
}

// errorPage renders a themed error body that never includes the route
// prefix, per SPEC_FULL.md §3 invariant 4.
func (s *Server) errorPage(w http.ResponseWriter, code int, title, message string) {
	body, err := render.Error(code, title, message, s.cfg.ColorScheme)
	if err != nil {
		http.Error(w, title, code)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	w.Write(body)
}

func isDir(abs string) bool {
	info, err := os.Stat(abs)
	return err == nil && info.IsDir()
}
