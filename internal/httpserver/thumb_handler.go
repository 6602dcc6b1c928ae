package httpserver

import (
	"errors"
	"net/http"

	"miniserve/internal/listing"
	"miniserve/internal/pathresolve"
	"miniserve/internal/thumbnail"
)

// handleThumb serves a cached, downscaled JPEG preview for the image at
// ?path=<rel>, backing the thumbnail images shown in directory listings
// when show_thumbnails is enabled.
func (s *Server) handleThumb(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.ShowThumbnails {
		s.errorPage(w, http.StatusNotFound, "Not Found", "The requested resource does not exist.")
		return
	}

	rel := r.URL.Query().Get("path")
	abs, err := s.resolver.ResolveForRead(rel, s.cfg.AllowSymlinks)
	if err != nil {
		s.thumbError(w, err)
		return
	}
	if !listing.IsImage(rel) {
		s.errorPage(w, http.StatusNotFound, "Not Found", "This file cannot be previewed.")
		return
	}

	img, err := s.thumbs.Get(abs, rel)
	if err != nil {
		if errors.Is(err, thumbnail.ErrNotAnImage) {
			s.errorPage(w, http.StatusNotFound, "Not Found", "This file cannot be previewed.")
			return
		}
		s.errorPage(w, http.StatusInternalServerError, "Internal Server Error", "Could not generate a preview.")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(img)
}

func (s *Server) thumbError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pathresolve.ErrNotFound):
		s.errorPage(w, http.StatusNotFound, "Not Found", "The requested resource does not exist.")
	case errors.Is(err, pathresolve.ErrForbidden):
		s.errorPage(w, http.StatusForbidden, "Forbidden", "You do not have permission to access this resource.")
	default:
		s.errorPage(w, http.StatusBadRequest, "Bad Request", "The requested path is malformed.")
	}
}
