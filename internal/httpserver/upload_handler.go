package httpserver

import (
	"errors"
	"io"
	"net/http"

	"miniserve/internal/config"
	"miniserve/internal/upload"
)

// handleUpload implements POST <prefix>/upload (§4.6): a multipart form
// carrying zero or more "file" parts and an optional "mkdir" field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Upload.Mode == config.UploadDisabled {
		s.errorPage(w, http.StatusForbidden, "Forbidden", "Uploads are disabled on this server.")
		return
	}

	targetRel := r.URL.Query().Get("path")
	targetDir, err := s.uploads.TargetDir(targetRel)
	if err != nil {
		s.uploadError(w, err)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		s.errorPage(w, http.StatusBadRequest, "Bad Request", "Expected a multipart/form-data body.")
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.errorPage(w, http.StatusBadRequest, "Bad Request", "The multipart body could not be parsed.")
			return
		}

		switch part.FormName() {
		case "mkdir":
			name, _ := io.ReadAll(io.LimitReader(part, 256))
			if err := s.uploads.Mkdir(targetDir, string(name)); err != nil {
				part.Close()
				s.uploadError(w, err)
				return
			}
		case "file":
			if part.FileName() == "" {
				part.Close()
				continue
			}
			if _, err := s.uploads.SaveFile(r.Context(), targetDir, part.FileName(), part); err != nil {
				part.Close()
				s.uploadError(w, err)
				return
			}
		}
		part.Close()
	}

	http.Redirect(w, r, refererOrPrefix(r, s.cfg.RoutePrefix), http.StatusSeeOther)
}

func (s *Server) uploadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, upload.ErrConflict):
		s.errorPage(w, http.StatusConflict, "Conflict", "A file with that name already exists.")
	case errors.Is(err, upload.ErrForbidden):
		s.errorPage(w, http.StatusForbidden, "Forbidden", "This directory is outside the upload scope.")
	case errors.Is(err, upload.ErrBadName):
		s.errorPage(w, http.StatusBadRequest, "Bad Request", "The supplied file or directory name is invalid.")
	default:
		s.errorPage(w, http.StatusInternalServerError, "Internal Server Error", "The upload could not be completed.")
	}
}

func refererOrPrefix(r *http.Request, routePrefix string) string {
	if ref := r.Header.Get("Referer"); ref != "" {
		return ref
	}
	if routePrefix == "" {
		return "/"
	}
	return routePrefix + "/"
}
