package httpserver

import (
	"compress/gzip"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// compressibleTypes lists the MIME prefixes eligible for on-the-fly gzip
// under compress_response; already-compressed formats are skipped per
// SPEC_FULL.md §9's resolution of the compress-response open question.
var compressibleTypes = []string{"text/", "application/json", "application/javascript", "application/xml"}

// serveFile implements the File Responder (§4.5): MIME detection, range
// and conditional GET support, and optional response compression.
func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, abs string) {
	f, err := os.Open(abs)
	if err != nil {
		s.errorPage(w, http.StatusNotFound, "Not Found", "The requested resource does not exist.")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.errorPage(w, http.StatusNotFound, "Not Found", "The requested resource does not exist.")
		return
	}

	ctype := mimeType(abs)
	etag := fileETag(info.Size(), info.ModTime().Unix(), abs)

	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("ETag", etag)
	w.Header().Set("Last-Modified", info.ModTime().UTC().Format(http.TimeFormat))

	if noneMatch := r.Header.Get("If-None-Match"); noneMatch != "" && noneMatch == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !info.ModTime().Truncate(1e9).After(t) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	if s.cfg.CompressResponse && acceptsGzip(r) && isCompressible(ctype) && r.Header.Get("Range") == "" {
		s.serveCompressed(w, f, ctype)
		return
	}

	// http.ServeContent handles Range, If-Range, and 416 for us; it never
	// sets Content-Encoding, satisfying the "no double-decoding" invariant
	// for pre-compressed extensions like .gz.
	http.ServeContent(w, r, filepath.Base(abs), info.ModTime(), f)
}

func (s *Server) serveCompressed(w http.ResponseWriter, f *os.File, ctype string) {
	w.Header().Del("Content-Length")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Vary", "Accept-Encoding")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			gz.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(enc) == "gzip" {
			return true
		}
	}
	return false
}

// isCompressible skips types that are already compressed, matching the
// open-question resolution in SPEC_FULL.md §9: re-encoding
// application/zip|gzip|x-*-compressed wastes CPU and can bloat the body.
func isCompressible(ctype string) bool {
	base := strings.SplitN(ctype, ";", 2)[0]
	if strings.Contains(base, "zip") || strings.Contains(base, "gzip") || strings.Contains(base, "compressed") {
		return false
	}
	for _, prefix := range compressibleTypes {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	return false
}

// mimeType guesses a MIME type by extension; .gz keeps its literal type
// ("application/gzip") rather than being unwrapped, and Content-Encoding
// is never set for it (see isCompressible / serveFile above) so a client
// never double-decodes it.
func mimeType(abs string) string {
	ext := filepath.Ext(abs)
	ctype := mime.TypeByExtension(ext)
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	if strings.HasPrefix(ctype, "text/") && !strings.Contains(ctype, "charset") {
		ctype += "; charset=utf-8"
	}
	return ctype
}

// fileETag derives a short opaque tag from size, mtime, and path, per
// SPEC_FULL.md §4.5 ("ETag derived from (inode-or-path, size, mtime)").
func fileETag(size, mtimeUnix int64, abs string) string {
	h := sha1.New()
	h.Write([]byte(abs))
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte(strconv.FormatInt(mtimeUnix, 10)))
	return fmt.Sprintf(`"%s"`, hex.EncodeToString(h.Sum(nil))[:16])
}
