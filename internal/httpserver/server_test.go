package httpserver

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"miniserve/internal/config"
)

// newTestServer builds a Server rooted at a fresh temp directory populated
// with the given files (map of relative path -> content) and returns it
// along with the configured root, ready for httptest requests.
func newTestServer(t *testing.T, mutate func(*config.Config), files map[string]string) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		abs := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}

	cfg := config.Config{
		RootPath:        root,
		StateDir:        filepath.Join(root, ".miniserve"),
		AllowSymlinks:   true,
		ColorScheme:     "squirrel",
		ColorSchemeDark: "archlinux",
		Sort:            config.Sort{Method: config.SortByName, Order: config.OrderAsc},
		Upload:          config.Upload{Mode: config.UploadDisabled, OnDuplicate: config.DuplicateError},
		InternalPrefix:  "/__miniserve_internal",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(context.Background(), Options{Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv, root
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServeFileReturnsContent(t *testing.T) {
	srv, _ := newTestServer(t, nil, map[string]string{"hello.txt": "hello world"})
	rec := get(t, srv.Handler(), "/hello.txt")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body=%s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "hello world" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestServeFileRangeRequest(t *testing.T) {
	srv, _ := newTestServer(t, nil, map[string]string{"hello.txt": "hello world"})
	req := httptest.NewRequest(http.MethodGet, "/hello.txt", nil)
	req.Header.Set("Range", "bytes=0-4")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "hello")
	}
	if cr := rec.Header().Get("Content-Range"); !strings.HasPrefix(cr, "bytes 0-4/") {
		t.Errorf("Content-Range = %q", cr)
	}
}

func TestDirectoryTraversalRejected(t *testing.T) {
	srv, _ := newTestServer(t, nil, map[string]string{"hello.txt": "hi"})
	for _, target := range []string{"/../etc/passwd", "/%2e%2e/etc/passwd", "/../../etc/passwd"} {
		rec := get(t, srv.Handler(), target)
		if rec.Code == http.StatusOK {
			t.Errorf("target %q: status = 200, want rejection", target)
		}
	}
}

func TestHiddenFileNotFoundByDefault(t *testing.T) {
	srv, _ := newTestServer(t, nil, map[string]string{".secret": "shh"})
	rec := get(t, srv.Handler(), "/.secret")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for hidden file with show_hidden=false", rec.Code)
	}
}

func TestHiddenFileServedWhenShowHiddenEnabled(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.ShowHidden = true }, map[string]string{".secret": "shh"})
	rec := get(t, srv.Handler(), "/.secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "shh" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestDirectoryListingRendersEntries(t *testing.T) {
	srv, _ := newTestServer(t, nil, map[string]string{
		"a.txt": "a",
		"b.txt": "b",
	})
	rec := get(t, srv.Handler(), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "a.txt") || !strings.Contains(body, "b.txt") {
		t.Errorf("listing body missing entries: %s", body)
	}
}

func TestDirectoryWithoutTrailingSlashRedirects(t *testing.T) {
	srv, _ := newTestServer(t, nil, map[string]string{"sub/file.txt": "x"})
	rec := get(t, srv.Handler(), "/sub")
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/sub/" {
		t.Errorf("Location = %q, want /sub/", loc)
	}
}

func TestDisableIndexingReturns404ForDirectory(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.DisableIndexing = true }, map[string]string{"a.txt": "a"})
	rec := get(t, srv.Handler(), "/")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when indexing disabled", rec.Code)
	}
}

func TestRoutePrefixStripping(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.RoutePrefix = "/p/ab12cd" }, map[string]string{"hello.txt": "hi"})
	h := srv.Handler()

	rec := get(t, h, "/p/ab12cd/hello.txt")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 under route prefix", rec.Code)
	}

	rec = get(t, h, "/hello.txt")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when route prefix is omitted", rec.Code)
	}
}

func TestErrorPageBodyOmitsRoutePrefix(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.RoutePrefix = "/p/ab12cd" }, nil)
	rec := get(t, srv.Handler(), "/p/ab12cd/does-not-exist")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "/p/ab12cd") || strings.Contains(body, "__miniserve_internal") {
		t.Errorf("404 body leaks route prefix: %s", body)
	}
}

func TestInternalHealthcheck(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	rec := get(t, srv.Handler(), "/__miniserve_internal/healthcheck")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("healthcheck = %d %q, want 200 OK", rec.Code, rec.Body.String())
	}
}

func TestInternalStyleAndFavicon(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	h := srv.Handler()

	rec := get(t, h, "/__miniserve_internal/style.css")
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Errorf("style.css = %d, len=%d", rec.Code, rec.Body.Len())
	}

	rec = get(t, h, "/__miniserve_internal/favicon.svg")
	if rec.Code != http.StatusOK || rec.Body.Len() == 0 {
		t.Errorf("favicon.svg = %d, len=%d", rec.Code, rec.Body.Len())
	}
}

func TestSPAFallbackServesIndexOn404(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.SPA = true
		c.IndexFile = "index.html"
	}, map[string]string{"index.html": "<html>app</html>"})

	rec := get(t, srv.Handler(), "/some/client/route")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 via SPA fallback", rec.Code)
	}
	if rec.Body.String() != "<html>app</html>" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestPrettyURLFallbackAppendsHTML(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.PrettyURLs = true }, map[string]string{"about.html": "<p>about</p>"})
	rec := get(t, srv.Handler(), "/about")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 via pretty-url fallback", rec.Code)
	}
	if rec.Body.String() != "<p>about</p>" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestNotFoundWithoutFallbacksConfigured(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	rec := get(t, srv.Handler(), "/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSymlinkRejectedWhenDisallowed(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "secret.txt")
	if err := os.WriteFile(target, []byte("s"), 0o644); err != nil {
		t.Fatalf("write target: %v", err)
	}
	link := filepath.Join(root, "link.txt")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlink unsupported: %v", err)
	}

	cfg := config.Config{
		RootPath:       root,
		StateDir:       filepath.Join(root, ".miniserve"),
		AllowSymlinks:  false,
		ColorScheme:    "squirrel",
		Sort:           config.Sort{Method: config.SortByName, Order: config.OrderAsc},
		Upload:         config.Upload{Mode: config.UploadDisabled, OnDuplicate: config.DuplicateError},
		InternalPrefix: "/__miniserve_internal",
	}
	srv, err := New(context.Background(), Options{Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(srv.Close)

	rec := get(t, srv.Handler(), "/link.txt")
	if rec.Code == http.StatusOK {
		t.Errorf("status = 200, want rejection for a disallowed symlink")
	}
}

func TestArchiveDownloadRequiresFlagEnabled(t *testing.T) {
	srv, _ := newTestServer(t, nil, map[string]string{"a.txt": "a"})
	rec := get(t, srv.Handler(), "/?download=zip")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 when enable_zip is false", rec.Code)
	}
}

func TestArchiveDownloadZipStreamsWhenEnabled(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.EnableZip = true }, map[string]string{"a.txt": "a"})
	rec := get(t, srv.Handler(), "/?download=zip")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ctype := rec.Header().Get("Content-Type"); !strings.Contains(ctype, "zip") {
		t.Errorf("Content-Type = %q, want zip", ctype)
	}
	if rec.Body.Len() == 0 {
		t.Errorf("zip body is empty")
	}
}

func TestUploadDisabledReturnsForbidden(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)
	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("mkdir", "newdir")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(buf.String()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 when uploads disabled", rec.Code)
	}
}

func TestUploadSavesFileWhenEnabled(t *testing.T) {
	srv, root := newTestServer(t, func(c *config.Config) {
		c.Upload = config.Upload{Mode: config.UploadAnywhere, OnDuplicate: config.DuplicateError, Concurrency: 1}
	}, nil)

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "uploaded.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := io.WriteString(part, "payload"); err != nil {
		t.Fatalf("write part: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(buf.String()))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303; body=%s", rec.Code, rec.Body.String())
	}

	data, err := os.ReadFile(filepath.Join(root, "uploaded.txt"))
	if err != nil {
		t.Fatalf("read uploaded file: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("uploaded content = %q", string(data))
	}
}

func TestExtraHeadersInjectedWithoutOverridingExisting(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.ExtraHeaders = []config.Header{{Name: "X-Extra", Value: "present"}, {Name: "Content-Type", Value: "should-not-apply"}}
	}, map[string]string{"a.txt": "a"})

	rec := get(t, srv.Handler(), "/a.txt")
	if rec.Header().Get("X-Extra") != "present" {
		t.Errorf("X-Extra header missing")
	}
	if ct := rec.Header().Get("Content-Type"); strings.Contains(ct, "should-not-apply") {
		t.Errorf("Content-Type was overridden by extra header: %q", ct)
	}
}

func TestAuthRequiredWhenPrincipalsConfigured(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) {
		c.Principals = []config.Principal{{Username: "alice", Kind: config.SecretPlain, Secret: "hunter2"}}
	}, map[string]string{"a.txt": "a"})

	rec := get(t, srv.Handler(), "/a.txt")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 without credentials", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Unauthorized") {
		t.Errorf("401 body missing expected content: %s", rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/a.txt", nil)
	req.SetBasicAuth("alice", "hunter2")
	rec2 := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with valid credentials", rec2.Code)
	}
}

func TestHealthcheckUnderRoutePrefix(t *testing.T) {
	srv, _ := newTestServer(t, func(c *config.Config) { c.RoutePrefix = "/p/xyz123" }, nil)
	// Internal asset routes live under the configured route prefix too, so
	// a proxy forwarding only prefixed paths can still reach them.
	rec := get(t, srv.Handler(), "/p/xyz123/__miniserve_internal/healthcheck")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	rec = get(t, srv.Handler(), "/__miniserve_internal/healthcheck")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unprefixed healthcheck under a configured route prefix: status = %d, want 404", rec.Code)
	}
}

func TestConcurrentRequestsDoNotRace(t *testing.T) {
	srv, _ := newTestServer(t, nil, map[string]string{"a.txt": "a", "b.txt": "b"})
	h := srv.Handler()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			target := fmt.Sprintf("/%s.txt", []string{"a", "b"}[i%2])
			rec := get(t, h, target)
			if rec.Code != http.StatusOK {
				t.Errorf("concurrent request %d: status = %d", i, rec.Code)
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}
