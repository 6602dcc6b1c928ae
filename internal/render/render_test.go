package render

import (
	"strings"
	"testing"
	"time"

	"miniserve/internal/config"
	"miniserve/internal/listing"
)

func sampleEntries() []listing.Entry {
	return []listing.Entry{
		{Name: "docs", Type: listing.TypeDirectory, Link: "docs/", ModTime: time.Now()},
		{Name: "report.pdf", Type: listing.TypeFile, Link: "report.pdf", Size: 2048, ModTime: time.Now()},
	}
}

func TestListingRendersEntriesAndBreadcrumbs(t *testing.T) {
	cfg := config.Config{RoutePrefix: "/p/ab12cd", ColorScheme: "light"}
	page := BuildListingPage(cfg, "Index of /", listing.Breadcrumbs("/p/ab12cd/", "/p/ab12cd", "Index of /"), "/p/ab12cd/upload?path=/", nil, "")

	out, err := Listing(page, sampleEntries())
	if err != nil {
		t.Fatal(err)
	}
	html := string(out)
	if !strings.Contains(html, "docs/") || !strings.Contains(html, "report.pdf") {
		t.Fatalf("expected entries in rendered HTML, got:\n%s", html)
	}
	if !strings.Contains(html, "2.0 kB") && !strings.Contains(html, "2.0 KB") {
		t.Errorf("expected humanized size in output, got:\n%s", html)
	}
}

func TestRawRendersWithoutStyling(t *testing.T) {
	out, err := Raw("Index of /", sampleEntries())
	if err != nil {
		t.Fatal(err)
	}
	html := string(out)
	if strings.Contains(html, "<link") || strings.Contains(html, "stylesheet") {
		t.Errorf("raw view should not reference a stylesheet, got:\n%s", html)
	}
	if !strings.Contains(html, "docs/") {
		t.Errorf("expected entries present, got:\n%s", html)
	}
}

func TestErrorPageOmitsRoutePrefix(t *testing.T) {
	out, err := Error(404, "Not Found", "The requested resource does not exist.", "light")
	if err != nil {
		t.Fatal(err)
	}
	html := string(out)
	if strings.Contains(html, "/p/ab12cd") || strings.Contains(html, "__miniserve_internal") {
		t.Fatalf("error page leaked an internal/prefixed URL:\n%s", html)
	}
	if !strings.Contains(html, "404") {
		t.Errorf("expected status code in body, got:\n%s", html)
	}
}

func TestUploadFormOmittedWhenDisabled(t *testing.T) {
	cfg := config.Config{Upload: config.Upload{Mode: config.UploadDisabled}}
	page := BuildListingPage(cfg, "Index of /", nil, "", nil, "")
	out, err := Listing(page, nil)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), "enctype=\"multipart/form-data\"") {
		t.Error("upload form should be omitted when uploads are disabled")
	}
}
