// Package render turns a listing.Build result into HTML: the full themed
// page, the raw/minimal page served to non-JS clients, and error pages that
// never echo the server's route prefix back into the response body.
package render

import (
	"bytes"
	"embed"
	"html/template"

	"github.com/dustin/go-humanize"

	"miniserve/internal/config"
	"miniserve/internal/listing"
)

//go:embed assets/listing.html.tmpl assets/raw.html.tmpl assets/error.html.tmpl
var templateFS embed.FS

//go:embed assets/style.css
var styleCSS []byte

//go:embed assets/favicon.svg
var faviconSVG []byte

// StyleCSS returns the embedded stylesheet bytes, served verbatim by the
// internal asset route.
func StyleCSS() []byte { return styleCSS }

// FaviconSVG returns the embedded favicon bytes.
func FaviconSVG() []byte { return faviconSVG }

var templates = template.Must(template.New("").Funcs(template.FuncMap{}).ParseFS(templateFS,
	"assets/listing.html.tmpl", "assets/raw.html.tmpl", "assets/error.html.tmpl"))

// viewEntry adapts a listing.Entry with the derived strings the template
// needs (humanized size/date) without baking formatting into the listing
// package itself.
type viewEntry struct {
	listing.Entry
	HumanSize string
	HumanDate string
}

// ArchiveLink is one "download as" offer shown below a directory listing.
type ArchiveLink struct {
	Name string
	Link string
}

// ListingPage carries everything the listing template renders.
type ListingPage struct {
	Title             string
	ColorScheme       string
	FaviconURL        string
	StyleURL          string
	Breadcrumbs       []listing.Breadcrumb
	Entries           []viewEntry
	UploadEnabled     bool
	MkdirEnabled      bool
	UploadURL         string
	ArchiveLinks      []ArchiveLink
	ReadmeHTML        template.HTML
	HideThemeSelector bool
	HideVersionFooter bool
	ShowWgetFooter    bool
	WgetURL           string
}

func wrapEntries(entries []listing.Entry) []viewEntry {
	out := make([]viewEntry, len(entries))
	for i, e := range entries {
		v := viewEntry{Entry: e, HumanDate: humanize.Time(e.ModTime)}
		if !e.IsDir() {
			v.HumanSize = humanize.Bytes(uint64(e.Size))
		}
		out[i] = v
	}
	return out
}

// Listing renders the full themed directory page.
func Listing(page ListingPage, entries []listing.Entry) ([]byte, error) {
	page.Entries = wrapEntries(entries)
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "listing.html.tmpl", page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RawPage is the reduced data the no-CSS/no-JS view needs.
type RawPage struct {
	Title   string
	Entries []viewEntry
}

// Raw renders the minimal HTML view used for ?raw=true and for clients like
// wget -r or lynx that don't benefit from styling.
func Raw(title string, entries []listing.Entry) ([]byte, error) {
	var buf bytes.Buffer
	page := RawPage{Title: title, Entries: wrapEntries(entries)}
	if err := templates.ExecuteTemplate(&buf, "raw.html.tmpl", page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ErrorPage is the themed error body. It intentionally carries no URL that
// would include the server's route prefix -- the stylesheet is inlined
// rather than linked so a random route can't be inferred from a 404 page.
type ErrorPage struct {
	Code        int
	Title       string
	Message     string
	ColorScheme string
	InlineCSS   template.CSS
}

// Error renders a themed error page for code, using title as the short
// status name (e.g. "Not Found") and message as the longer explanation.
func Error(code int, title, message, colorScheme string) ([]byte, error) {
	var buf bytes.Buffer
	page := ErrorPage{
		Code:        code,
		Title:       title,
		Message:     message,
		ColorScheme: colorScheme,
		InlineCSS:   template.CSS(styleCSS),
	}
	if err := templates.ExecuteTemplate(&buf, "error.html.tmpl", page); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildListingPage assembles a ListingPage from cfg and the resolved
// breadcrumb/URL pieces the HTTP handler already computed.
func BuildListingPage(cfg config.Config, title string, breadcrumbs []listing.Breadcrumb, uploadURL string, archiveLinks []ArchiveLink, readmeHTML string) ListingPage {
	return ListingPage{
		Title:             title,
		ColorScheme:       cfg.ColorScheme,
		FaviconURL:        cfg.InternalRoute("favicon.svg"),
		StyleURL:          cfg.InternalRoute("style.css"),
		Breadcrumbs:       breadcrumbs,
		UploadEnabled:     cfg.Upload.Mode != config.UploadDisabled,
		MkdirEnabled:      cfg.Upload.Mkdir,
		UploadURL:         uploadURL,
		ArchiveLinks:      archiveLinks,
		ReadmeHTML:        template.HTML(readmeHTML),
		HideThemeSelector: cfg.HideThemeSelector,
		HideVersionFooter: cfg.HideVersionFooter,
		ShowWgetFooter:    cfg.ShowWgetFooter,
	}
}
