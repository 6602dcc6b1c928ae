// Package config defines the immutable server configuration and the CLI
// surface that produces it.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"
)

// DuplicatePolicy controls what happens when an uploaded file collides with
// an existing name in the target directory.
type DuplicatePolicy string

const (
	DuplicateError     DuplicatePolicy = "error"
	DuplicateOverwrite DuplicatePolicy = "overwrite"
	DuplicateRename    DuplicatePolicy = "rename"
)

// UploadMode controls which directories, if any, accept uploads.
type UploadMode string

const (
	UploadDisabled   UploadMode = "disabled"
	UploadAnywhere   UploadMode = "anywhere"
	UploadRestricted UploadMode = "restricted"
)

// SortMethod is the primary key used to order directory listing entries.
type SortMethod string

const (
	SortByName SortMethod = "name"
	SortBySize SortMethod = "size"
	SortByDate SortMethod = "date"
)

// SortOrder is the direction entries are listed in.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// Sort bundles the three knobs that determine listing order.
type Sort struct {
	Method   SortMethod
	Order    SortOrder
	DirFirst bool
}

// SecretKind names the comparison the auth gate performs for a principal's
// stored secret. Exactly three kinds are supported; see SPEC_FULL.md §3.
type SecretKind string

const (
	SecretPlain  SecretKind = "plain"
	SecretSHA256 SecretKind = "sha256"
	SecretSHA512 SecretKind = "sha512"
)

// Principal is one (username, secret) pair accepted by the auth gate.
type Principal struct {
	Username string
	Kind     SecretKind
	Secret   string // literal password, or lowercase hex digest
}

// Header is an extra response header inserted only if not already present.
type Header struct {
	Name  string
	Value string
}

// Upload describes the upload-handler policy.
type Upload struct {
	Mode          UploadMode
	AllowedDirs   []string // relative to Root, only meaningful when Mode == UploadRestricted
	Mkdir         bool
	OnDuplicate   DuplicatePolicy
	MediaTypeHint string
	Concurrency   int
}

// TLSIdentity is the opaque certificate/key pair the listener attaches to
// accepted connections. Loading it from disk is an external collaborator;
// the core only consumes the parsed pair.
type TLSIdentity struct {
	CertPEM []byte
	KeyPEM  []byte
}

// Config is the immutable, shared configuration every request observes.
// It is built once at startup and never mutated afterward.
type Config struct {
	Verbose bool

	RootPath string // absolute, canonicalized jail root
	StateDir string // scratch space for the thumbnail cache

	BindAddrs []net.IP
	Port      uint16

	RoutePrefix string // "" or "/p1/p2/..."; no leading/trailing extras
	RandomRoute bool

	Principals []Principal
	AuthFile   string

	IndexFile  string
	SPA        bool
	PrettyURLs bool

	ShowHidden      bool
	AllowSymlinks   bool
	ShowSymlinkInfo bool

	EnableTar   bool
	EnableTarGz bool
	EnableZip   bool

	Upload Upload

	Sort Sort

	ColorScheme     string
	ColorSchemeDark string
	Title           string
	ExtraHeaders    []Header

	HideVersionFooter bool
	HideThemeSelector bool
	ShowWgetFooter    bool
	CompressResponse  bool
	DisableIndexing   bool
	Readme            bool
	EnableWebDAV      bool
	FileExternalURL   string

	ShowThumbnails bool
	DirSizes       bool
	QRCode         bool

	TLS *TLSIdentity

	// InternalPrefix records the internal asset namespace,
	// "/__miniserve_internal". InternalRoute and the router build internal
	// paths from that literal, not from this field.
	InternalPrefix string
}

// Validate checks invariants that cannot be expressed in the flag parser
// alone; filesystem checks (does RootPath exist) belong to the caller.
func (c *Config) Validate() error {
	if c.RootPath == "" {
		return fmt.Errorf("config: root path is required")
	}
	if !filepath.IsAbs(c.RootPath) {
		return fmt.Errorf("config: root path must be absolute, got %q", c.RootPath)
	}
	if c.RoutePrefix != "" {
		if !strings.HasPrefix(c.RoutePrefix, "/") {
			return fmt.Errorf("config: route prefix must start with '/'")
		}
		if strings.HasSuffix(c.RoutePrefix, "/") {
			return fmt.Errorf("config: route prefix must not end with '/'")
		}
	}
	if !c.AllowSymlinks && c.EnableWebDAV {
		return fmt.Errorf("config: --no-symlinks and --enable-webdav are incompatible; " +
			"WebDAV responses cannot honor the symlink policy without filtering every property lookup")
	}
	switch c.Upload.Mode {
	case UploadDisabled, UploadAnywhere, UploadRestricted:
	default:
		return fmt.Errorf("config: invalid upload mode %q", c.Upload.Mode)
	}
	if c.Upload.Mode == UploadRestricted && len(c.Upload.AllowedDirs) == 0 {
		return fmt.Errorf("config: upload mode 'restricted' requires at least one allowed directory")
	}
	switch c.Upload.OnDuplicate {
	case DuplicateError, DuplicateOverwrite, DuplicateRename:
	default:
		return fmt.Errorf("config: invalid on-duplicate policy %q", c.Upload.OnDuplicate)
	}
	for _, p := range c.Principals {
		switch p.Kind {
		case SecretPlain, SecretSHA256, SecretSHA512:
		default:
			return fmt.Errorf("config: principal %q has unknown secret kind %q", p.Username, p.Kind)
		}
	}
	return nil
}

// HasAuth reports whether any principal is configured.
func (c *Config) HasAuth() bool {
	return len(c.Principals) > 0
}

// InternalRoute builds a path under the internal asset namespace, e.g.
// InternalRoute("healthcheck") -> "/p/__miniserve_internal/healthcheck".
func (c *Config) InternalRoute(name string) string {
	return c.RoutePrefix + "/__miniserve_internal/" + name
}

// DefaultUploadConcurrencyHint is surfaced to the HTML upload form via
// web-upload-files-concurrency so browsers can parallelize PUTs; it has no
// effect on the server's own (sequential, per-request) processing order.
const DefaultUploadConcurrencyHint = 3

// DefaultIdleTimeout bounds how long the HTTP runtime holds an idle
// keep-alive connection open -- the "idle timeout" SPEC_FULL.md §5 assigns
// to the HTTP runtime rather than the core.
const DefaultIdleTimeout = 120 * time.Second

// DefaultReadHeaderTimeout bounds how long a client may take to send
// request headers.
const DefaultReadHeaderTimeout = 10 * time.Second
