package config

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
)

// routeAlphabet mirrors the character set the original implementation uses
// for its random route and matches the `^[0-9a-f]{6}$` shape spec.md's
// testable properties require.
const routeAlphabet = "0123456789abcdef"

// cliArgs mirrors every flag in SPEC_FULL.md §6.1. Fields are populated by
// flag.FlagSet and then folded into a Config by ParseArgs.
type cliArgs struct {
	verbose bool
	path    string

	port       int
	interfaces stringList
	auth       stringList
	authFile   string

	index      string
	spa        bool
	prettyURLs bool

	routePrefix string
	randomRoute bool

	noSymlinks      bool
	hidden          bool
	showSymlinkInfo bool

	sortMethod string
	sortOrder  string
	dirsFirst  bool

	colorScheme     string
	colorSchemeDark string
	title           string
	header          stringList

	qrcode bool

	uploadFiles stringList
	mkdir       bool
	mediaType   string
	rawMedia    bool
	onDuplicate string

	enableTar   bool
	enableTarGz bool
	enableZip   bool

	compressResponse  bool
	hideVersionFooter bool
	hideThemeSelector bool
	showWgetFooter    bool
	disableIndexing   bool
	readme            bool
	enableWebdav      bool
	fileExternalURL   string

	showThumbnails bool
	dirSizes       bool
	tempUploadDir  string

	tlsCert string
	tlsKey  string

	configFile string
}

// stringList implements flag.Value to collect a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// ParseArgs parses os.Args (or an explicit arg list for tests), applies
// MINISERVE_* environment overrides for any flag not explicitly passed, and
// returns the resulting Config.
func ParseArgs(args []string, getenv func(string) string) (Config, error) {
	var a cliArgs
	fs := flag.NewFlagSet("miniserve", flag.ContinueOnError)

	fs.BoolVar(&a.verbose, "v", false, "be verbose, includes emitting access logs")
	fs.BoolVar(&a.verbose, "verbose", false, "be verbose, includes emitting access logs")
	fs.IntVar(&a.port, "p", 8080, "port to use")
	fs.IntVar(&a.port, "port", 8080, "port to use")
	fs.Var(&a.interfaces, "i", "interface to listen on (repeatable)")
	fs.Var(&a.interfaces, "interfaces", "interface to listen on (repeatable)")
	fs.Var(&a.auth, "a", "username:password | username:sha256:hex | username:sha512:hex (repeatable)")
	fs.Var(&a.auth, "auth", "username:password | username:sha256:hex | username:sha512:hex (repeatable)")
	fs.StringVar(&a.authFile, "auth-file", "", "load principals from a 'user:secret' per line file")
	fs.StringVar(&a.index, "index", "", "directory index file name, e.g. index.html")
	fs.BoolVar(&a.spa, "spa", false, "serve the index file in place of any 404")
	fs.BoolVar(&a.prettyURLs, "pretty-urls", false, "try appending .html to a path that would 404")
	fs.StringVar(&a.routePrefix, "route-prefix", "", "serve every route under this prefix")
	fs.BoolVar(&a.randomRoute, "random-route", false, "generate a random 6 hex digit route prefix")
	fs.BoolVar(&a.noSymlinks, "P", false, "do not follow symbolic links")
	fs.BoolVar(&a.noSymlinks, "no-symlinks", false, "do not follow symbolic links")
	fs.BoolVar(&a.hidden, "H", false, "show hidden files")
	fs.BoolVar(&a.hidden, "hidden", false, "show hidden files")
	fs.StringVar(&a.sortMethod, "S", "name", "default sorting method: name|size|date")
	fs.StringVar(&a.sortMethod, "default-sorting-method", "name", "default sorting method: name|size|date")
	fs.StringVar(&a.sortOrder, "O", "asc", "default sorting order: asc|desc")
	fs.StringVar(&a.sortOrder, "default-sorting-order", "asc", "default sorting order: asc|desc")
	fs.StringVar(&a.colorScheme, "c", "squirrel", "default color scheme")
	fs.StringVar(&a.colorScheme, "color-scheme", "squirrel", "default color scheme")
	fs.StringVar(&a.colorSchemeDark, "d", "archlinux", "default dark color scheme")
	fs.StringVar(&a.colorSchemeDark, "color-scheme-dark", "archlinux", "default dark color scheme")
	fs.BoolVar(&a.qrcode, "q", false, "enable QR code display")
	fs.BoolVar(&a.qrcode, "qrcode", false, "enable QR code display")
	fs.Var(&a.uploadFiles, "u", "enable uploads, optionally restricted to a directory (repeatable)")
	fs.Var(&a.uploadFiles, "upload-files", "enable uploads, optionally restricted to a directory (repeatable)")
	fs.BoolVar(&a.mkdir, "U", false, "allow creating directories via upload form")
	fs.BoolVar(&a.mkdir, "mkdir", false, "allow creating directories via upload form")
	fs.StringVar(&a.mediaType, "m", "", "media type hint for the upload form's accept attribute")
	fs.StringVar(&a.mediaType, "media-type", "", "media type hint for the upload form's accept attribute")
	fs.StringVar(&a.mediaType, "M", "", "raw media type hint for the upload form's accept attribute")
	fs.StringVar(&a.mediaType, "raw-media-type", "", "raw media type hint for the upload form's accept attribute")
	fs.StringVar(&a.onDuplicate, "o", "error", "on-duplicate-files policy: error|overwrite|rename")
	fs.StringVar(&a.onDuplicate, "on-duplicate-files", "error", "on-duplicate-files policy: error|overwrite|rename")
	fs.BoolVar(&a.enableTar, "r", false, "enable tar archive downloads")
	fs.BoolVar(&a.enableTar, "enable-tar", false, "enable tar archive downloads")
	fs.BoolVar(&a.enableTarGz, "g", false, "enable tar.gz archive downloads")
	fs.BoolVar(&a.enableTarGz, "enable-tar-gz", false, "enable tar.gz archive downloads")
	fs.BoolVar(&a.enableZip, "z", false, "enable zip archive downloads")
	fs.BoolVar(&a.enableZip, "enable-zip", false, "enable zip archive downloads")
	fs.BoolVar(&a.compressResponse, "C", false, "compress text responses when the client accepts it")
	fs.BoolVar(&a.compressResponse, "compress-response", false, "compress text responses when the client accepts it")
	fs.BoolVar(&a.dirsFirst, "D", false, "list directories first")
	fs.BoolVar(&a.dirsFirst, "dirs-first", false, "list directories first")
	fs.StringVar(&a.title, "t", "", "shown instead of host in page title and heading")
	fs.StringVar(&a.title, "title", "", "shown instead of host in page title and heading")
	fs.Var(&a.header, "header", "extra 'Name: Value' response header (repeatable)")
	fs.BoolVar(&a.showSymlinkInfo, "l", false, "annotate listing entries with their symlink target")
	fs.BoolVar(&a.showSymlinkInfo, "show-symlink-info", false, "annotate listing entries with their symlink target")
	fs.BoolVar(&a.hideVersionFooter, "F", false, "hide version footer")
	fs.BoolVar(&a.hideVersionFooter, "hide-version-footer", false, "hide version footer")
	fs.BoolVar(&a.hideThemeSelector, "hide-theme-selector", false, "hide theme selector")
	fs.BoolVar(&a.showWgetFooter, "W", false, "show a wget recursive-download footer")
	fs.BoolVar(&a.showWgetFooter, "show-wget-footer", false, "show a wget recursive-download footer")
	fs.StringVar(&a.tlsCert, "tls-cert", "", "TLS certificate chain PEM path")
	fs.StringVar(&a.tlsKey, "tls-key", "", "TLS private key PEM path")
	fs.BoolVar(&a.readme, "readme", false, "render README.md/README/README.txt below listings")
	fs.BoolVar(&a.disableIndexing, "I", false, "disable directory indexing")
	fs.BoolVar(&a.disableIndexing, "disable-indexing", false, "disable directory indexing")
	fs.BoolVar(&a.enableWebdav, "enable-webdav", false, "enable read-only WebDAV (PROPFIND/OPTIONS)")
	fs.StringVar(&a.fileExternalURL, "file-external-url", "", "prefix substituted into file (not directory) listing links")
	fs.BoolVar(&a.showThumbnails, "show-thumbnails", false, "show thumbnail links for image entries")
	fs.BoolVar(&a.dirSizes, "dir-sizes", false, "compute directory sizes in the background")
	fs.StringVar(&a.tempUploadDir, "temp-upload-dir", "", "scratch state directory (thumbnail cache), default <root>/.miniserve; uploads are staged in their destination directory")
	fs.StringVar(&a.configFile, "config", "", "path to a JSON config file")

	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: miniserve [OPTIONS] [PATH]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	if getenv != nil {
		applyEnvOverrides(fs, explicit, getenv)
	}

	if rest := fs.Args(); len(rest) > 0 {
		a.path = rest[0]
		explicit["PATH"] = true
	}

	cfg, err := a.toConfig()
	if err != nil {
		return Config{}, err
	}

	if a.configFile != "" {
		if err := mergeConfigFile(&cfg, a.configFile, explicit); err != nil {
			return Config{}, err
		}
	}

	if err := loadAuthFile(&cfg, a.authFile); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyEnvOverrides sets any flag not explicitly passed on the command line
// from its MINISERVE_<UPPER_SNAKE> environment variable, matching
// SPEC_FULL.md §6.1's "every flag also accepts an environment variable"
// contract.
func applyEnvOverrides(fs *flag.FlagSet, explicit map[string]bool, getenv func(string) string) {
	// Short and long spellings of a flag share one Value, so passing either
	// spelling counts as explicit for both.
	explicitValues := map[flag.Value]bool{}
	fs.Visit(func(f *flag.Flag) { explicitValues[f.Value] = true })
	fs.VisitAll(func(f *flag.Flag) {
		if explicit[f.Name] || explicitValues[f.Value] {
			return
		}
		name := "MINISERVE_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v := getenv(name); v != "" {
			_ = f.Value.Set(v)
		}
	})
}

func (a *cliArgs) toConfig() (Config, error) {
	if a.path == "" {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			return Config{}, fmt.Errorf("config: no PATH given and stdin is not a terminal; " +
				"refusing to guess you meant the current directory")
		}
		a.path = "."
	}
	abs, err := absPath(a.path)
	if err != nil {
		return Config{}, fmt.Errorf("config: resolve serve path: %w", err)
	}

	routePrefix := a.routePrefix
	if a.randomRoute {
		r, err := randomHex(6)
		if err != nil {
			return Config{}, fmt.Errorf("config: generate random route: %w", err)
		}
		routePrefix = "/" + r
	}
	routePrefix = strings.TrimSuffix(routePrefix, "/")
	if routePrefix != "" && !strings.HasPrefix(routePrefix, "/") {
		routePrefix = "/" + routePrefix
	}

	principals, err := parsePrincipals(a.auth)
	if err != nil {
		return Config{}, err
	}

	headers, err := parseHeaders(a.header)
	if err != nil {
		return Config{}, err
	}

	upload, err := a.toUpload(abs)
	if err != nil {
		return Config{}, err
	}

	sortMethod := SortMethod(a.sortMethod)
	switch sortMethod {
	case SortByName, SortBySize, SortByDate:
	default:
		return Config{}, fmt.Errorf("config: invalid sorting method %q", a.sortMethod)
	}
	sortOrder := SortOrder(a.sortOrder)
	switch sortOrder {
	case OrderAsc, OrderDesc:
	default:
		return Config{}, fmt.Errorf("config: invalid sorting order %q", a.sortOrder)
	}

	interfaces, err := parseInterfaces(a.interfaces)
	if err != nil {
		return Config{}, err
	}

	var tls *TLSIdentity
	if a.tlsCert != "" || a.tlsKey != "" {
		if a.tlsCert == "" || a.tlsKey == "" {
			return Config{}, fmt.Errorf("config: --tls-cert and --tls-key must be set together")
		}
		certPEM, err := os.ReadFile(a.tlsCert)
		if err != nil {
			return Config{}, fmt.Errorf("config: read TLS cert: %w", err)
		}
		keyPEM, err := os.ReadFile(a.tlsKey)
		if err != nil {
			return Config{}, fmt.Errorf("config: read TLS key: %w", err)
		}
		tls = &TLSIdentity{CertPEM: certPEM, KeyPEM: keyPEM}
	}

	stateDir := a.tempUploadDir
	if stateDir == "" {
		stateDir = filepath.Join(abs, ".miniserve")
	}

	cfg := Config{
		Verbose:           a.verbose,
		RootPath:          abs,
		StateDir:          stateDir,
		BindAddrs:         interfaces,
		Port:              uint16(a.port),
		RoutePrefix:       routePrefix,
		RandomRoute:       a.randomRoute,
		Principals:        principals,
		AuthFile:          a.authFile,
		IndexFile:         a.index,
		SPA:               a.spa,
		PrettyURLs:        a.prettyURLs,
		ShowHidden:        a.hidden,
		AllowSymlinks:     !a.noSymlinks,
		ShowSymlinkInfo:   a.showSymlinkInfo,
		EnableTar:         a.enableTar,
		EnableTarGz:       a.enableTarGz,
		EnableZip:         a.enableZip,
		Upload:            upload,
		Sort:              Sort{Method: sortMethod, Order: sortOrder, DirFirst: a.dirsFirst},
		ColorScheme:       a.colorScheme,
		ColorSchemeDark:   a.colorSchemeDark,
		Title:             a.title,
		ExtraHeaders:      headers,
		HideVersionFooter: a.hideVersionFooter,
		HideThemeSelector: a.hideThemeSelector,
		ShowWgetFooter:    a.showWgetFooter,
		CompressResponse:  a.compressResponse,
		DisableIndexing:   a.disableIndexing,
		Readme:            a.readme,
		EnableWebDAV:      a.enableWebdav,
		FileExternalURL:   a.fileExternalURL,
		ShowThumbnails:    a.showThumbnails,
		DirSizes:          a.dirSizes,
		QRCode:            a.qrcode,
		TLS:               tls,
		InternalPrefix:    "/__miniserve_internal",
	}
	return cfg, nil
}

func (a *cliArgs) toUpload(rootAbs string) (Upload, error) {
	mode := UploadDisabled
	var allowed []string
	if len(a.uploadFiles) > 0 {
		mode = UploadAnywhere
		for _, d := range a.uploadFiles {
			d = strings.TrimSpace(d)
			if d != "" {
				mode = UploadRestricted
				allowed = append(allowed, strings.Trim(filepath.ToSlash(d), "/"))
			}
		}
	}
	policy := DuplicatePolicy(a.onDuplicate)
	switch policy {
	case DuplicateError, DuplicateOverwrite, DuplicateRename:
	default:
		return Upload{}, fmt.Errorf("config: invalid on-duplicate-files value %q", a.onDuplicate)
	}
	mediaHint := a.mediaType
	return Upload{
		Mode:          mode,
		AllowedDirs:   allowed,
		Mkdir:         a.mkdir,
		OnDuplicate:   policy,
		MediaTypeHint: mediaHint,
		Concurrency:   DefaultUploadConcurrencyHint,
	}, nil
}

func parseInterfaces(vals []string) ([]net.IP, error) {
	if len(vals) == 0 {
		return []net.IP{net.IPv6unspecified, net.IPv4zero}, nil
	}
	out := make([]net.IP, 0, len(vals))
	for _, v := range vals {
		ip := net.ParseIP(v)
		if ip == nil {
			return nil, fmt.Errorf("config: invalid interface address %q", v)
		}
		out = append(out, ip)
	}
	return out, nil
}

// parsePrincipals implements the username:password | username:sha256:hex |
// username:sha512:hex grammar from SPEC_FULL.md §6.1.
func parsePrincipals(vals []string) ([]Principal, error) {
	var out []Principal
	for _, v := range vals {
		p, err := parsePrincipal(v)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePrincipal(s string) (Principal, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return Principal{}, fmt.Errorf(
			"config: invalid auth format %q, expected username:password, "+
				"username:sha256:hash or username:sha512:hash", s)
	}
	username := parts[0]
	if len(parts) == 2 {
		if len(parts[1]) > 255 {
			return Principal{}, fmt.Errorf("config: password for %q exceeds 255 characters", username)
		}
		return Principal{Username: username, Kind: SecretPlain, Secret: parts[1]}, nil
	}
	kind := parts[1]
	hex := strings.ToLower(parts[2])
	if !isHex(hex) {
		return Principal{}, fmt.Errorf("config: invalid hex digest for %q", username)
	}
	switch kind {
	case "sha256":
		return Principal{Username: username, Kind: SecretSHA256, Secret: hex}, nil
	case "sha512":
		return Principal{Username: username, Kind: SecretSHA512, Secret: hex}, nil
	default:
		return Principal{}, fmt.Errorf("config: %q is not a valid hashing method, expected sha256 or sha512", kind)
	}
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return false
		}
	}
	return true
}

// loadAuthFile reads one "user:secret" per line (blank password form
// "user:" allowed) and appends the resulting principals to cfg.
func loadAuthFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: read auth file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := parsePrincipal(line)
		if err != nil {
			return fmt.Errorf("config: auth file %s: %w", path, err)
		}
		cfg.Principals = append(cfg.Principals, p)
	}
	return scanner.Err()
}

func parseHeaders(vals []string) ([]Header, error) {
	var out []Header
	for _, v := range vals {
		i := strings.Index(v, ":")
		if i < 0 {
			return nil, fmt.Errorf("config: invalid header %q, expected 'Name: Value'", v)
		}
		name := strings.TrimSpace(v[:i])
		value := strings.TrimSpace(v[i+1:])
		if name == "" {
			return nil, fmt.Errorf("config: invalid header %q, empty name", v)
		}
		out = append(out, Header{Name: name, Value: value})
	}
	return out, nil
}

// mergeConfigFile loads a JSON document shaped like jsonConfig and applies
// any field the document sets, skipping fields whose corresponding flag was
// explicitly passed on the command line (flags win).
func mergeConfigFile(cfg *Config, path string, explicit map[string]bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read config file: %w", err)
	}
	var doc jsonConfig
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("config: parse config file: %w", err)
	}
	doc.applyTo(cfg, explicit)
	return nil
}

// jsonConfig is the on-disk shape for --config; only a subset of Config
// fields that make sense to template across deployments are exposed.
type jsonConfig struct {
	RootPath        *string   `json:"root_path"`
	RoutePrefix     *string   `json:"route_prefix"`
	Title           *string   `json:"title"`
	ColorScheme     *string   `json:"color_scheme"`
	ColorSchemeDark *string   `json:"color_scheme_dark"`
	ShowHidden      *bool     `json:"show_hidden"`
	EnableWebDAV    *bool     `json:"enable_webdav"`
	ExtraHeaders    []Header  `json:"extra_headers"`
}

func (d *jsonConfig) applyTo(cfg *Config, explicit map[string]bool) {
	if d.RootPath != nil && !explicit["PATH"] {
		cfg.RootPath = *d.RootPath
	}
	if d.RoutePrefix != nil && !explicit["route-prefix"] {
		cfg.RoutePrefix = *d.RoutePrefix
	}
	if d.Title != nil && !explicit["title"] && !explicit["t"] {
		cfg.Title = *d.Title
	}
	if d.ColorScheme != nil && !explicit["color-scheme"] && !explicit["c"] {
		cfg.ColorScheme = *d.ColorScheme
	}
	if d.ColorSchemeDark != nil && !explicit["color-scheme-dark"] && !explicit["d"] {
		cfg.ColorSchemeDark = *d.ColorSchemeDark
	}
	if d.ShowHidden != nil && !explicit["hidden"] && !explicit["H"] {
		cfg.ShowHidden = *d.ShowHidden
	}
	if d.EnableWebDAV != nil && !explicit["enable-webdav"] {
		cfg.EnableWebDAV = *d.EnableWebDAV
	}
	if len(d.ExtraHeaders) > 0 && !explicit["header"] {
		cfg.ExtraHeaders = d.ExtraHeaders
	}
}

func randomHex(n int) (string, error) {
	var sb strings.Builder
	max := big.NewInt(int64(len(routeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(routeAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

func absPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// Path may not exist yet in test scenarios; surface the abs path
		// and let the caller's later os.Stat report the real error.
		return abs, nil //nolint:nilerr
	}
	return real, nil
}
