package config

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiln-build/kiln/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "kiln.json"

	// DefaultPort is the default development server port.
	DefaultPort = 9000

	// DefaultHMRPort is the default hot-reload companion port.
	DefaultHMRPort = 9801

	// DefaultHost is the default bind host.
	DefaultHost = "localhost"

	// DefaultHMRPath is the upgrade path for the hot-reload channel.
	DefaultHMRPath = "/__hmr"

	// DefaultHMRTimeout is the client heartbeat timeout.
	DefaultHMRTimeout = 30 * time.Second
)

// File represents the complete kiln.json configuration.
type File struct {
	// Name is the project name.
	Name string `json:"name,omitempty"`

	// PublicPath is the base path compiled resources are served under.
	// May be a plain path ("assets", "/assets") or an absolute URL.
	PublicPath string `json:"publicPath,omitempty"`

	// Server contains development server options.
	Server ServerOptions `json:"server,omitempty"`

	// Build contains compiler options.
	Build BuildOptions `json:"build,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerOptions are the raw, partial server options. Any field may be absent.
type ServerOptions struct {
	// Port is the port to serve on.
	Port int `json:"port,omitempty"`

	// Host is the literal bind address passed to the socket layer.
	Host string `json:"host,omitempty"`

	// HTTPS selects the https protocol for displayed URLs.
	HTTPS bool `json:"https,omitempty"`

	// Open launches a browser at the server URL after startup.
	Open bool `json:"open,omitempty"`

	// StrictPort disables automatic port conflict resolution.
	StrictPort bool `json:"strictPort,omitempty"`

	// WriteToDisk flushes compiled resources to disk after each compile.
	WriteToDisk bool `json:"writeToDisk,omitempty"`

	// Banner prints the one-time startup notice. Defaults to true.
	Banner *bool `json:"banner,omitempty"`

	// HMR configures the hot-reload channel. Accepts false or an object.
	HMR HMRSetting `json:"hmr,omitempty"`

	// Proxy maps URL prefixes to external pass-through targets.
	Proxy map[string]string `json:"proxy,omitempty"`
}

// BuildOptions contains compiler options.
type BuildOptions struct {
	// Entry is the entry point glob (default "src/*.ts").
	Entry string `json:"entry,omitempty"`

	// OutDir is the output directory for writeToDisk (default "dist").
	OutDir string `json:"outDir,omitempty"`

	// SourceMap enables linked source maps.
	SourceMap bool `json:"sourceMap,omitempty"`

	// Minify enables minification.
	Minify bool `json:"minify,omitempty"`
}

// HMRSetting is the raw hmr field: false disables the channel entirely,
// an object overrides individual sub-options, absent means all defaults.
type HMRSetting struct {
	// Disabled is set when the field was literal false.
	Disabled bool

	// Options holds the sub-options when the field was an object.
	Options *HMROptions
}

// HMROptions are the raw hot-reload sub-options.
type HMROptions struct {
	Path    string `json:"path,omitempty"`
	Port    int    `json:"port,omitempty"`
	Host    string `json:"host,omitempty"`
	Timeout int    `json:"timeout,omitempty"` // seconds
	Overlay *bool  `json:"overlay,omitempty"`
}

// UnmarshalJSON accepts false, true, or an options object.
func (h *HMRSetting) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch trimmed {
	case "false":
		h.Disabled = true
		return nil
	case "true", "null":
		return nil
	}
	var opts HMROptions
	if err := json.Unmarshal(data, &opts); err != nil {
		return err
	}
	h.Options = &opts
	return nil
}

// MarshalJSON writes false when disabled, otherwise the options object.
func (h HMRSetting) MarshalJSON() ([]byte, error) {
	if h.Disabled {
		return []byte("false"), nil
	}
	if h.Options == nil {
		return []byte("true"), nil
	}
	return json.Marshal(h.Options)
}

// ServerConfig is the fully-populated, canonical server configuration.
// It is built once by Normalize and immutable after server construction;
// the only later mutation is the single port-resolution pass.
type ServerConfig struct {
	// Port is the main serving port.
	Port int

	// Host is the literal bind address used for the socket bind.
	Host string

	// Protocol is "http" or "https".
	Protocol string

	// Hostname is the browser-navigable host used for displayed URLs.
	// Never a wildcard bind address.
	Hostname string

	// Open launches a browser after startup.
	Open bool

	// StrictPort disables port conflict resolution.
	StrictPort bool

	// WriteToDisk flushes compiled resources after each compile.
	WriteToDisk bool

	// Banner prints the startup notice.
	Banner bool

	// PublicPath is the raw configured public base path.
	PublicPath string

	// HMR is nil when the hot-reload channel is disabled.
	HMR *HMRConfig

	// Proxy maps URL prefixes to external pass-through targets.
	Proxy map[string]string
}

// HMRConfig is the canonical hot-reload channel configuration.
type HMRConfig struct {
	// Path is the dedicated upgrade path.
	Path string

	// Port is the companion port, kept numerically correlated with the
	// main port during conflict resolution.
	Port int

	// Host overrides the channel host; empty means the server host.
	Host string

	// Timeout is the client heartbeat timeout.
	Timeout time.Duration

	// Overlay shows compile errors in the browser.
	Overlay bool
}

// wildcard bind addresses that are never browser-navigable.
var wildcardHosts = map[string]bool{
	"0.0.0.0": true,
	"::":      true,
	"[::]":    true,
	"":        true,
}

// Normalize validates and defaults raw server options into a canonical
// ServerConfig.
func Normalize(opts ServerOptions, publicPath string) (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:        opts.Port,
		Host:        opts.Host,
		Open:        opts.Open,
		StrictPort:  opts.StrictPort,
		WriteToDisk: opts.WriteToDisk,
		Banner:      true,
		PublicPath:  publicPath,
		Proxy:       opts.Proxy,
	}

	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if opts.Banner != nil {
		cfg.Banner = *opts.Banner
	}

	cfg.Protocol = "http"
	if opts.HTTPS {
		cfg.Protocol = "https"
	}

	// host stays the literal bind address; hostname is only used to build
	// human-facing URLs, so binding to all interfaces never produces an
	// unusable 0.0.0.0 link.
	if wildcardHosts[cfg.Host] {
		cfg.Hostname = "localhost"
	} else {
		cfg.Hostname = cfg.Host
	}

	if !opts.HMR.Disabled {
		cfg.HMR = normalizeHMR(opts.HMR.Options)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalizeHMR applies defaults for any absent hot-reload sub-option.
func normalizeHMR(opts *HMROptions) *HMRConfig {
	hmr := &HMRConfig{
		Path:    DefaultHMRPath,
		Port:    DefaultHMRPort,
		Timeout: DefaultHMRTimeout,
		Overlay: true,
	}
	if opts == nil {
		return hmr
	}
	if opts.Path != "" {
		hmr.Path = opts.Path
	}
	if opts.Port != 0 {
		hmr.Port = opts.Port
	}
	if opts.Host != "" {
		hmr.Host = opts.Host
	}
	if opts.Timeout > 0 {
		hmr.Timeout = time.Duration(opts.Timeout) * time.Second
	}
	if opts.Overlay != nil {
		hmr.Overlay = *opts.Overlay
	}
	return hmr
}

// validate rejects structurally invalid merged configuration.
func validate(cfg *ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return errors.New("E101").WithDetailf("port %d is out of range 1-65535", cfg.Port)
	}
	if cfg.HMR != nil {
		if cfg.HMR.Port < 1 || cfg.HMR.Port > 65535 {
			return errors.New("E101").WithDetailf("hmr port %d is out of range 1-65535", cfg.HMR.Port)
		}
		if !strings.HasPrefix(cfg.HMR.Path, "/") {
			return errors.New("E101").WithDetailf("hmr path %q must start with /", cfg.HMR.Path)
		}
	}
	if strings.ContainsAny(cfg.Host, " \t") {
		return errors.New("E101").WithDetailf("host %q is not a valid bind address", cfg.Host)
	}
	return nil
}

// IsAbsoluteURL reports whether the public path is an absolute URL
// (served from elsewhere, e.g. a CDN).
func IsAbsoluteURL(publicPath string) bool {
	u, err := url.Parse(publicPath)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// NormalizePublicPath computes the effective runtime base path: absolute
// URLs collapse to "/", everything else gets a leading slash.
func NormalizePublicPath(publicPath string) string {
	if publicPath == "" || IsAbsoluteURL(publicPath) {
		return "/"
	}
	if !strings.HasPrefix(publicPath, "/") {
		return "/" + publicPath
	}
	return publicPath
}

// Load reads a config file from the given path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New("E102").WithDetail(path).Wrap(err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errors.New("E102").WithDetail(path).Wrap(err)
	}
	f.configPath = path
	f.applyBuildDefaults()
	return &f, nil
}

// LoadFromWorkingDir loads kiln.json from the current directory, or
// returns defaults if no file exists.
func LoadFromWorkingDir() (*File, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.New("E102").Wrap(err)
	}

	path := filepath.Join(wd, ConfigFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f := &File{configPath: path}
		f.applyBuildDefaults()
		return f, nil
	}
	return Load(path)
}

func (f *File) applyBuildDefaults() {
	if f.Build.Entry == "" {
		f.Build.Entry = "src/*.ts"
	}
	if f.Build.OutDir == "" {
		f.Build.OutDir = "dist"
	}
}

// Dir returns the directory containing the config file.
func (f *File) Dir() string {
	if f.configPath == "" {
		return "."
	}
	return filepath.Dir(f.configPath)
}
