package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StorageDropbox = "dropbox"
	StorageLocal   = "local"

	DefaultPort           = "5000"
	DefaultExtractBaseURL = "https://pdf-services.adobe.io"
	DefaultDropboxRoot    = "/pdf_extractions"
	DefaultMaxUploadBytes = 16 * 1024 * 1024 // 16MB
)

type Config struct {
	Port string

	// Adobe PDF Services credentials and call bounds
	ClientID        string
	ClientSecret    string
	ExtractBaseURL  string
	ExtractTimeout  time.Duration
	PollInterval    time.Duration
	ExtractAttempts int

	// Publish target
	StorageBackend       string
	DropboxToken         string
	DropboxRoot          string
	LocalStorageDir      string
	UploadTimeout        time.Duration
	MaxConcurrentUploads int
	VerifyStorage        bool

	// Local workspace
	GeneratedDir string

	// Upload limits
	MaxUploadBytes int64

	// Run registry
	RunTTL time.Duration

	LogLevel string
}

// envBindings maps config keys to the environment variables that may set them.
// The first variable that is set wins.
var envBindings = map[string][]string{
	"port":                   {"PORT"},
	"client-id":              {"CLIENT_ID", "ADOBE_CLIENT_ID"},
	"client-secret":          {"CLIENT_SECRET", "ADOBE_CLIENT_SECRET"},
	"extract-base-url":       {"EXTRACT_BASE_URL"},
	"extract-timeout":        {"EXTRACT_TIMEOUT"},
	"poll-interval":          {"POLL_INTERVAL"},
	"extract-attempts":       {"EXTRACT_ATTEMPTS"},
	"storage":                {"STORAGE_BACKEND"},
	"dropbox-token":          {"DROPBOX_TOKEN"},
	"dropbox-root":           {"DROPBOX_ROOT"},
	"local-storage-dir":      {"LOCAL_STORAGE_DIR"},
	"upload-timeout":         {"UPLOAD_TIMEOUT"},
	"max-concurrent-uploads": {"MAX_CONCURRENT_UPLOADS"},
	"verify-storage":         {"VERIFY_STORAGE"},
	"generated-dir":          {"GENERATED_DIR"},
	"max-upload-bytes":       {"MAX_UPLOAD_BYTES"},
	"run-ttl":                {"RUN_TTL"},
	"log-level":              {"LOG_LEVEL"},
}

// RegisterFlags defines every configuration flag on fs. Flags left unset fall
// back to the environment, then to the defaults declared here.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("port", DefaultPort, "HTTP listen port")
	fs.String("client-id", "", "PDF Services client id")
	fs.String("client-secret", "", "PDF Services client secret")
	fs.String("extract-base-url", DefaultExtractBaseURL, "PDF Services API base URL")
	fs.Duration("extract-timeout", 5*time.Minute, "bound on one extraction call")
	fs.Duration("poll-interval", 2*time.Second, "delay between extraction job status polls")
	fs.Int("extract-attempts", 1, "attempts per extraction when the failure is a transport error")
	fs.String("storage", StorageDropbox, "publish backend: dropbox or local")
	fs.String("dropbox-token", "", "Dropbox bearer token")
	fs.String("dropbox-root", DefaultDropboxRoot, "Dropbox folder that receives one subfolder per run")
	fs.String("local-storage-dir", "published", "directory used by the local publish backend")
	fs.Duration("upload-timeout", 2*time.Minute, "bound on each file upload")
	fs.Int("max-concurrent-uploads", 4, "parallel uploads per publish")
	fs.Bool("verify-storage", true, "check storage credentials at start-up")
	fs.String("generated-dir", "generated", "directory holding the local copy of each bundle")
	fs.Int64("max-upload-bytes", DefaultMaxUploadBytes, "maximum accepted PDF size in bytes")
	fs.Duration("run-ttl", time.Hour, "how long finished runs stay in the run registry")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
}

// NewViper returns a viper instance bound to the environment and, when fs is
// non-nil, to the flags registered by RegisterFlags.
func NewViper(fs *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	for key, envs := range envBindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
	if fs != nil {
		_ = v.BindPFlags(fs)
	}
	return v
}

// LoadDotenv reads .env style files into the process environment. Missing
// files are ignored; variables already set are never overridden.
func LoadDotenv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func Load(v *viper.Viper) Config {
	cfg := Config{
		Port: v.GetString("port"),

		ClientID:        v.GetString("client-id"),
		ClientSecret:    v.GetString("client-secret"),
		ExtractBaseURL:  strings.TrimRight(v.GetString("extract-base-url"), "/"),
		ExtractTimeout:  v.GetDuration("extract-timeout"),
		PollInterval:    v.GetDuration("poll-interval"),
		ExtractAttempts: v.GetInt("extract-attempts"),

		StorageBackend:       strings.ToLower(v.GetString("storage")),
		DropboxToken:         v.GetString("dropbox-token"),
		DropboxRoot:          v.GetString("dropbox-root"),
		LocalStorageDir:      v.GetString("local-storage-dir"),
		UploadTimeout:        v.GetDuration("upload-timeout"),
		MaxConcurrentUploads: v.GetInt("max-concurrent-uploads"),
		VerifyStorage:        v.GetBool("verify-storage"),

		GeneratedDir: v.GetString("generated-dir"),

		MaxUploadBytes: v.GetInt64("max-upload-bytes"),

		RunTTL: v.GetDuration("run-ttl"),

		LogLevel: strings.ToLower(v.GetString("log-level")),
	}

	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.ExtractBaseURL == "" {
		cfg.ExtractBaseURL = DefaultExtractBaseURL
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ExtractAttempts <= 0 {
		cfg.ExtractAttempts = 1
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = StorageDropbox
	}
	if cfg.DropboxRoot == "" {
		cfg.DropboxRoot = DefaultDropboxRoot
	}
	cfg.DropboxRoot = "/" + strings.Trim(cfg.DropboxRoot, "/")
	if cfg.LocalStorageDir == "" {
		cfg.LocalStorageDir = "published"
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 2 * time.Minute
	}
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = 4
	}
	if cfg.GeneratedDir == "" {
		cfg.GeneratedDir = "generated"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = time.Hour
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	return cfg
}

func (c Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("CLIENT_ID and CLIENT_SECRET are required")
	}
	switch c.StorageBackend {
	case StorageDropbox:
		if c.DropboxToken == "" {
			return fmt.Errorf("DROPBOX_TOKEN is required for the dropbox storage backend")
		}
	case StorageLocal:
	default:
		return fmt.Errorf("unknown storage backend %q (want %s or %s)", c.StorageBackend, StorageDropbox, StorageLocal)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.LogLevel)
	}
	return nil
}
