package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithArgs(t *testing.T, args ...string) Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(NewViper(fs))
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadWithArgs(t)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultExtractBaseURL, cfg.ExtractBaseURL)
	assert.Equal(t, StorageDropbox, cfg.StorageBackend)
	assert.Equal(t, "/pdf_extractions", cfg.DropboxRoot)
	assert.Equal(t, int64(16*1024*1024), cfg.MaxUploadBytes)
	assert.Equal(t, 1, cfg.ExtractAttempts)
	assert.Equal(t, 4, cfg.MaxConcurrentUploads)
	assert.Equal(t, 5*time.Minute, cfg.ExtractTimeout)
	assert.Equal(t, "generated", cfg.GeneratedDir)
}

func TestLoad_EnvironmentAliases(t *testing.T) {
	t.Setenv("ADOBE_CLIENT_ID", "adobe-id")
	t.Setenv("CLIENT_SECRET", "secret")
	t.Setenv("DROPBOX_TOKEN", "tok")
	t.Setenv("UPLOAD_TIMEOUT", "45s")
	t.Setenv("DROPBOX_ROOT", "exports/")

	cfg := loadWithArgs(t)

	assert.Equal(t, "adobe-id", cfg.ClientID)
	assert.Equal(t, "secret", cfg.ClientSecret)
	assert.Equal(t, "tok", cfg.DropboxToken)
	assert.Equal(t, 45*time.Second, cfg.UploadTimeout)
	assert.Equal(t, "/exports", cfg.DropboxRoot)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FlagOverridesEnvironment(t *testing.T) {
	t.Setenv("PORT", "7000")
	cfg := loadWithArgs(t, "--port=7100", "--storage=LOCAL")

	assert.Equal(t, "7100", cfg.Port)
	assert.Equal(t, StorageLocal, cfg.StorageBackend)
}

func TestLoad_NonPositiveFallsBack(t *testing.T) {
	cfg := loadWithArgs(t, "--max-concurrent-uploads=0", "--extract-attempts=-2", "--max-upload-bytes=0")

	assert.Equal(t, 4, cfg.MaxConcurrentUploads)
	assert.Equal(t, 1, cfg.ExtractAttempts)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.MaxUploadBytes)
}

func TestValidate(t *testing.T) {
	base := Config{
		ClientID:       "id",
		ClientSecret:   "secret",
		StorageBackend: StorageDropbox,
		DropboxToken:   "tok",
		LogLevel:       "info",
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing client id", func(c *Config) { c.ClientID = "" }, "CLIENT_ID"},
		{"missing secret", func(c *Config) { c.ClientSecret = "" }, "CLIENT_SECRET"},
		{"missing dropbox token", func(c *Config) { c.DropboxToken = "" }, "DROPBOX_TOKEN"},
		{"local needs no token", func(c *Config) { c.DropboxToken = ""; c.StorageBackend = StorageLocal }, ""},
		{"unknown backend", func(c *Config) { c.StorageBackend = "s3" }, "unknown storage backend"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PDFDROP_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("PDFDROP_TEST_VALUE", "")
	os.Unsetenv("PDFDROP_TEST_VALUE")

	require.NoError(t, LoadDotenv(path))
	assert.Equal(t, "from-file", os.Getenv("PDFDROP_TEST_VALUE"))

	assert.NoError(t, LoadDotenv(filepath.Join(dir, "missing.env")))
}
