// Package app wires the configured components shared by the server and the
// command-line tool.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dgallion1/pdfdrop/internal/config"
	"github.com/dgallion1/pdfdrop/internal/dropbox"
	"github.com/dgallion1/pdfdrop/internal/extract"
	"github.com/dgallion1/pdfdrop/internal/pipeline"
	"github.com/dgallion1/pdfdrop/internal/publish"
	"github.com/dgallion1/pdfdrop/internal/workspace"
)

// NewLogger returns a JSON logger at the given level; unknown levels fall
// back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// Storage is the configured publish backend.
type Storage struct {
	Publisher *publish.Publisher
	Backend   string

	dropbox *dropbox.Client
	log     *slog.Logger
}

// NewStorage builds the publisher for cfg.StorageBackend.
func NewStorage(cfg config.Config, log *slog.Logger) (*Storage, error) {
	s := &Storage{Backend: cfg.StorageBackend, log: log}
	var store publish.Uploader
	switch cfg.StorageBackend {
	case config.StorageLocal:
		if err := os.MkdirAll(cfg.LocalStorageDir, 0o755); err != nil {
			return nil, fmt.Errorf("create local storage dir: %w", err)
		}
		store = publish.DirStore{Root: cfg.LocalStorageDir}
	case config.StorageDropbox:
		s.dropbox = dropbox.NewClient(dropbox.DefaultAPIURL, dropbox.DefaultContentURL, cfg.DropboxToken)
		store = s.dropbox
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	s.Publisher = publish.NewPublisher(store, log, cfg.MaxConcurrentUploads, cfg.UploadTimeout)
	return s, nil
}

// Verify checks the backend credentials. The local backend always passes.
func (s *Storage) Verify(ctx context.Context) error {
	if s.dropbox == nil {
		return nil
	}
	acct, err := s.dropbox.CurrentAccount(ctx)
	if err != nil {
		return fmt.Errorf("verify dropbox token: %w", err)
	}
	s.log.Info("dropbox account verified", "account_id", acct.AccountID, "name", acct.Name.DisplayName)
	return nil
}

func (s *Storage) Close() {
	if s.dropbox != nil {
		s.dropbox.Close()
	}
}

// Components are the long-lived pieces of one process.
type Components struct {
	Extractor *extract.Client
	Workspace *workspace.Workspace
	Storage   *Storage
	Runner    *pipeline.Runner
}

// Build creates the extraction client, workspace, storage and runner. The
// caller owns Start/Stop of the runner and must call Close.
func Build(cfg config.Config, log *slog.Logger) (*Components, error) {
	if err := os.MkdirAll(cfg.GeneratedDir, 0o755); err != nil {
		return nil, fmt.Errorf("create generated dir: %w", err)
	}
	storage, err := NewStorage(cfg, log)
	if err != nil {
		return nil, err
	}
	extractor := extract.NewClient(cfg.ExtractBaseURL, cfg.ClientID, cfg.ClientSecret, cfg.PollInterval)
	ws := workspace.New(cfg.GeneratedDir, log)
	return &Components{
		Extractor: extractor,
		Workspace: ws,
		Storage:   storage,
		Runner:    pipeline.NewRunner(cfg, extractor, ws, storage.Publisher, log),
	}, nil
}

func (c *Components) Close() {
	c.Extractor.Close()
	c.Storage.Close()
}
