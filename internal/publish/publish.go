// Package publish uploads a bundle to a storage backend under a fixed
// folder layout.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/dgallion1/pdfdrop/internal/bundle"
)

// ErrInvalidDestination is the only error that fails a whole publish.
var ErrInvalidDestination = errors.New("destination must be an absolute slash path")

// Uploader stores content at an absolute slash path, replacing any existing
// file.
type Uploader interface {
	Upload(ctx context.Context, remotePath string, content []byte) error
}

// FolderCreator is implemented by backends that create the destination
// folder before uploading.
type FolderCreator interface {
	CreateFolder(ctx context.Context, folder string) error
}

// Linker is implemented by backends that can share a folder.
type Linker interface {
	SharedLink(ctx context.Context, folder string) (string, error)
}

// Entry is one uploaded file.
type Entry struct {
	LogicalName string `json:"logical_name"`
	RemotePath  string `json:"remote_path"`
}

// Failure is one file that could not be uploaded.
type Failure struct {
	LogicalName string `json:"logical_name"`
	RemotePath  string `json:"remote_path"`
	Reason      string `json:"reason"`
}

// Manifest records the outcome of a publish. Entries and Failures follow
// layout order.
type Manifest struct {
	Folder     string    `json:"folder"`
	Entries    []Entry   `json:"entries"`
	Failures   []Failure `json:"failures"`
	SharedLink string    `json:"shared_link,omitempty"`
	ViewLink   string    `json:"view_link,omitempty"`
}

// RemotePaths lists the uploaded paths.
func (m *Manifest) RemotePaths() []string {
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.RemotePath
	}
	return out
}

// Publisher uploads bundles with bounded concurrency.
type Publisher struct {
	store         Uploader
	log           *slog.Logger
	maxConcurrent int
	uploadTimeout time.Duration
}

func NewPublisher(store Uploader, log *slog.Logger, maxConcurrent int, uploadTimeout time.Duration) *Publisher {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if uploadTimeout <= 0 {
		uploadTimeout = 2 * time.Minute
	}
	return &Publisher{
		store:         store,
		log:           log,
		maxConcurrent: maxConcurrent,
		uploadTimeout: uploadTimeout,
	}
}

// Publish uploads every present part of b below dest. A failed upload is
// recorded in the manifest and does not stop the others.
func (p *Publisher) Publish(ctx context.Context, b *bundle.Bundle, dest string) (*Manifest, error) {
	folder, err := CleanDestination(dest)
	if err != nil {
		return nil, err
	}
	log := p.log.With("folder", folder)

	if fc, ok := p.store.(FolderCreator); ok {
		fctx, cancel := context.WithTimeout(ctx, p.uploadTimeout)
		if err := fc.CreateFolder(fctx, folder); err != nil {
			log.Debug("create folder failed, continuing", "error", err)
		}
		cancel()
	}

	files := b.Files()
	type uploadResult struct {
		idx int
		err error
	}
	results := make(chan uploadResult, len(files))
	sem := make(chan struct{}, p.maxConcurrent)

	for i, f := range files {
		sem <- struct{}{}
		go func(i int, f bundle.File) {
			defer func() { <-sem }()
			uctx, cancel := context.WithTimeout(ctx, p.uploadTimeout)
			defer cancel()
			results <- uploadResult{idx: i, err: p.store.Upload(uctx, folder+"/"+f.Name, f.Data)}
		}(i, f)
	}

	errs := make([]error, len(files))
	for range files {
		r := <-results
		errs[r.idx] = r.err
	}

	m := &Manifest{Folder: folder, Entries: []Entry{}, Failures: []Failure{}}
	for i, f := range files {
		remote := folder + "/" + f.Name
		if errs[i] != nil {
			log.Error("upload failed", "file", f.Name, "error", errs[i])
			m.Failures = append(m.Failures, Failure{LogicalName: f.Name, RemotePath: remote, Reason: errs[i].Error()})
			continue
		}
		m.Entries = append(m.Entries, Entry{LogicalName: f.Name, RemotePath: remote})
	}
	log.Info("publish complete", "uploaded", len(m.Entries), "failed", len(m.Failures))

	if l, ok := p.store.(Linker); ok && len(m.Entries) > 0 {
		lctx, cancel := context.WithTimeout(ctx, p.uploadTimeout)
		link, err := l.SharedLink(lctx, folder)
		cancel()
		if err != nil {
			log.Warn("shared link failed", "error", err)
		} else {
			m.SharedLink = link
			m.ViewLink = ViewLink(link)
		}
	}
	return m, nil
}

// CleanDestination validates dest and trims trailing slashes.
func CleanDestination(dest string) (string, error) {
	folder := strings.TrimRight(dest, "/")
	if !strings.HasPrefix(dest, "/") || folder == "" || path.Clean(folder) != folder {
		return "", fmt.Errorf("%w: %q", ErrInvalidDestination, dest)
	}
	return folder, nil
}

// ViewLink turns a download link (dl=1) into a browser view link (dl=0).
func ViewLink(shared string) string {
	if shared == "" {
		return ""
	}
	r := strings.NewReplacer("?dl=1", "?dl=0", "&dl=1", "&dl=0")
	return r.Replace(shared)
}
