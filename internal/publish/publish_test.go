package publish

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/pdfdrop/internal/bundle"
	"github.com/dgallion1/pdfdrop/internal/fixture"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore records uploads and fails the configured paths.
type memStore struct {
	mu       sync.Mutex
	files    map[string][]byte
	attempts []string
	fail     map[string]bool
	block    map[string]bool
	delay    time.Duration
	inFlight int
	peak     int
}

func newMemStore() *memStore {
	return &memStore{files: map[string][]byte{}, fail: map[string]bool{}, block: map[string]bool{}}
}

func (s *memStore) Upload(ctx context.Context, remotePath string, content []byte) error {
	s.mu.Lock()
	s.attempts = append(s.attempts, remotePath)
	s.inFlight++
	s.peak = max(s.peak, s.inFlight)
	fail, block := s.fail[remotePath], s.block[remotePath]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if fail {
		return errors.New("insufficient space")
	}

	s.mu.Lock()
	s.files[remotePath] = append([]byte(nil), content...)
	s.mu.Unlock()
	return nil
}

// linkStore adds folder creation and shared links to memStore.
type linkStore struct {
	*memStore
	link    string
	linkErr error
	folders []string
}

func (s *linkStore) CreateFolder(ctx context.Context, folder string) error {
	s.folders = append(s.folders, folder)
	return errors.New("path/conflict/folder/")
}

func (s *linkStore) SharedLink(ctx context.Context, folder string) (string, error) {
	return s.link, s.linkErr
}

func sampleBundle(t *testing.T) *bundle.Bundle {
	t.Helper()
	b, err := bundle.Unpack(fixture.SampleArchive())
	require.NoError(t, err)
	return b
}

func TestPublish_DemoLayout(t *testing.T) {
	store := newMemStore()
	p := NewPublisher(store, testLogger(), 4, time.Second)

	m, err := p.Publish(context.Background(), sampleBundle(t), "/demo")
	require.NoError(t, err)

	assert.Equal(t, "/demo", m.Folder)
	assert.Equal(t, []string{
		"/demo/text.txt",
		"/demo/structuredData.json",
		"/demo/tables/0.csv",
		"/demo/tables/0.png",
		"/demo/figures/0.png",
	}, m.RemotePaths())
	assert.Empty(t, m.Failures)
	assert.Equal(t, "tables/0.csv", m.Entries[2].LogicalName)
	assert.Equal(t, fixture.TableCSV, string(store.files["/demo/tables/0.csv"]))
}

func TestPublish_OneFailureDoesNotAbortOthers(t *testing.T) {
	all := []string{
		"/demo/text.txt",
		"/demo/structuredData.json",
		"/demo/tables/0.csv",
		"/demo/tables/0.png",
		"/demo/figures/0.png",
	}
	for _, failing := range all {
		t.Run(filepath.Base(failing), func(t *testing.T) {
			store := newMemStore()
			store.fail[failing] = true
			p := NewPublisher(store, testLogger(), 1, time.Second)

			m, err := p.Publish(context.Background(), sampleBundle(t), "/demo")
			require.NoError(t, err)

			assert.Len(t, m.Entries, len(all)-1)
			require.Len(t, m.Failures, 1)
			assert.Equal(t, failing, m.Failures[0].RemotePath)
			assert.Contains(t, m.Failures[0].Reason, "insufficient space")
			assert.NotContains(t, m.RemotePaths(), failing)

			attempted := append([]string(nil), store.attempts...)
			sort.Strings(attempted)
			want := append([]string(nil), all...)
			sort.Strings(want)
			assert.Equal(t, want, attempted)
		})
	}
}

func TestPublish_SameShapeTwice(t *testing.T) {
	store := newMemStore()
	p := NewPublisher(store, testLogger(), 3, time.Second)
	b := sampleBundle(t)

	first, err := p.Publish(context.Background(), b, "/demo/")
	require.NoError(t, err)
	second, err := p.Publish(context.Background(), b, "/demo")
	require.NoError(t, err)

	assert.Equal(t, first.Entries, second.Entries)
	assert.Len(t, store.files, len(first.Entries))
}

func TestPublish_InvalidDestination(t *testing.T) {
	for _, dest := range []string{"", "demo", "/", "///", "/a/../b", "//demo", "/a/./b"} {
		store := newMemStore()
		p := NewPublisher(store, testLogger(), 2, time.Second)

		_, err := p.Publish(context.Background(), sampleBundle(t), dest)
		assert.ErrorIs(t, err, ErrInvalidDestination, "dest %q", dest)
		assert.Empty(t, store.attempts, "dest %q", dest)
	}
}

func TestCleanDestination_TrimsTrailingSlashes(t *testing.T) {
	got, err := CleanDestination("/pdf_extractions/run-1///")
	require.NoError(t, err)
	assert.Equal(t, "/pdf_extractions/run-1", got)
}

func TestPublish_BoundedConcurrency(t *testing.T) {
	store := newMemStore()
	store.delay = 20 * time.Millisecond
	p := NewPublisher(store, testLogger(), 2, time.Second)

	m, err := p.Publish(context.Background(), sampleBundle(t), "/demo")
	require.NoError(t, err)
	assert.Len(t, m.Entries, 5)
	assert.LessOrEqual(t, store.peak, 2)
}

func TestPublish_PerUploadTimeout(t *testing.T) {
	store := newMemStore()
	store.block["/demo/figures/0.png"] = true
	p := NewPublisher(store, testLogger(), 5, 30*time.Millisecond)

	m, err := p.Publish(context.Background(), sampleBundle(t), "/demo")
	require.NoError(t, err)
	assert.Len(t, m.Entries, 4)
	require.Len(t, m.Failures, 1)
	assert.Equal(t, "figures/0.png", m.Failures[0].LogicalName)
	assert.Contains(t, m.Failures[0].Reason, context.DeadlineExceeded.Error())
}

func TestPublish_SharedLink(t *testing.T) {
	store := &linkStore{memStore: newMemStore(), link: "https://www.dropbox.com/scl/fo/abc/xyz?rlkey=k1&dl=1"}
	p := NewPublisher(store, testLogger(), 2, time.Second)

	m, err := p.Publish(context.Background(), sampleBundle(t), "/demo")
	require.NoError(t, err)

	assert.Equal(t, []string{"/demo"}, store.folders, "folder error must be ignored")
	assert.Len(t, m.Entries, 5)
	assert.Equal(t, "https://www.dropbox.com/scl/fo/abc/xyz?rlkey=k1&dl=1", m.SharedLink)
	assert.Equal(t, "https://www.dropbox.com/scl/fo/abc/xyz?rlkey=k1&dl=0", m.ViewLink)
}

func TestPublish_SharedLinkFailureLeavesLinkEmpty(t *testing.T) {
	store := &linkStore{memStore: newMemStore(), linkErr: errors.New("too_many_requests")}
	p := NewPublisher(store, testLogger(), 2, time.Second)

	m, err := p.Publish(context.Background(), sampleBundle(t), "/demo")
	require.NoError(t, err)
	assert.Len(t, m.Entries, 5)
	assert.Empty(t, m.SharedLink)
	assert.Empty(t, m.ViewLink)
}

func TestViewLink(t *testing.T) {
	tests := map[string]string{
		"https://www.dropbox.com/sh/abc?dl=1":       "https://www.dropbox.com/sh/abc?dl=0",
		"https://www.dropbox.com/sh/abc?dl=0":       "https://www.dropbox.com/sh/abc?dl=0",
		"https://www.dropbox.com/scl/fo/a?rlkey=b":  "https://www.dropbox.com/scl/fo/a?rlkey=b",
		"https://www.dropbox.com/scl/fo/a?x=1&dl=1": "https://www.dropbox.com/scl/fo/a?x=1&dl=0",
		"": "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ViewLink(in), in)
	}
}

func TestDirStore_UploadOverwrites(t *testing.T) {
	root := t.TempDir()
	store := DirStore{Root: root}
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "/run/tables/0.csv", []byte("a,b\n")))
	require.NoError(t, store.Upload(ctx, "/run/tables/0.csv", []byte("c,d\n")))

	data, err := os.ReadFile(filepath.Join(root, "run", "tables", "0.csv"))
	require.NoError(t, err)
	assert.Equal(t, "c,d\n", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "run", "tables"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestDirStore_ResolveStaysInRoot(t *testing.T) {
	store := DirStore{Root: "/srv/out"}
	assert.Equal(t, filepath.FromSlash("/srv/out/etc/passwd"), store.Resolve("/../../etc/passwd"))
	assert.Equal(t, filepath.FromSlash("/srv/out/a/b"), store.Resolve("a/b"))
}

func TestPublish_ToDirStore(t *testing.T) {
	root := t.TempDir()
	p := NewPublisher(DirStore{Root: root}, testLogger(), 2, time.Second)

	m, err := p.Publish(context.Background(), sampleBundle(t), "/demo")
	require.NoError(t, err)
	require.Empty(t, m.Failures)

	for _, e := range m.Entries {
		_, err := os.Stat(filepath.Join(root, filepath.FromSlash(e.RemotePath)))
		assert.NoError(t, err, e.RemotePath)
	}
}
