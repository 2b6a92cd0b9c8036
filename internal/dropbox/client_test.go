package dropbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	endpoint string
	arg      map[string]any
	header   string
	body     []byte
	auth     string
}

// fakeDropbox serves both hosts: /api/... and /content/....
type fakeDropbox struct {
	srv *httptest.Server

	mu       sync.Mutex
	calls    []call
	sessions map[string][]byte
	files    map[string][]byte

	// respond overrides the reply for an endpoint.
	respond map[string]func(w http.ResponseWriter)
}

func newFakeDropbox(t *testing.T) *fakeDropbox {
	t.Helper()
	f := &fakeDropbox{
		sessions: map[string][]byte{},
		files:    map[string][]byte{},
		respond:  map[string]func(http.ResponseWriter){},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDropbox) client() *Client {
	return NewClient(f.srv.URL+"/api", f.srv.URL+"/content/", "tok-abc")
}

func (f *fakeDropbox) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	host, endpoint, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	c := call{endpoint: endpoint, body: body, auth: r.Header.Get("Authorization")}
	rawArg := body
	if host == "content" {
		c.header = r.Header.Get("Dropbox-API-Arg")
		rawArg = []byte(c.header)
	}
	json.Unmarshal(rawArg, &c.arg)

	f.mu.Lock()
	f.calls = append(f.calls, c)
	override := f.respond[endpoint]
	f.mu.Unlock()

	if override != nil {
		override(w)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch endpoint {
	case "files/upload":
		f.files[c.arg["path"].(string)] = body
		json.NewEncoder(w).Encode(map[string]any{"name": "x", "size": len(body)})
	case "files/upload_session/start":
		id := "sess-1"
		f.sessions[id] = body
		json.NewEncoder(w).Encode(map[string]string{"session_id": id})
	case "files/upload_session/append_v2":
		cur := c.arg["cursor"].(map[string]any)
		id := cur["session_id"].(string)
		if int(cur["offset"].(float64)) != len(f.sessions[id]) {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error_summary":"incorrect_offset/.."}`))
			return
		}
		f.sessions[id] = append(f.sessions[id], body...)
		w.Write([]byte("null"))
	case "files/upload_session/finish":
		cur := c.arg["cursor"].(map[string]any)
		id := cur["session_id"].(string)
		if int(cur["offset"].(float64)) != len(f.sessions[id]) {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error_summary":"lookup_failed/incorrect_offset/.."}`))
			return
		}
		commit := c.arg["commit"].(map[string]any)
		f.files[commit["path"].(string)] = append(f.sessions[id], body...)
		json.NewEncoder(w).Encode(map[string]any{"name": "x"})
	case "files/create_folder_v2":
		json.NewEncoder(w).Encode(map[string]any{"metadata": map[string]string{"name": "x"}})
	case "sharing/create_shared_link_with_settings":
		json.NewEncoder(w).Encode(map[string]string{"url": "https://www.dropbox.com/scl/fo/new?dl=0"})
	case "sharing/list_shared_links":
		json.NewEncoder(w).Encode(map[string]any{"links": []map[string]string{{"url": "https://www.dropbox.com/scl/fo/listed?dl=0"}}})
	case "users/get_current_account":
		json.NewEncoder(w).Encode(map[string]any{"account_id": "dbid:1", "email": "a@example.com", "name": map[string]string{"display_name": "Ann"}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeDropbox) endpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.endpoint)
	}
	return out
}

func conflict(summary string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error_summary":"` + summary + `","error":{".tag":"x"}}`))
	}
}

func TestUpload_SingleRequest(t *testing.T) {
	f := newFakeDropbox(t)

	err := f.client().Upload(context.Background(), "/demo/text.txt", []byte("hello"))
	require.NoError(t, err)

	require.Len(t, f.calls, 1)
	c := f.calls[0]
	assert.Equal(t, "files/upload", c.endpoint)
	assert.Equal(t, "Bearer tok-abc", c.auth)
	assert.Equal(t, "/demo/text.txt", c.arg["path"])
	assert.Equal(t, "overwrite", c.arg["mode"])
	assert.Equal(t, false, c.arg["autorename"])
	assert.Equal(t, "hello", string(f.files["/demo/text.txt"]))
}

func TestUpload_EscapesNonASCIIHeader(t *testing.T) {
	f := newFakeDropbox(t)

	err := f.client().Upload(context.Background(), "/démo/報告😀.txt", []byte("x"))
	require.NoError(t, err)

	header := f.calls[0].header
	for _, r := range header {
		require.Less(t, r, rune(0x80), "header must be ASCII: %q", header)
	}
	assert.Contains(t, header, `\u00e9`)
	assert.Contains(t, header, `\ud83d\ude00`)
	assert.Contains(t, f.files, "/démo/報告😀.txt")
}

func TestUpload_SessionReassemblesContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"remainder", "hello world", []string{"files/upload_session/start", "files/upload_session/append_v2", "files/upload_session/finish"}},
		{"exact multiple", "abcdefghijkl", []string{"files/upload_session/start", "files/upload_session/append_v2", "files/upload_session/finish"}},
		{"two chunks", "abcdefg", []string{"files/upload_session/start", "files/upload_session/finish"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeDropbox(t)
			c := f.client()
			c.SimpleUploadLimit = 6
			c.ChunkSize = 4

			require.NoError(t, c.Upload(context.Background(), "/big.bin", []byte(tt.content)))
			assert.Equal(t, tt.want, f.endpoints())
			assert.Equal(t, tt.content, string(f.files["/big.bin"]))

			last := f.calls[len(f.calls)-1]
			commit := last.arg["commit"].(map[string]any)
			assert.Equal(t, "overwrite", commit["mode"])
		})
	}
}

func TestUpload_SessionStopsOnError(t *testing.T) {
	f := newFakeDropbox(t)
	f.respond["files/upload_session/append_v2"] = conflict("insufficient_space/..")
	c := f.client()
	c.SimpleUploadLimit = 2
	c.ChunkSize = 2

	err := c.Upload(context.Background(), "/big.bin", []byte("abcdefgh"))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "files/upload_session/append_v2", apiErr.Endpoint)
	assert.NotContains(t, f.endpoints(), "files/upload_session/finish")
}

func TestCreateFolder(t *testing.T) {
	f := newFakeDropbox(t)
	require.NoError(t, f.client().CreateFolder(context.Background(), "/demo"))

	f.respond["files/create_folder_v2"] = conflict("path/conflict/folder/...")
	assert.NoError(t, f.client().CreateFolder(context.Background(), "/demo"))

	f.respond["files/create_folder_v2"] = conflict("path/malformed_path/...")
	err := f.client().CreateFolder(context.Background(), "/demo")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "path/malformed_path/...", apiErr.Summary)
}

func TestSharedLink(t *testing.T) {
	f := newFakeDropbox(t)

	link, err := f.client().SharedLink(context.Background(), "/demo")
	require.NoError(t, err)
	assert.Equal(t, "https://www.dropbox.com/scl/fo/new?dl=0", link)

	settings := f.calls[0].arg["settings"].(map[string]any)
	assert.Equal(t, "public", settings["requested_visibility"])
	assert.Equal(t, "viewer", settings["access"])
}

func TestSharedLink_AlreadyExistsUsesMetadata(t *testing.T) {
	f := newFakeDropbox(t)
	f.respond["sharing/create_shared_link_with_settings"] = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error_summary":"shared_link_already_exists/metadata/..","error":{".tag":"shared_link_already_exists","shared_link_already_exists":{".tag":"metadata","metadata":{"url":"https://www.dropbox.com/scl/fo/meta?dl=0"}}}}`))
	}

	link, err := f.client().SharedLink(context.Background(), "/demo")
	require.NoError(t, err)
	assert.Equal(t, "https://www.dropbox.com/scl/fo/meta?dl=0", link)
	assert.NotContains(t, f.endpoints(), "sharing/list_shared_links")
}

func TestSharedLink_AlreadyExistsFallsBackToList(t *testing.T) {
	f := newFakeDropbox(t)
	f.respond["sharing/create_shared_link_with_settings"] = conflict("shared_link_already_exists/..")

	link, err := f.client().SharedLink(context.Background(), "/demo")
	require.NoError(t, err)
	assert.Equal(t, "https://www.dropbox.com/scl/fo/listed?dl=0", link)

	last := f.calls[len(f.calls)-1]
	assert.Equal(t, "sharing/list_shared_links", last.endpoint)
	assert.Equal(t, true, last.arg["direct_only"])
}

func TestSharedLink_OtherErrorsReturned(t *testing.T) {
	f := newFakeDropbox(t)
	f.respond["sharing/create_shared_link_with_settings"] = conflict("access_denied/..")

	_, err := f.client().SharedLink(context.Background(), "/demo")
	require.Error(t, err)
	assert.Equal(t, []string{"sharing/create_shared_link_with_settings"}, f.endpoints())
}

func TestCurrentAccount(t *testing.T) {
	f := newFakeDropbox(t)

	acct, err := f.client().CurrentAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "dbid:1", acct.AccountID)
	assert.Equal(t, "Ann", acct.Name.DisplayName)
	assert.Equal(t, "null", string(f.calls[0].body))
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	f := newFakeDropbox(t)
	f.respond["users/get_current_account"] = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error_summary":"invalid_access_token/...","error":{".tag":"invalid_access_token"}}`))
	}

	_, err := f.client().CurrentAccount(context.Background())
	assert.ErrorIs(t, err, ErrAuth)
	assert.Contains(t, err.Error(), "invalid_access_token")

	f.respond["files/upload"] = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Error in call to API function \"files/upload\": bad path"))
	}
	err = f.client().Upload(context.Background(), "demo", nil)
	assert.False(t, errors.Is(err, ErrAuth))
	assert.Contains(t, err.Error(), "bad path")
}
