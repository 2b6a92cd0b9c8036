// Package dropbox is a small client for the Dropbox HTTP API v2, covering
// what publishing needs: uploads, folders, shared links and a token check.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf16"
)

const (
	DefaultAPIURL     = "https://api.dropboxapi.com/2"
	DefaultContentURL = "https://content.dropboxapi.com/2"

	// Dropbox rejects single-request uploads above 150 MiB.
	DefaultSimpleUploadLimit = 150 << 20
	DefaultChunkSize         = 8 << 20
)

// ErrAuth matches APIErrors caused by a rejected or expired token.
var ErrAuth = errors.New("dropbox token rejected")

// APIError is a non-success response from an endpoint.
type APIError struct {
	Endpoint   string
	StatusCode int
	Summary    string

	body []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dropbox %s: status %d: %s", e.Endpoint, e.StatusCode, e.Summary)
}

func (e *APIError) Is(target error) bool {
	return target == ErrAuth && e.StatusCode == http.StatusUnauthorized
}

// HasSummary reports whether the error summary starts with prefix, e.g.
// "path/conflict".
func (e *APIError) HasSummary(prefix string) bool {
	return strings.HasPrefix(e.Summary, prefix)
}

// Client talks to the Dropbox API with a bearer token.
type Client struct {
	apiURL     string
	contentURL string
	token      string
	httpClient *http.Client

	// SimpleUploadLimit is the largest content sent in one request; larger
	// content goes through an upload session in ChunkSize pieces.
	SimpleUploadLimit int
	ChunkSize         int
}

func NewClient(apiURL, contentURL, token string) *Client {
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		contentURL: strings.TrimRight(contentURL, "/"),
		token:      token,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		SimpleUploadLimit: DefaultSimpleUploadLimit,
		ChunkSize:         DefaultChunkSize,
	}
}

type commitInfo struct {
	Path       string `json:"path"`
	Mode       string `json:"mode"`
	Autorename bool   `json:"autorename"`
	Mute       bool   `json:"mute"`
}

type sessionCursor struct {
	SessionID string `json:"session_id"`
	Offset    int    `json:"offset"`
}

// Upload writes content to path, overwriting any existing file.
func (c *Client) Upload(ctx context.Context, path string, content []byte) error {
	commit := commitInfo{Path: path, Mode: "overwrite", Mute: true}
	if len(content) <= c.SimpleUploadLimit {
		return c.contentCall(ctx, "files/upload", commit, content, nil)
	}
	return c.uploadSession(ctx, commit, content)
}

func (c *Client) uploadSession(ctx context.Context, commit commitInfo, content []byte) error {
	chunk := c.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	first := content[:min(chunk, len(content))]

	var started struct {
		SessionID string `json:"session_id"`
	}
	if err := c.contentCall(ctx, "files/upload_session/start", map[string]bool{"close": false}, first, &started); err != nil {
		return err
	}
	cursor := sessionCursor{SessionID: started.SessionID, Offset: len(first)}

	for len(content)-cursor.Offset > chunk {
		part := content[cursor.Offset : cursor.Offset+chunk]
		arg := map[string]any{"cursor": cursor, "close": false}
		if err := c.contentCall(ctx, "files/upload_session/append_v2", arg, part, nil); err != nil {
			return err
		}
		cursor.Offset += len(part)
	}

	arg := map[string]any{"cursor": cursor, "commit": commit}
	return c.contentCall(ctx, "files/upload_session/finish", arg, content[cursor.Offset:], nil)
}

// CreateFolder creates path. A folder that already exists is not an error.
func (c *Client) CreateFolder(ctx context.Context, path string) error {
	arg := map[string]any{"path": path, "autorename": false}
	err := c.rpc(ctx, "files/create_folder_v2", arg, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict && apiErr.HasSummary("path/conflict") {
		return nil
	}
	return err
}

type sharedLink struct {
	URL string `json:"url"`
}

// SharedLink returns a public view link for path, reusing an existing link
// when there is one.
func (c *Client) SharedLink(ctx context.Context, path string) (string, error) {
	arg := map[string]any{
		"path": path,
		"settings": map[string]string{
			"requested_visibility": "public",
			"audience":             "public",
			"access":               "viewer",
		},
	}
	var link sharedLink
	err := c.rpc(ctx, "sharing/create_shared_link_with_settings", arg, &link)
	if err == nil {
		return link.URL, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.HasSummary("shared_link_already_exists") {
		return "", err
	}
	if url := existingLinkURL(apiErr.body); url != "" {
		return url, nil
	}

	var listed struct {
		Links []sharedLink `json:"links"`
	}
	if err := c.rpc(ctx, "sharing/list_shared_links", map[string]any{"path": path, "direct_only": true}, &listed); err != nil {
		return "", err
	}
	if len(listed.Links) == 0 {
		return "", fmt.Errorf("dropbox: no shared link for %s", path)
	}
	return listed.Links[0].URL, nil
}

// existingLinkURL reads the link metadata some shared_link_already_exists
// errors carry.
func existingLinkURL(body []byte) string {
	var e struct {
		Error struct {
			Exists struct {
				Metadata sharedLink `json:"metadata"`
			} `json:"shared_link_already_exists"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Error.Exists.Metadata.URL
}

// Account identifies the token's owner.
type Account struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	Name      struct {
		DisplayName string `json:"display_name"`
	} `json:"name"`
}

// CurrentAccount checks the token by fetching its account.
func (c *Client) CurrentAccount(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.rpc(ctx, "users/get_current_account", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// rpc calls an endpoint on the API host with a JSON argument body.
func (c *Client) rpc(ctx context.Context, endpoint string, arg, out any) error {
	body, err := json.Marshal(arg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", endpoint, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, endpoint, out)
}

// contentCall calls an endpoint on the content host with the argument in
// the Dropbox-API-Arg header and data as the body.
func (c *Client) contentCall(ctx context.Context, endpoint string, arg any, data []byte, out any) error {
	header, err := headerJSON(arg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", endpoint, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.contentURL+"/"+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Dropbox-API-Arg", header)
	return c.do(httpReq, endpoint, out)
}

func (c *Client) do(httpReq *http.Request, endpoint string, out any) error {
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dropbox %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newAPIError(endpoint, resp.StatusCode, respBody)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func newAPIError(endpoint string, status int, body []byte) *APIError {
	e := &APIError{Endpoint: endpoint, StatusCode: status, body: body}
	var parsed struct {
		ErrorSummary string `json:"error_summary"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.ErrorSummary != "" {
		e.Summary = parsed.ErrorSummary
	} else {
		e.Summary = strings.TrimSpace(string(body))
	}
	return e
}

// headerJSON marshals v for an HTTP header. Dropbox requires non-ASCII
// characters to be escaped as \uXXXX.
func headerJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range string(data) {
		switch {
		case r < 0x80:
			b.WriteRune(r)
		case r > 0xFFFF:
			hi, lo := utf16.EncodeRune(r)
			fmt.Fprintf(&b, `\u%04x\u%04x`, hi, lo)
		default:
			fmt.Fprintf(&b, `\u%04x`, r)
		}
	}
	return b.String(), nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
