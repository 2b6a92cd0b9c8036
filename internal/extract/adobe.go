package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const maxArchiveBytes = 1 << 30

// Result is the raw output of one extraction call. The archive is not
// interpreted here.
type Result struct {
	Archive     []byte
	ContentType string
}

// Client calls the Adobe PDF Services Extract API.
type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	pollInterval time.Duration
	httpClient   *http.Client

	Stats *ServiceStats

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewClient(baseURL, clientID, clientSecret string, pollInterval time.Duration) *Client {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		pollInterval: pollInterval,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
		Stats: NewServiceStats(time.Hour),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type assetRequest struct {
	MediaType string `json:"mediaType"`
}

type assetResponse struct {
	UploadURI string `json:"uploadUri"`
	AssetID   string `json:"assetID"`
}

type extractRequest struct {
	AssetID             string   `json:"assetID"`
	ElementsToExtract   []string `json:"elementsToExtract"`
	RenditionsToExtract []string `json:"renditionsToExtract,omitempty"`
	TableOutputFormat   string   `json:"tableOutputFormat,omitempty"`
}

type jobAsset struct {
	AssetID     string `json:"assetID"`
	DownloadURI string `json:"downloadUri"`
}

type jobStatus struct {
	Status   string    `json:"status"`
	Content  *jobAsset `json:"content"`
	Resource *jobAsset `json:"resource"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}

// Submit performs one extraction: it uploads the PDF, runs the extract job
// to completion and downloads the result archive. There are no retries;
// failures are *ServiceError values whose Kind tells the caller whether a
// retry makes sense. Invalid requests fail before any network traffic.
func (c *Client) Submit(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.submit(ctx, req)
	if c.Stats != nil {
		c.Stats.Record(time.Since(start).Milliseconds(), err)
	}
	return res, err
}

func (c *Client) submit(ctx context.Context, req Request) (*Result, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	asset, err := c.createAsset(ctx, token)
	if err != nil {
		return nil, c.forgetRejectedToken(token, err)
	}
	if err := c.uploadAsset(ctx, asset.UploadURI, req.pdf); err != nil {
		return nil, err
	}

	location, err := c.startJob(ctx, token, buildExtractRequest(asset.AssetID, req))
	if err != nil {
		return nil, c.forgetRejectedToken(token, err)
	}

	downloadURI, err := c.waitForJob(ctx, token, location)
	if err != nil {
		return nil, c.forgetRejectedToken(token, err)
	}

	return c.download(ctx, downloadURI)
}

func buildExtractRequest(assetID string, req Request) extractRequest {
	er := extractRequest{AssetID: assetID}
	if req.Has(Text) {
		er.ElementsToExtract = append(er.ElementsToExtract, "text")
	}
	if req.Has(Tables) {
		er.ElementsToExtract = append(er.ElementsToExtract, "tables")
	}
	// The service requires at least one element type.
	if len(er.ElementsToExtract) == 0 {
		er.ElementsToExtract = []string{"text"}
	}
	if req.Renders(TablesAsPNG) {
		er.RenditionsToExtract = append(er.RenditionsToExtract, "tables")
	}
	if req.Renders(FiguresAsPNG) {
		er.RenditionsToExtract = append(er.RenditionsToExtract, "figures")
	}
	if req.Renders(TablesAsCSV) {
		er.TableOutputFormat = "csv"
	}
	return er
}

// accessToken exchanges the client credentials for a bearer token, reusing
// a cached one until shortly before it expires.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tr tokenResponse
	if err := c.doJSON(httpReq, "token", &tr, http.StatusOK); err != nil {
		return "", err
	}
	if tr.AccessToken == "" {
		return "", &ServiceError{Kind: KindAuth, Op: "token", Message: "empty access token"}
	}

	c.token = tr.AccessToken
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= time.Minute {
		ttl = time.Minute
	}
	c.tokenExpiry = time.Now().Add(ttl - 30*time.Second)
	return c.token, nil
}

// forgetRejectedToken clears the cached token when the service refused it,
// so the next call fetches a new one. err is returned unchanged.
func (c *Client) forgetRejectedToken(token string, err error) error {
	if KindOf(err) != KindAuth {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
		c.tokenExpiry = time.Time{}
	}
	return err
}

func (c *Client) createAsset(ctx context.Context, token string) (*assetResponse, error) {
	body, err := json.Marshal(assetRequest{MediaType: "application/pdf"})
	if err != nil {
		return nil, fmt.Errorf("marshal asset: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/assets", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(httpReq, token)
	httpReq.Header.Set("Content-Type", "application/json")

	var ar assetResponse
	if err := c.doJSON(httpReq, "create asset", &ar, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	if ar.UploadURI == "" || ar.AssetID == "" {
		return nil, &ServiceError{Kind: KindServiceRejected, Op: "create asset", Message: "missing upload uri or asset id"}
	}
	return &ar, nil
}

func (c *Client) uploadAsset(ctx context.Context, uploadURI string, pdf []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURI, bytes.NewReader(pdf))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/pdf")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportError("upload asset", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return statusError("upload asset", resp.StatusCode, respBody)
	}
	return nil
}

// startJob submits the extract operation and returns the job location.
func (c *Client) startJob(ctx context.Context, token string, er extractRequest) (string, error) {
	body, err := json.Marshal(er)
	if err != nil {
		return "", fmt.Errorf("marshal extract request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/operation/extractpdf", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.authorize(httpReq, token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", transportError("start job", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", statusError("start job", resp.StatusCode, respBody)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", &ServiceError{Kind: KindServiceRejected, Op: "start job", StatusCode: resp.StatusCode, Message: "response carries no job location"}
	}
	if strings.HasPrefix(location, "/") {
		location = c.baseURL + location
	}
	return location, nil
}

// waitForJob polls the job until it finishes and returns the archive URI.
func (c *Client) waitForJob(ctx context.Context, token, location string) (string, error) {
	for {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		c.authorize(httpReq, token)

		var st jobStatus
		if err := c.doJSON(httpReq, "poll job", &st, http.StatusOK); err != nil {
			return "", err
		}

		switch strings.ToLower(st.Status) {
		case "done":
			if st.Resource != nil && st.Resource.DownloadURI != "" {
				return st.Resource.DownloadURI, nil
			}
			if st.Content != nil && st.Content.DownloadURI != "" {
				return st.Content.DownloadURI, nil
			}
			return "", &ServiceError{Kind: KindServiceRejected, Op: "poll job", Message: "job finished without a download uri"}
		case "failed":
			se := &ServiceError{Kind: KindServiceRejected, Op: "poll job", Message: "job failed"}
			if st.Error != nil {
				se.StatusCode = st.Error.Status
				se.Message = st.Error.Code + ": " + st.Error.Message
			}
			return "", se
		}

		select {
		case <-ctx.Done():
			return "", transportError("poll job", ctx.Err())
		case <-time.After(c.pollInterval):
		}
	}
}

func (c *Client) download(ctx context.Context, uri string) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError("download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, statusError("download", resp.StatusCode, respBody)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveBytes+1))
	if err != nil {
		return nil, transportError("download", err)
	}
	if len(data) > maxArchiveBytes {
		return nil, &ServiceError{Kind: KindServiceRejected, Op: "download", Message: "result archive exceeds size limit"}
	}

	ctype := resp.Header.Get("Content-Type")
	if ctype == "" {
		ctype = "application/zip"
	}
	return &Result{Archive: data, ContentType: ctype}, nil
}

func (c *Client) authorize(r *http.Request, token string) {
	r.Header.Set("Authorization", "Bearer "+token)
	r.Header.Set("X-API-Key", c.clientID)
}

// doJSON sends r and decodes a JSON body when the status is one of ok.
func (c *Client) doJSON(r *http.Request, op string, out any, ok ...int) error {
	resp, err := c.httpClient.Do(r)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return transportError(op, err)
	}

	accepted := false
	for _, code := range ok {
		if resp.StatusCode == code {
			accepted = true
			break
		}
	}
	if !accepted {
		return statusError(op, resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &ServiceError{Kind: KindServiceRejected, Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
