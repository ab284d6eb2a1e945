package platform

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/rflorenc/gitlab-migrator/internal/models"
)

// Client is a token-authenticated HTTP client for one GitLab instance.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client from a Connection.
func NewClient(conn *models.Connection) *Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if conn.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	} else if conn.CACert != "" {
		caCertPool := x509.NewCertPool()
		if caCertPool.AppendCertsFromPEM([]byte(conn.CACert)) {
			transport.TLSClientConfig = &tls.Config{RootCAs: caCertPool}
		}
	}
	return &Client{
		baseURL:    conn.APIBase(),
		token:      conn.Token,
		httpClient: &http.Client{Transport: transport},
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx response from the remote instance.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// StatusCode extracts the HTTP status from an APIError chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// ErrorMessage returns the remote message for an APIError chain, falling
// back to err.Error().
func ErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}

// Page is one page of a listing plus the pagination headers.
type Page struct {
	Records  []models.ResourceRecord
	NextPage int // 0 when this is the last page
	Total    int // -1 when the remote omits X-Total
}

func (c *Client) newRequest(ctx context.Context, method, path string, params url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do executes req and returns the response when it is 2xx. Error bodies are
// drained into an APIError.
func (c *Client) do(req *http.Request, path string) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", req.Method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{
			Method:     req.Method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    truncate(remoteMessage(body), 500),
		}
	}
	return resp, nil
}

// Get performs an authenticated GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response")
	}
	return body, nil
}

// GetJSON performs an authenticated GET and unmarshals the response into dest.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, dest interface{}) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	return nil
}

// GetPage fetches one page of a listing endpoint.
func (c *Client) GetPage(ctx context.Context, path string, params url.Values) (*Page, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, params, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	page := &Page{Total: -1}
	if err := json.NewDecoder(resp.Body).Decode(&page.Records); err != nil {
		return nil, errors.Wrapf(err, "parsing %s page", path)
	}
	if next := resp.Header.Get("X-Next-Page"); next != "" {
		n, err := strconv.Atoi(next)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing X-Next-Page %q", next)
		}
		page.NextPage = n
	}
	if total := resp.Header.Get("X-Total"); total != "" {
		if n, err := strconv.Atoi(total); err == nil {
			page.Total = n
		}
	}
	return page, nil
}

// Post performs an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, errors.Wrap(err, "marshaling body")
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, bodyReader)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.do(req, path)
	if err != nil {
		return nil, StatusCode(err), err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrap(err, "reading response")
	}
	return body, resp.StatusCode, nil
}

// PostFile uploads filePath as the multipart "file" field together with
// the given form fields.
func (c *Client) PostFile(ctx context.Context, path string, fields url.Values, filePath string) ([]byte, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", filePath)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		for key, values := range fields {
			for _, v := range values {
				if err := mw.WriteField(key, v); err != nil {
					pw.CloseWithError(err)
					return
				}
			}
		}
		part, err := mw.CreateFormFile("file", filepath.Base(filePath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, path, nil, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.do(req, path)
	if err != nil {
		pr.Close()
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response")
	}
	return body, nil
}

// Download streams the body of a GET into w and returns the byte count.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/octet-stream")
	resp, err := c.do(req, path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, errors.Wrapf(err, "downloading %s", path)
	}
	return n, nil
}

// remoteMessage extracts GitLab's {"message": ...} or {"error": ...} text.
// Structured validation messages are re-encoded compactly.
func remoteMessage(body []byte) string {
	var envelope struct {
		Message json.RawMessage `json:"message"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return string(body)
	}
	raw := envelope.Message
	if len(raw) == 0 {
		raw = envelope.Error
	}
	if len(raw) == 0 {
		return string(body)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
