// Package client is a Go client for the ingestion HTTP API.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/RaghavMadan07/Agri/internal/submission"
)

// APIError is a non-2xx response.
type APIError struct {
	Status    int
	Code      string `json:"code"`
	Message   string `json:"error"`
	RequestID string `json:"request_id"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("agri api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("agri api: %d: %s", e.Status, e.Message)
}

// Metadata is the form data sent with an image.
type Metadata struct {
	Latitude    float64
	Longitude   float64
	GrowthStage string
}

// Receipt is the 202 body of an accepted submission.
type Receipt struct {
	Message      string `json:"message"`
	SubmissionID string `json:"submissionId"`
	StatusURL    string `json:"statusUrl"`
}

// Client calls the API. A Client holds at most one session token.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets a previously issued session token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Token returns the current session token.
func (c *Client) Token() string { return c.token }

// Register creates an account and returns its id.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.postJSON(ctx, "/auth/register", map[string]string{"username": username, "password": password}, http.StatusCreated, &out)
	return out.ID, err
}

// Login obtains a session token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.postJSON(ctx, "/auth/login", map[string]string{"username": username, "password": password}, http.StatusOK, &out); err != nil {
		return "", err
	}
	c.token = out.Token
	return out.Token, nil
}

// Submit uploads an image with its metadata.
func (c *Client) Submit(ctx context.Context, filename string, image io.Reader, md Metadata) (Receipt, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"latitude", strconv.FormatFloat(md.Latitude, 'f', -1, 64)},
		{"longitude", strconv.FormatFloat(md.Longitude, 'f', -1, 64)},
		{"growth_stage", md.GrowthStage},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return Receipt{}, err
		}
	}
	part, err := mw.CreateFormFile("cropImage", filename)
	if err != nil {
		return Receipt{}, err
	}
	if _, err := io.Copy(part, image); err != nil {
		return Receipt{}, fmt.Errorf("read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Receipt{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/ingest", &buf)
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var out Receipt
	err = c.do(req, http.StatusAccepted, &out)
	return out, err
}

// Status fetches the caller's view of a submission.
func (c *Client) Status(ctx context.Context, id string) (submission.StatusView, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/status/"+url.PathEscape(id), nil)
	if err != nil {
		return submission.StatusView{}, err
	}
	var out submission.StatusView
	err = c.do(req, http.StatusOK, &out)
	return out, err
}

// Wait polls Status every interval until the submission is terminal or ctx
// ends.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration) (submission.StatusView, error) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		view, err := c.Status(ctx, id)
		if err != nil {
			return view, err
		}
		if view.Status.Terminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body any, want int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, want, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		if jerr := json.Unmarshal(body, apiErr); jerr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
