// Package authority is the protocol adapter for the tax authority's
// reporting/clearance endpoints and the optional pre-submission validator.
// It performs single calls; retries belong to the compliance queue.
package authority

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

	"github.com/fawtara/fawtara/internal/platform/httpx"
)

const (
	maxBodyBytes     = 1 << 20
	maxErrorSnippet  = 500
	defaultTimeout   = 30 * time.Second
	contentTypeXML   = "application/xml"
	jobTypeReport    = "report"
	jobTypeClear     = "clear"
	validatePathPart = "/validate"
)

// ErrNoEndpoint means no authority URL is configured for a job type.
var ErrNoEndpoint = fmt.Errorf("authority: endpoint not configured: %w", httpx.ErrConfiguration)

// Config holds endpoint settings.
type Config struct {
	ReportURL    string
	ClearURL     string
	Token        string
	ValidatorURL string
	Timeout      time.Duration
}

// Response is the normalized outcome of a submission.
type Response struct {
	OK     bool
	Status int
	Body   string
}

// Validation is the validator verdict. Skipped is set when no validator is
// configured, in which case OK is true.
type Validation struct {
	OK      bool     `json:"ok"`
	Errors  []string `json:"errors,omitempty"`
	Skipped bool     `json:"-"`
}

// Client calls the authority over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient constructs a client with an explicit request timeout.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Endpoint returns the URL for a job type.
func (c *Client) Endpoint(jobType string) (string, error) {
	var url string
	switch jobType {
	case jobTypeReport:
		url = c.cfg.ReportURL
	case jobTypeClear:
		url = c.cfg.ClearURL
		if url == "" {
			url = c.cfg.ReportURL
		}
	default:
		return "", fmt.Errorf("authority: unknown job type %q", jobType)
	}
	if strings.TrimSpace(url) == "" {
		return "", ErrNoEndpoint
	}
	return url, nil
}

// Submit posts payload to endpoint. Non-2xx responses are not errors; the
// returned error covers transport failures only.
func (c *Client) Submit(ctx context.Context, endpoint, payload string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("authority: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeXML)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("authority: submit: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Response{}, fmt.Errorf("authority: read response: %w", err)
	}
	return Response{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Body:   string(body),
	}, nil
}

// Validate asks the validator service about payload. Without a configured
// validator the payload passes as skipped.
func (c *Client) Validate(ctx context.Context, payload string) (Validation, error) {
	if c.cfg.ValidatorURL == "" {
		return Validation{OK: true, Skipped: true}, nil
	}
	url := strings.TrimRight(c.cfg.ValidatorURL, "/") + validatePathPart
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		return Validation{}, fmt.Errorf("authority: build validate request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeXML)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Validation{}, fmt.Errorf("authority: validate: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Validation{}, fmt.Errorf("authority: read validate response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Validation{OK: false, Errors: []string{fmt.Sprintf("SDK HTTP %d: %s", resp.StatusCode, truncate(string(body), maxErrorSnippet))}}, nil
	}
	var out struct {
		OK     *bool    `json:"ok"`
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &out); err != nil || out.OK == nil {
		return Validation{OK: false, Errors: []string{"Invalid SDK response"}}, nil
	}
	return Validation{OK: *out.OK, Errors: out.Errors}, nil
}

// IsTimeout reports whether err came from the request timeout.
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
