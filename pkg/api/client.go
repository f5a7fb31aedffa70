// Package api is a client for the test server, which publishes the ffmpeg
// bundle and the test matrix for each platform and collects reports.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"

	"github.com/jellyfin/hwbench/pkg/api/model"
	reportmodel "github.com/jellyfin/hwbench/pkg/report/model"
)

const (
	// PlatformsPath lists the platforms known to the server.
	PlatformsPath = "/api/v1/TestDefinitions/Platforms"
	// TestDataPath returns the test definitions for a platform.
	TestDataPath = "/api/v1/TestDefinitions"
	// SubmitPath accepts benchmark reports.
	SubmitPath = "/api/v1/TestResults"

	// DefaultCacheTTL is how long server responses are reused.
	DefaultCacheTTL = 5 * time.Minute

	// maxErrorBody limits how much of an error response is read.
	maxErrorBody = 1 << 10
)

var (
	// ErrInvalidTestData is returned when the server response lacks
	// required fields.
	ErrInvalidTestData = errors.New("invalid test data")
)

// StatusError is returned when the server answers with an unexpected status.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client talks to the test server.
type Client struct {
	// HTTPClient is used for all requests.
	HTTPClient *http.Client
	// UserAgent is sent with every request.
	UserAgent string

	baseURL   *url.URL
	platforms *ttlcache.Cache[string, []model.Platform]
	testData  *ttlcache.Cache[string, *model.TestData]
}

// NewClient returns a Client for the server at baseURL.
func NewClient(baseURL, userAgent string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	return &Client{
		HTTPClient: http.DefaultClient,
		UserAgent:  userAgent,
		baseURL:    u,
		platforms: ttlcache.New(
			ttlcache.WithTTL[string, []model.Platform](DefaultCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, []model.Platform](),
		),
		testData: ttlcache.New(
			ttlcache.WithTTL[string, *model.TestData](DefaultCacheTTL),
			ttlcache.WithDisableTouchOnHit[string, *model.TestData](),
		),
	}, nil
}

// Platforms returns the platforms known to the server.
func (c *Client) Platforms(ctx context.Context) ([]model.Platform, error) {
	if item := c.platforms.Get(PlatformsPath); item != nil {
		return item.Value(), nil
	}
	var platforms []model.Platform
	if err := c.get(ctx, c.endpoint(PlatformsPath, nil), &platforms); err != nil {
		return nil, err
	}
	c.platforms.Set(PlatformsPath, platforms, ttlcache.DefaultTTL)
	return platforms, nil
}

// TestData returns the ffmpeg bundle and the test matrix for a platform.
func (c *Client) TestData(ctx context.Context, platformID string) (*model.TestData, error) {
	if item := c.testData.Get(platformID); item != nil {
		return item.Value(), nil
	}
	q := url.Values{}
	q.Set("platformId", platformID)
	data := &model.TestData{}
	if err := c.get(ctx, c.endpoint(TestDataPath, q), data); err != nil {
		return nil, err
	}
	if data.FFmpeg.SourceURL == "" {
		return nil, fmt.Errorf("%w: missing ffmpeg source URL", ErrInvalidTestData)
	}
	for _, f := range data.Tests {
		if f.SourceURL == "" {
			return nil, fmt.Errorf("%w: missing source URL for %q", ErrInvalidTestData, f.Name)
		}
	}
	c.testData.Set(platformID, data, ttlcache.DefaultTTL)
	return data, nil
}

// Submit uploads a report.
func (c *Client) Submit(ctx context.Context, report *reportmodel.Report) error {
	b, err := json.Marshal(report)
	if err != nil {
		return err
	}
	endpoint := c.endpoint(SubmitPath, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent:
		return nil
	default:
		return statusError(endpoint, resp)
	}
}

func (c *Client) endpoint(p string, q url.Values) string {
	u := c.baseURL.JoinPath(p)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) get(ctx context.Context, endpoint string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(endpoint, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("cannot decode response from %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	log.Debug("api request", "method", req.Method, "url", req.URL.String())
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

func statusError(endpoint string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		URL:        endpoint,
		StatusCode: resp.StatusCode,
		Body:       string(bytes.TrimSpace(body)),
	}
}
