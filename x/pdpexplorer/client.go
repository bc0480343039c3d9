package pdpexplorer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the calibration network explorer.
	DefaultBaseURL = "https://calibration.pdp-explorer.eng.filoz.org"
	// DefaultRootsLimit is the page size requested for roots.
	DefaultRootsLimit = 100
	// DefaultTimeout bounds a single request including reading the body.
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 4096
)

// ErrTransport wraps failures to reach the explorer at all.
var ErrTransport = errors.New("pdp explorer transport error")

// APIError is returned when the explorer answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("pdp explorer returned %s", e.Status)
	}
	return fmt.Sprintf("pdp explorer returned %s: %s", e.Status, e.Body)
}

// RootsFetcher fetches the roots of a proof set.
type RootsFetcher interface {
	FetchRoots(ctx context.Context, proofSetID string) ([]Root, error)
}

// Client implements RootsFetcher over the PDP explorer REST API.
type Client struct {
	baseURL    *url.URL
	limit      int
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient constructs an explorer client. A nil httpClient gets DefaultTimeout;
// a non-positive limit falls back to DefaultRootsLimit.
func NewClient(rawURL string, limit int, httpClient *http.Client, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("base URL is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pdp explorer base URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid pdp explorer base URL %q: scheme must be http or https", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if limit <= 0 {
		limit = DefaultRootsLimit
	}
	logger := log.With().Str("component", "pdp-explorer-client").Logger()

	client := &Client{
		baseURL:    parsed,
		limit:      limit,
		httpClient: httpClient,
		log:        logger,
	}

	logger.Info().
		Str("base_url", rawURL).
		Int("limit", limit).
		Dur("timeout", httpClient.Timeout).
		Msg("PDP explorer client initialized")

	return client, nil
}

// FetchRoots returns the roots of proofSetID ordered by root id.
func (c *Client) FetchRoots(ctx context.Context, proofSetID string) ([]Root, error) {
	switch strings.TrimSpace(proofSetID) {
	case "":
		return nil, errors.New("proofSetID is required")
	case ".", "..":
		return nil, fmt.Errorf("invalid proofSetID %q", proofSetID)
	}

	endpoint := c.rootsURL(proofSetID)

	c.log.Debug().
		Str("proofset_id", proofSetID).
		Str("endpoint", endpoint).
		Msg("requesting proof set roots")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("prepare roots request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get roots: %w", ErrTransport, err)
	}
	defer res.Body.Close()

	c.log.Debug().
		Str("proofset_id", proofSetID).
		Int("status_code", res.StatusCode).
		Msg("roots response received")

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &APIError{
			StatusCode: res.StatusCode,
			Status:     res.Status,
			Body:       strings.TrimSpace(string(msg)),
		}
	}

	var page RootsPage
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode roots response: %w", err)
	}

	c.log.Debug().
		Str("proofset_id", proofSetID).
		Int("roots", len(page.Data)).
		Uint64("total", page.Metadata.Total).
		Msg("retrieved proof set roots")

	return page.Data, nil
}

// rootsURL keeps proofSetID a single path segment; separators in it are escaped.
func (c *Client) rootsURL(proofSetID string) string {
	clone := *c.baseURL
	base := strings.TrimSuffix(c.baseURL.Path, "/")
	rawBase := strings.TrimSuffix(c.baseURL.EscapedPath(), "/")
	clone.Path = base + "/api/proofsets/" + proofSetID + "/roots"
	clone.RawPath = rawBase + "/api/proofsets/" + url.PathEscape(proofSetID) + "/roots"
	q := url.Values{}
	q.Set("orderBy", "root_id")
	q.Set("limit", strconv.Itoa(c.limit))
	clone.RawQuery = q.Encode()
	return clone.String()
}

var _ RootsFetcher = (*Client)(nil)
