// Package mlabns implements a client for the M-Lab location service
// (mlabns), used to discover a nearby measurement server FQDN when
// Settings.Hostname is empty. Treated as an external collaborator by
// spec §1 ("server-discovery HTTP queries... resolve hostname → list of
// FQDNs"); this package owns exactly that HTTP round trip and nothing
// else. Grounded on the teacher's mlabns package shape.
package mlabns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrQueryFailed indicates the location service returned a non-2xx/204
// status code.
var ErrQueryFailed = errors.New("mlabns: query failed")

// ErrNoAvailableServers indicates the location service had no server to
// offer (HTTP 204).
var ErrNoAvailableServers = errors.New("mlabns: no available servers")

// result is one candidate server in the locate v2 "results" array. Machine
// carries the FQDN in the production API; fqdn is also accepted so a test
// fixture (or an older server) that still uses the single-object shape's
// field name works without a second struct.
type result struct {
	Machine string `json:"machine"`
	FQDN    string `json:"fqdn"`
	City    string `json:"city,omitempty"`
	Site    string `json:"site,omitempty"`
}

// reply is the location service's JSON response body. The v2 API returns
// a "results" array with one entry per candidate server, ranked nearest
// first; the single top-level fqdn/city/site fields are the pre-v2 shape,
// kept here so a server (or test) that still answers that way parses the
// same.
type reply struct {
	Results []result `json:"results"`
	FQDN    string   `json:"fqdn,omitempty"`
	City    string   `json:"city,omitempty"`
	Site    string   `json:"site,omitempty"`
}

// fqdns extracts every candidate FQDN from r, preferring the v2 "results"
// array and falling back to the single top-level fqdn field.
func (r reply) fqdns() []string {
	var out []string
	for _, res := range r.Results {
		fqdn := res.Machine
		if fqdn == "" {
			fqdn = res.FQDN
		}
		if fqdn != "" {
			out = append(out, fqdn)
		}
	}
	if len(out) == 0 && r.FQDN != "" {
		out = append(out, r.FQDN)
	}
	return out
}

// Client queries the location service for a tool name, with every
// network dependency overridable for testing.
type Client struct {
	// BaseURL is the location service's base URL.
	BaseURL string

	// ToolName identifies the tool to mlabns (e.g. "ndt7").
	ToolName string

	// UserAgent is sent as the User-Agent header.
	UserAgent string

	// HTTPClient performs the actual round trip.
	HTTPClient *http.Client

	// RequestMaker builds the *http.Request; overridable for testing.
	RequestMaker func(method, url string, body io.Reader) (*http.Request, error)
}

// NewClient returns a Client configured with the production defaults.
func NewClient(toolName, userAgent string) *Client {
	return &Client{
		BaseURL:      "https://locate.measurementlab.net/v2/nearest",
		ToolName:     toolName,
		UserAgent:    userAgent,
		HTTPClient:   http.DefaultClient,
		RequestMaker: http.NewRequest,
	}
}

// Query returns the first FQDN returned by the location service when no
// policy is given (QueryAll with an empty policy), or an error.
func (c *Client) Query(ctx context.Context) (string, error) {
	fqdns, err := c.QueryAll(ctx, "")
	if err != nil {
		return "", err
	}
	return fqdns[0], nil
}

// QueryAll returns every FQDN the location service offers for policy
// (empty means "use the server's default policy"), supporting the ndt5
// driver's multi-FQDN server-busy retry loop (spec §4.5).
func (c *Client) QueryAll(ctx context.Context, policy string) ([]string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = joinPath(u.Path, c.ToolName)
	if policy != "" {
		q := u.Query()
		q.Set("policy", policy)
		u.RawQuery = q.Encode()
	}

	req, err := c.RequestMaker(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoAvailableServers
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ErrQueryFailed
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, ErrNoAvailableServers
	}

	var r reply
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	fqdns := r.fqdns()
	if len(fqdns) == 0 {
		return nil, ErrNoAvailableServers
	}
	return fqdns, nil
}

func joinPath(base, tool string) string {
	if base == "" {
		return "/" + tool
	}
	if base[len(base)-1] == '/' {
		return base + tool
	}
	return fmt.Sprintf("%s/%s", base, tool)
}
