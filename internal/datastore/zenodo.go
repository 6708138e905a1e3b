package datastore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"
)

// API roots for the archive service.
const (
	productionAPI = "https://zenodo.org/api"
	sandboxAPI    = "https://sandbox.zenodo.org/api"
)

// DOIs addressing the current release of each source's archive. The
// sandbox namespace (10.5072) mirrors production for testing against the
// sandbox service.
var (
	productionDOI = map[string]string{
		"censusdp1tract": "10.5281/zenodo.4127049",
		"eia860":         "10.5281/zenodo.4127027",
		"eia860m":        "10.5281/zenodo.4281337",
		"eia861":         "10.5281/zenodo.4127029",
		"eia923":         "10.5281/zenodo.4127040",
		"epacems":        "10.5281/zenodo.4127055",
		"ferc1":          "10.5281/zenodo.4127044",
		"ferc714":        "10.5281/zenodo.4127101",
	}
	sandboxDOI = map[string]string{
		"censusdp1tract": "10.5072/zenodo.674992",
		"eia860":         "10.5072/zenodo.672210",
		"eia860m":        "10.5072/zenodo.692655",
		"eia861":         "10.5072/zenodo.687052",
		"eia923":         "10.5072/zenodo.687071",
		"epacems":        "10.5072/zenodo.672963",
		"ferc1":          "10.5072/zenodo.687072",
		"ferc714":        "10.5072/zenodo.672224",
	}
)

var doiRecordID = regexp.MustCompile(`zenodo\.(\d+)`)

const descriptorName = "datapackage.json"

// ClientOptions configures the archive service client.
type ClientOptions struct {
	Sandbox bool
	// Token is an access token for the service. Read-only tokens are
	// sufficient; the client sends it as a query parameter per the
	// service's convention.
	Token string
	// Timeout bounds each attempt, not the whole download.
	Timeout time.Duration
	// Retries is the number of re-attempts after the first failure.
	Retries int
	// Backoff is the base delay between attempts, growing exponentially.
	Backoff time.Duration
	// BaseURL overrides the API root. Tests point this at a local server.
	BaseURL string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client fetches descriptors and resource contents from the archive
// service, with bounded retries and exponential backoff per request.
type Client struct {
	http    *http.Client
	apiRoot string
	token   string
	doi     map[string]string
	timeout time.Duration
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// NewClient creates an archive service client.
func NewClient(opts ClientOptions) *Client {
	c := &Client{
		http:    opts.HTTPClient,
		apiRoot: opts.BaseURL,
		token:   opts.Token,
		doi:     productionDOI,
		timeout: opts.Timeout,
		retries: opts.Retries,
		backoff: opts.Backoff,
		logger:  opts.Logger,
	}
	if opts.Sandbox {
		c.doi = sandboxDOI
	}
	if c.apiRoot == "" {
		c.apiRoot = productionAPI
		if opts.Sandbox {
			c.apiRoot = sandboxAPI
		}
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout == 0 {
		c.timeout = 15 * time.Second
	}
	if c.retries == 0 {
		c.retries = 3
	}
	if c.backoff == 0 {
		c.backoff = 2 * time.Second
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// KnownSources returns the sources this client can resolve, sorted.
func (c *Client) KnownSources() []string {
	out := make([]string, 0, len(c.doi))
	for s := range c.doi {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// DOI returns the DOI addressing the current release of a source.
func (c *Client) DOI(source string) (string, error) {
	doi, ok := c.doi[source]
	if !ok {
		return "", fmt.Errorf("no doi found for source %s", source)
	}
	return doi, nil
}

// recordURL resolves a DOI to the deposition record URL holding its files.
func (c *Client) recordURL(doi string) (string, error) {
	m := doiRecordID.FindStringSubmatch(doi)
	if m == nil {
		return "", fmt.Errorf("invalid doi %s", doi)
	}
	return fmt.Sprintf("%s/deposit/depositions/%s", c.apiRoot, m[1]), nil
}

// Descriptor fetches and parses the datapackage descriptor for a source.
func (c *Client) Descriptor(ctx context.Context, source string) (*Descriptor, error) {
	doi, err := c.DOI(source)
	if err != nil {
		return nil, err
	}
	recURL, err := c.recordURL(doi)
	if err != nil {
		return nil, err
	}

	var record struct {
		Files []struct {
			Filename string `json:"filename"`
			Links    struct {
				Download string `json:"download"`
			} `json:"links"`
		} `json:"files"`
	}
	body, err := c.get(ctx, recURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record for %s/%s: %w", source, doi, err)
	}
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("failed to parse record for %s/%s: %w", source, doi, err)
	}

	for _, f := range record.Files {
		if f.Filename != descriptorName {
			continue
		}
		raw, err := c.get(ctx, f.Links.Download)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch descriptor for %s/%s: %w", source, doi, err)
		}
		return ParseDescriptor(raw, source, doi)
	}
	return nil, fmt.Errorf("record for %s/%s does not contain %s", source, doi, descriptorName)
}

// Download streams a resource to dst, retrying failed attempts from the
// start. Returns the hex digest of the content, computed with the
// algorithm the resource's hash spec names.
func (c *Client) Download(ctx context.Context, res Resource, dst string) (string, error) {
	algo, _ := parseHash(res.Hash)

	var digest string
	b := c.backoffPolicy()
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		got, err := c.downloadOnce(ctx, res.DownloadURL(), dst, algo)
		if err != nil {
			if retryableHTTP(err) {
				c.logger.Warn("download attempt failed, will retry",
					slog.String("resource", res.Name),
					slog.String("error", err.Error()))
				return retry.RetryableError(err)
			}
			return err
		}
		digest = got
		return nil
	})
	if err != nil {
		return "", err
	}
	return digest, nil
}

func (c *Client) backoffPolicy() retry.Backoff {
	b := retry.NewExponential(c.backoff)
	b = retry.WithJitter(250*time.Millisecond, b)
	b = retry.WithCappedDuration(30*time.Second, b)
	return retry.WithMaxRetries(uint64(c.retries), b)
}

// statusError marks responses whose status code signals a transient server
// condition worth retrying.
type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.code, e.url)
}

func retryableHTTP(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.code {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Transport errors (timeouts, resets) are retryable.
	return true
}

func (c *Client) downloadOnce(ctx context.Context, rawURL, dst, algo string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, rawURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", dst, err)
	}
	defer f.Close()

	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(io.MultiWriter(f, h), resp.Body); err != nil {
		return "", fmt.Errorf("failed to stream %s: %w", rawURL, err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync %s: %w", dst, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// get fetches a URL into memory, with the same retry policy as Download.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, c.backoffPolicy(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.do(ctx, rawURL)
		if err != nil {
			if retryableHTTP(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	return body, err
}

// do issues a GET with the access token attached and maps non-2xx statuses
// to statusError.
func (c *Client) do(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", rawURL, err)
	}
	if c.token != "" {
		q := u.Query()
		q.Set("access_token", c.token)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode, url: rawURL}
	}
	return resp, nil
}
