// Package registry downloads packed crates from their registry's `dl` endpoint.
package registry

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

// maxCrateSize bounds a single download.
const maxCrateSize = 1 << 30

// configFile is the registry configuration at the root of every index.
const configFile = "config.json"

var _ ports.Downloader = (*Client)(nil)

// indexConfig is the part of an index config.json the client reads.
type indexConfig struct {
	DL string `json:"dl"`
}

// Client implements ports.Downloader over HTTP.
// Download templates come from explicit overrides, the built-in crates.io template, or
// the `dl` field of the registry index config.json.
type Client struct {
	http  *http.Client
	index ports.IndexRepository
	home  domain.CargoHome
	cfg   domain.Config

	mu        sync.Mutex
	templates map[string]string
}

// NewClient creates a Client reading git index configs through index.
func NewClient(index ports.IndexRepository) *Client {
	return &Client{
		http:      &http.Client{Timeout: domain.DefaultConfig().HTTPTimeout},
		index:     index,
		cfg:       domain.DefaultConfig(),
		templates: make(map[string]string),
	}
}

// ForRun returns a copy of the client bound to the settings of one run.
func (c *Client) ForRun(cfg domain.Config) *Client {
	httpClient := *c.http
	if cfg.HTTPTimeout > 0 {
		httpClient.Timeout = cfg.HTTPTimeout
	}
	return &Client{
		http:      &httpClient,
		index:     c.index,
		home:      domain.CargoHome{Root: cfg.Root},
		cfg:       cfg,
		templates: make(map[string]string),
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

// Download fetches the .crate of pkg. It does not verify the checksum.
func (c *Client) Download(ctx context.Context, pkg domain.RegistryPackage) ([]byte, error) {
	tmpl, err := c.template(ctx, pkg.Registry)
	if err != nil {
		return nil, err
	}
	return c.get(ctx, domain.ExpandDownloadURL(tmpl, pkg), maxCrateSize)
}

// template resolves and caches the download template of r.
func (c *Client) template(ctx context.Context, r domain.Registry) (string, error) {
	if t, ok := c.cfg.DownloadTemplate(r); ok {
		return t, nil
	}

	c.mu.Lock()
	t, ok := c.templates[r.IndexURL]
	c.mu.Unlock()
	if ok {
		return t, nil
	}

	raw, err := c.readConfig(ctx, r)
	if err != nil {
		return "", err
	}

	var cfg indexConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return "", domain.WithKind(domain.ErrConfig,
			zerr.With(zerr.Wrap(err, "failed to parse registry config.json"), "registry", r.IndexURL))
	}
	if cfg.DL == "" {
		return "", domain.WithKind(domain.ErrConfig,
			zerr.With(zerr.New("registry config.json has no download url"), "registry", r.IndexURL))
	}

	c.mu.Lock()
	c.templates[r.IndexURL] = cfg.DL
	c.mu.Unlock()
	return cfg.DL, nil
}

func (c *Client) readConfig(ctx context.Context, r domain.Registry) ([]byte, error) {
	if r.Protocol == domain.ProtocolSparse {
		return c.get(ctx, strings.TrimSuffix(r.IndexURL, "/")+"/"+configFile, 1<<20)
	}
	raw, err := c.index.ReadFile(ctx, c.home.IndexDir(r), configFile)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read registry config.json"), "registry", r.IndexURL)
	}
	return raw, nil
}

// get performs one GET. Network errors and 408/429/5xx responses are tagged with
// domain.ErrTransport, a 404 with domain.ErrObjectNotFound.
func (c *Client) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to build request"), "url", url)
	}
	req.Header.Set("User-Agent", "cratesync")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "request failed"), "url", url))
	}
	defer resp.Body.Close() //nolint:errcheck // Body is drained below

	if err := checkStatus(resp, url); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, "failed to read response"), "url", url))
	}
	if int64(len(body)) > limit {
		return nil, zerr.With(zerr.New("response exceeds size limit"), "url", url)
	}
	if resp.ContentLength >= 0 && int64(len(body)) != resp.ContentLength {
		return nil, domain.WithKind(domain.ErrTransport, zerr.With(zerr.New("truncated response"), "url", url))
	}
	return body, nil
}

func checkStatus(resp *http.Response, url string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	err := zerr.With(zerr.With(zerr.New("unexpected response status"), "status", resp.StatusCode), "url", url)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.WithKind(domain.ErrObjectNotFound, err)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return domain.WithKind(domain.ErrTransport, err)
	default:
		return err
	}
}
