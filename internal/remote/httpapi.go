package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shelfdapp/shelfd/internal/catalog"
)

// Client fetches book resources from the content service's JSON API. It
// implements every fetcher interface except the glossary, assignment and
// notebook workers, which live in separate services.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient creates a Client against the given API base URL.
func NewClient(hc *http.Client, baseURL string) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{http: hc, baseURL: baseURL}
}

func (c *Client) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) FetchMetadata(ctx context.Context, bookID string) (*catalog.Metadata, error) {
	var m catalog.Metadata
	if err := c.getJSON(ctx, "/books/"+bookID+"/metadata", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) FetchProfile(ctx context.Context, bookID string) (*catalog.Profile, error) {
	var p catalog.Profile
	if err := c.getJSON(ctx, "/books/"+bookID+"/profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) FetchToc(ctx context.Context, bookID string) (*TocDocument, error) {
	var t TocDocument
	if err := c.getJSON(ctx, "/books/"+bookID+"/toc", &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) FetchManifest(ctx context.Context, bookID string) ([]catalog.ManifestEntry, error) {
	var entries []catalog.ManifestEntry
	if err := c.getJSON(ctx, "/books/"+bookID+"/manifest", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) FetchModules(ctx context.Context, bookID string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "/books/"+bookID+"/modules", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) FetchPrompts(ctx context.Context, bookID string) ([]Prompt, error) {
	var prompts []Prompt
	if err := c.getJSON(ctx, "/books/"+bookID+"/prompts", &prompts); err != nil {
		return nil, err
	}
	return prompts, nil
}

// FetchDoc fetches a raw document by absolute URL.
func (c *Client) FetchDoc(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return b, nil
}

var (
	_ MetadataFetcher = (*Client)(nil)
	_ ProfileFetcher  = (*Client)(nil)
	_ TocFetcher      = (*Client)(nil)
	_ ManifestFetcher = (*Client)(nil)
	_ ModulesFetcher  = (*Client)(nil)
	_ PromptFetcher   = (*Client)(nil)
	_ DocFetcher      = (*Client)(nil)
)
