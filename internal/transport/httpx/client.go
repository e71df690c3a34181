// Package httpx implements the transport session over plain HTTP with
// byte-range resume.
package httpx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/shelfdapp/shelfd/internal/fp"
	"github.com/shelfdapp/shelfd/internal/transport"
)

const copyChunk = 64 * 1024

// Client is an HTTP transport. Partial payloads are staged in stagingDir
// under a fingerprint of the source URL, so a cancelled-with-token transfer
// finds its bytes again across Create calls.
type Client struct {
	http       *http.Client
	stagingDir string
	log        *slog.Logger

	mu      sync.Mutex
	handler transport.Handler
	nextID  int64
	xfers   map[int64]*xfer
}

type xfer struct {
	source    string
	path      string
	expected  int64
	suspended bool
	cancelled bool
	cancel    context.CancelFunc
}

// New creates an HTTP transport staging partial payloads in stagingDir.
func New(hc *http.Client, stagingDir string, log *slog.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{http: hc, stagingDir: stagingDir, log: log, nextID: 1, xfers: make(map[int64]*xfer)}
}

// SetHandler wires the callback sink. Must be called before Launch.
func (c *Client) SetHandler(h transport.Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Create allocates a transfer for the source URL. A resume token from a
// previous Cancel re-attaches the transfer to its staged bytes; without one
// any stale staging file is discarded.
func (c *Client) Create(source string, resume []byte) (int64, error) {
	if source == "" {
		return 0, fmt.Errorf("empty source url")
	}
	if err := os.MkdirAll(c.stagingDir, 0o755); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}
	path := filepath.Join(c.stagingDir, fp.Fingerprint(source))
	if resume == nil {
		// Fresh transfer: never trust bytes from an unrelated attempt.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return 0, fmt.Errorf("clear staging file: %w", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.xfers[id] = &xfer{source: source, path: path, expected: transport.UnknownSize}
	return id, nil
}

// Launch starts streaming the transfer.
func (c *Client) Launch(correlationID int64) error {
	c.mu.Lock()
	x, ok := c.xfers[correlationID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown transfer %d", correlationID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	x.cancel = cancel
	x.suspended = false
	c.mu.Unlock()

	go c.run(ctx, correlationID, x)
	return nil
}

// Suspend stops the stream, retaining the staged bytes.
func (c *Client) Suspend(correlationID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	x, ok := c.xfers[correlationID]
	if !ok {
		return fmt.Errorf("unknown transfer %d", correlationID)
	}
	x.suspended = true
	if x.cancel != nil {
		x.cancel()
	}
	return nil
}

// Resume relaunches a suspended transfer from the staged offset.
func (c *Client) Resume(correlationID int64) error {
	return c.Launch(correlationID)
}

// Cancel tears the transfer down. With wantToken the staged bytes are kept
// and an offset token is returned for a later Create.
func (c *Client) Cancel(correlationID int64, wantToken bool) ([]byte, bool) {
	c.mu.Lock()
	x, ok := c.xfers[correlationID]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	x.cancelled = true
	if x.cancel != nil {
		x.cancel()
	}
	delete(c.xfers, correlationID)
	c.mu.Unlock()

	if wantToken {
		if fi, err := os.Stat(x.path); err == nil && fi.Size() > 0 {
			return []byte(strconv.FormatInt(fi.Size(), 10)), true
		}
		return nil, false
	}
	if err := os.Remove(x.path); err != nil && !os.IsNotExist(err) {
		c.log.Warn("failed to remove staging file", "path", x.path, "err", err)
	}
	return nil, false
}

func (c *Client) run(ctx context.Context, id int64, x *xfer) {
	err := c.stream(ctx, id, x)

	c.mu.Lock()
	h := c.handler
	suspended, cancelled := x.suspended, x.cancelled
	if err == nil {
		delete(c.xfers, id)
	}
	c.mu.Unlock()

	if h == nil {
		return
	}
	switch {
	case err == nil:
		h.TransferFinished(id, x.path, nil)
	case suspended || cancelled:
		// Intentional stop, not a terminal outcome.
	default:
		h.TransferFinished(id, "", err)
	}
}

func (c *Client) stream(ctx context.Context, id int64, x *xfer) error {
	f, err := os.OpenFile(x.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open staging file: %w", err)
	}
	defer f.Close()

	offset := int64(0)
	if fi, serr := f.Stat(); serr == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.source, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", x.source, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if offset > 0 {
			// Server ignored the range; start over.
			if err := f.Truncate(0); err != nil {
				return fmt.Errorf("truncate staging file: %w", err)
			}
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind staging file: %w", err)
			}
			offset = 0
		}
	case http.StatusPartialContent:
	default:
		return fmt.Errorf("request %s: unexpected status %d", x.source, resp.StatusCode)
	}

	expected := transport.UnknownSize
	if resp.ContentLength >= 0 {
		expected = offset + resp.ContentLength
	}
	c.mu.Lock()
	x.expected = expected
	h := c.handler
	c.mu.Unlock()

	if offset > 0 && h != nil {
		h.TransferResumed(id, offset, expected)
	}

	written := offset
	buf := make([]byte, copyChunk)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write staging file: %w", werr)
			}
			written += int64(n)
			if h != nil {
				h.TransferProgress(id, written, expected)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("read body: %w", rerr)
		}
	}
}

var _ transport.Transport = (*Client)(nil)
