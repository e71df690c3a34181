package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shelfdapp/shelfd/internal/transport"
)

type finished struct {
	location string
	err      error
}

type captureHandler struct {
	mu       sync.Mutex
	progress []int64
	expected int64
	resumed  []int64
	done     chan finished
}

func newCaptureHandler() *captureHandler {
	return &captureHandler{done: make(chan finished, 1)}
}

func (h *captureHandler) TransferProgress(_, written, expected int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = append(h.progress, written)
	h.expected = expected
}

func (h *captureHandler) TransferResumed(_, offset, _ int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resumed = append(h.resumed, offset)
}

func (h *captureHandler) TransferFinished(_ int64, location string, err error) {
	h.done <- finished{location: location, err: err}
}

func (h *captureHandler) waitFinished(t *testing.T) finished {
	t.Helper()
	select {
	case f := <-h.done:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not finish")
		return finished{}
	}
}

var _ transport.Handler = (*captureHandler)(nil)

func TestClientDownloadsAndReportsProgress(t *testing.T) {
	payload := strings.Repeat("x", 200_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	h := newCaptureHandler()
	c := New(srv.Client(), t.TempDir(), nil)
	c.SetHandler(h)

	id, err := c.Create(srv.URL+"/asset1.zip", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.Launch(id); err != nil {
		t.Fatalf("launch: %v", err)
	}

	f := h.waitFinished(t)
	if f.err != nil {
		t.Fatalf("finished with error: %v", f.err)
	}
	got, err := os.ReadFile(f.location)
	if err != nil || string(got) != payload {
		t.Fatalf("payload mismatch: %v len=%d", err, len(got))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.progress) == 0 {
		t.Fatal("expected progress callbacks")
	}
	if last := h.progress[len(h.progress)-1]; last != int64(len(payload)) {
		t.Fatalf("final progress %d, want %d", last, len(payload))
	}
	if h.expected != int64(len(payload)) {
		t.Fatalf("expected size %d, want %d", h.expected, len(payload))
	}
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h := newCaptureHandler()
	c := New(srv.Client(), t.TempDir(), nil)
	c.SetHandler(h)

	id, _ := c.Create(srv.URL+"/missing.zip", nil)
	if err := c.Launch(id); err != nil {
		t.Fatalf("launch: %v", err)
	}

	f := h.waitFinished(t)
	if f.err == nil {
		t.Fatal("expected a terminal error for a 404")
	}
}

func TestClientCancelWithTokenAndResume(t *testing.T) {
	payload := strings.Repeat("y", 100_000)
	var ranges []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ranges = append(ranges, r.Header.Get("Range"))
		mu.Unlock()

		body := payload
		status := http.StatusOK
		if rng := r.Header.Get("Range"); rng != "" {
			offset, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
			if err != nil {
				t.Errorf("bad range header %q: %v", rng, err)
			}
			body = payload[offset:]
			status = http.StatusPartialContent
			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", offset, len(payload)-1, len(payload)))
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	source := srv.URL + "/asset2.zip"
	staging := t.TempDir()

	h := newCaptureHandler()
	c := New(srv.Client(), staging, nil)
	c.SetHandler(h)

	// Stage a partial payload the way an interrupted transfer would have.
	id, err := c.Create(source, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := os.WriteFile(stagingPath(t, c, source), []byte(payload[:40_000]), 0o644); err != nil {
		t.Fatal(err)
	}

	token, ok := c.Cancel(id, true)
	if !ok || string(token) != "40000" {
		t.Fatalf("token = %q ok=%v, want staged offset", token, ok)
	}

	// A fresh Create with the token picks the staged bytes up again.
	id2, err := c.Create(source, token)
	if err != nil {
		t.Fatalf("create with token: %v", err)
	}
	if err := c.Launch(id2); err != nil {
		t.Fatalf("launch: %v", err)
	}

	f := h.waitFinished(t)
	if f.err != nil {
		t.Fatalf("finished with error: %v", f.err)
	}
	got, err := os.ReadFile(f.location)
	if err != nil || string(got) != payload {
		t.Fatalf("resumed payload mismatch: %v len=%d", err, len(got))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ranges) != 1 || ranges[0] != "bytes=40000-" {
		t.Fatalf("expected one ranged request, got %v", ranges)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.resumed) != 1 || h.resumed[0] != 40_000 {
		t.Fatalf("expected resume callback at offset 40000, got %v", h.resumed)
	}
}

func TestClientCancelWithoutTokenDiscardsStagedBytes(t *testing.T) {
	c := New(nil, t.TempDir(), nil)
	source := "https://cdn.example.com/asset3.zip"

	id, err := c.Create(source, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	path := stagingPath(t, c, source)
	if err := os.WriteFile(path, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	if token, ok := c.Cancel(id, false); ok || token != nil {
		t.Fatalf("unexpected token %q", token)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("staged bytes must be removed on plain cancel")
	}
}

func TestClientFreshCreateDiscardsStaleStaging(t *testing.T) {
	c := New(nil, t.TempDir(), nil)
	source := "https://cdn.example.com/asset4.zip"

	if _, err := c.Create(source, nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	path := stagingPath(t, c, source)
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Create(source, nil); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("fresh create must clear the staging file")
	}
}

func TestClientRestartsWhenServerIgnoresRange(t *testing.T) {
	payload := strings.Repeat("z", 50_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Always a full 200, even for ranged requests.
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()

	source := srv.URL + "/asset5.zip"
	h := newCaptureHandler()
	c := New(srv.Client(), t.TempDir(), nil)
	c.SetHandler(h)

	id, err := c.Create(source, []byte("10000"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := os.WriteFile(stagingPath(t, c, source), []byte(payload[:10_000]), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.Launch(id); err != nil {
		t.Fatalf("launch: %v", err)
	}

	f := h.waitFinished(t)
	if f.err != nil {
		t.Fatalf("finished with error: %v", f.err)
	}
	got, err := os.ReadFile(f.location)
	if err != nil || string(got) != payload {
		t.Fatalf("restarted payload mismatch: %v len=%d", err, len(got))
	}
}

func TestClientCreateValidation(t *testing.T) {
	c := New(nil, t.TempDir(), nil)
	if _, err := c.Create("", nil); err == nil {
		t.Fatal("empty source must be rejected")
	}
	if err := c.Launch(99); err == nil {
		t.Fatal("launching an unknown transfer must fail")
	}
	if err := c.Suspend(99); err == nil {
		t.Fatal("suspending an unknown transfer must fail")
	}
}

// stagingPath mirrors the client's staging layout for test seeding.
func stagingPath(t *testing.T, c *Client, source string) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, x := range c.xfers {
		if x.source == source {
			return x.path
		}
	}
	t.Fatalf("no transfer for %s", source)
	return ""
}
