package v1

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/shelfdapp/shelfd/internal/data"
)

// Engine is the download orchestrator surface the API exposes.
type Engine interface {
	Start(ctx context.Context, req data.BatchRequest)
	Stop(ctx context.Context, req data.BatchRequest)
	Resume(ctx context.Context, req data.BatchRequest)
	Remove(ctx context.Context, req data.BatchRequest)
	CancelAll()
	Snapshot() data.Units
}

// Setup triggers the book setup pipeline.
type Setup interface {
	SetupBook(ctx context.Context, bookID string) bool
}

// TransferHandler serves the transfer and setup endpoints.
type TransferHandler struct {
	l      *slog.Logger
	engine Engine
	setup  Setup
}

func NewTransferHandler(l *slog.Logger, engine Engine, setup Setup) *TransferHandler {
	return &TransferHandler{l: l, engine: engine, setup: setup}
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets the event stream upgrade the connection through the wrapper.
func (w *rwLogger) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}

func (w *rwLogger) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context key for validated batch bodies
type ctxKeyBatch struct{}

// GetTransfers lists the full download history.
func (h *TransferHandler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	if err := writeJSON(w, http.StatusOK, h.engine.Snapshot()); err != nil {
		markErr(w, err)
	}
}

func (h *TransferHandler) batchFromContext(w http.ResponseWriter, r *http.Request) (data.BatchRequest, bool) {
	v := r.Context().Value(ctxKeyBatch{})
	req, ok := v.(data.BatchRequest)
	if !ok {
		markErr(w, ErrBatchCtx)
		http.Error(w, ErrBatchCtx.Error(), http.StatusInternalServerError)
		return data.BatchRequest{}, false
	}
	return req, true
}

// StartBatch admits and starts a batch of downloads. The call is accepted
// synchronously; outcomes arrive on the event stream.
func (h *TransferHandler) StartBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.batchFromContext(w, r)
	if !ok {
		return
	}
	h.engine.Start(r.Context(), req)
	w.WriteHeader(http.StatusAccepted)
}

func (h *TransferHandler) StopBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.batchFromContext(w, r)
	if !ok {
		return
	}
	h.engine.Stop(r.Context(), req)
	w.WriteHeader(http.StatusAccepted)
}

func (h *TransferHandler) ResumeBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.batchFromContext(w, r)
	if !ok {
		return
	}
	h.engine.Resume(r.Context(), req)
	w.WriteHeader(http.StatusAccepted)
}

func (h *TransferHandler) RemoveBatch(w http.ResponseWriter, r *http.Request) {
	req, ok := h.batchFromContext(w, r)
	if !ok {
		return
	}
	h.engine.Remove(r.Context(), req)
	w.WriteHeader(http.StatusAccepted)
}

// CancelAll tears down every live transfer.
func (h *TransferHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	h.engine.CancelAll()
	w.WriteHeader(http.StatusAccepted)
}

// SetupBook runs the setup pipeline for one book and reports the manifest
// chains' aggregate result.
func (h *TransferHandler) SetupBook(w http.ResponseWriter, r *http.Request) {
	bookID := mux.Vars(r)["id"]
	if bookID == "" {
		markErr(w, ErrBookID)
		http.Error(w, ErrBookID.Error(), http.StatusBadRequest)
		return
	}
	ok := h.setup.SetupBook(r.Context(), bookID)
	if err := writeJSON(w, http.StatusOK, map[string]bool{"ok": ok}); err != nil {
		markErr(w, err)
	}
}

// Log is the access-log middleware.
func (h *TransferHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		timeElapsed := time.Since(startTime)
		if rw.err != nil {
			h.l.Error(rw.err.Error(),
				"method", r.Method,
				"url", r.URL.Path,
				"status", rw.status,
				"remote", r.RemoteAddr,
				"ua", r.UserAgent(),
				"dur_ms", timeElapsed.Milliseconds(),
				"bytes", rw.bytes)
			return
		}

		h.l.Info("", "method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", timeElapsed.Milliseconds(),
			"bytes", rw.bytes)
	})
}
