package v1

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/shelfdapp/shelfd/internal/data"
	"github.com/shelfdapp/shelfd/internal/reqid"
)

const headerRequestID = "X-Request-ID"

// MiddlewareBatchValidation decodes and validates a batch request body and
// stores it in the request context.
func MiddlewareBatchValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req data.BatchRequest
		if err := decodeJSONStrict(w, r, &req, 1<<20); err != nil {
			markErr(w, err)
			status := http.StatusBadRequest
			if err == ErrContentType {
				status = http.StatusUnsupportedMediaType
			}
			http.Error(w, err.Error(), status)
			return
		}
		if len(req.Assets) == 0 {
			markErr(w, ErrNoAssets)
			http.Error(w, ErrNoAssets.Error(), http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyBatch{}, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID ensures every request has a correlation ID in context and headers.
// Honors an incoming X-Request-ID, otherwise generates a UUIDv4.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := reqid.With(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
