package router

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/shelfdapp/shelfd/api/v1"
)

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, engine v1.Engine, setup v1.Setup, events v1.EventSource) *mux.Router {

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	transferHandler := v1.NewTransferHandler(logger, engine, setup)
	eventHandler := v1.NewEventStreamHandler(logger, events)

	r.Use(v1.RequestID)
	r.Use(transferHandler.Log)

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/transfers", transferHandler.GetTransfers)
	get.HandleFunc("/events", eventHandler.Stream)

	// POSTs carrying a batch body
	batch := api.Methods("POST").Subrouter()
	batch.HandleFunc("/transfers/start", transferHandler.StartBatch)
	batch.HandleFunc("/transfers/stop", transferHandler.StopBatch)
	batch.HandleFunc("/transfers/resume", transferHandler.ResumeBatch)
	batch.HandleFunc("/transfers/remove", transferHandler.RemoveBatch)
	batch.Use(v1.MiddlewareBatchValidation)

	// POSTs without a body
	post := api.Methods("POST").Subrouter()
	post.HandleFunc("/transfers/cancel", transferHandler.CancelAll)
	post.HandleFunc("/books/{id}/setup", transferHandler.SetupBook)

	return r
}
