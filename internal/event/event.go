package event

import "github.com/shelfdapp/shelfd/internal/data"

// Event is a state change or error published by the download engine.
//
// Exactly one of Unit or Batch is set: per-unit lifecycle events carry a
// snapshot of the changed unit, batch-scoped events (offline, insufficient
// space, paused) carry the whole batch response.
type Event struct {
	ID    string              `json:"id"`
	Type  Type                `json:"type"`
	Unit  *data.Unit          `json:"unit,omitempty"`
	Batch *data.BatchResponse `json:"batch,omitempty"`
}

// Type defines the closed set of events the engine may emit.
type Type string

const (
	TypeProgress          Type = "DownloadInProgress"
	TypeComplete          Type = "DownloadComplete"
	TypeFailed            Type = "DownloadFailed"
	TypePaused            Type = "DownloadPaused"
	TypeUpdateStatus      Type = "UpdateStatus"
	TypeNetworkOffline    Type = "NetworkOfflineError"
	TypeInsufficientSpace Type = "InsufficientSpaceError"
	TypeStatusChanged     Type = "DownloadStatusChanged"
)

// Reporter publishes engine events.
type Reporter interface {
	Publish(Event)
}
