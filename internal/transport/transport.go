// Package transport abstracts the long-lived network session the
// orchestrator owns. A transfer is created (allocating a correlation id),
// launched by the worker pool, and may be suspended, resumed or cancelled.
// Completion and progress arrive asynchronously through a Handler.
package transport

// Handler receives low-level transfer callbacks. Calls arrive on arbitrary
// goroutines; implementations must do their own serialization.
type Handler interface {
	// TransferProgress reports cumulative bytes written. expected is the
	// total transfer size, or UnknownSize when the server did not say.
	TransferProgress(correlationID, written, expected int64)
	// TransferResumed reports that a transfer continued from a byte offset.
	TransferResumed(correlationID, offset, expected int64)
	// TransferFinished reports terminal completion. On success location is
	// the received payload file and err is nil.
	TransferFinished(correlationID int64, location string, err error)
}

// UnknownSize marks a transfer whose total size is not known.
const UnknownSize int64 = -1

// Transport is one transfer session. Create allocates the network task and
// its correlation id without moving bytes; Launch starts the stream.
type Transport interface {
	Create(source string, resume []byte) (int64, error)
	Launch(correlationID int64) error
	// Suspend stops the stream but retains received bytes. No resume token
	// is produced; Resume continues the same task.
	Suspend(correlationID int64) error
	Resume(correlationID int64) error
	// Cancel tears the task down. When wantToken is true and the transfer
	// can continue later, the returned token allows a future Create to pick
	// up where this one stopped.
	Cancel(correlationID int64, wantToken bool) ([]byte, bool)
}
