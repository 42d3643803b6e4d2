// Package queue implements the client-side durable sync queue: an ordered
// queue of pending sync operations with exponential backoff, permanent
// failure classification, and single-flight processing.
package queue

import (
	"fmt"

	"github.com/mmynk/splitsync/internal/wire"
)

// ActionKind identifies the kind of queued work.
type ActionKind string

const (
	// ActionSyncBill transmits one change-set to the server.
	ActionSyncBill ActionKind = "sync_bill"
)

// ActionStatus is the lifecycle state of a queued action.
type ActionStatus string

const (
	// StatusPending means the action is waiting to be processed.
	StatusPending ActionStatus = "pending"
	// StatusProcessing means the action is in flight. At most one action
	// per queue is ever in this state.
	StatusProcessing ActionStatus = "processing"
	// StatusCompleted means the server answered; the action is discarded
	// on the next persist.
	StatusCompleted ActionStatus = "completed"
	// StatusFailed means the action failed terminally and waits for the
	// user to retry or discard it.
	StatusFailed ActionStatus = "failed"
)

// Action is one queued unit of work.
type Action struct {
	ID         string            `json:"id"`
	Kind       ActionKind        `json:"kind"`
	BillID     string            `json:"billId"`
	Payload    *wire.SyncRequest `json:"payload"`
	Status     ActionStatus      `json:"status"`
	RetryCount int               `json:"retryCount"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  int64             `json:"createdAt"`
}

// RequestError is a server-reported transport failure carrying the HTTP
// status. 4xx-class errors are terminal (the request will never succeed as
// is); 5xx-class errors are retryable. Plain network errors are not wrapped
// in RequestError and count as retryable.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Terminal reports whether retrying can never help.
func (e *RequestError) Terminal() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}
