package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/splitsync/internal/metrics"
	"github.com/mmynk/splitsync/internal/wire"
)

// queueKey is where the serialized queue lives in the durable KV store.
const queueKey = "sync_queue"

// KV is the durable storage collaborator. The queue persists its full state
// (minus completed entries) after every transition so a restart resumes
// where it left off.
type KV interface {
	// Get returns the stored value, or (nil, nil) when the key is absent.
	Get(key string) ([]byte, error)
	// Set stores the value.
	Set(key string, value []byte) error
}

// Transport executes one action against the server. A returned
// *RequestError is classified by status code; any other error is treated as
// a network failure and retried.
type Transport interface {
	Do(ctx context.Context, action *Action) (*wire.SyncResponse, error)
}

// Config bounds the retry behavior.
type Config struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultConfig matches the behavior clients expect out of the box.
func DefaultConfig() Config {
	return Config{
		BaseDelay:  2 * time.Second,
		MaxDelay:   5 * time.Minute,
		MaxRetries: 6,
	}
}

// Queue is a durable, ordered queue of pending sync actions. One queue
// instance owns its persisted state and processes strictly one action at a
// time; multiple bills sharing a queue still sync sequentially.
type Queue struct {
	kv        KV
	transport Transport
	cfg       Config

	// OnResult, if set, is called after the server answers an action
	// (success or in-band conflict). Clients use it to apply identifier
	// mappings to the working copy, refresh the snapshot, or trigger a
	// rebase. Called without the queue lock held.
	OnResult func(action *Action, resp *wire.SyncResponse)

	mu       sync.Mutex
	actions  []*Action
	inFlight bool
	timer    *time.Timer
}

// New loads the persisted queue from kv. Entries persisted mid-flight in the
// processing state are reset to pending: the attempt was interrupted, not
// completed.
func New(kv KV, transport Transport, cfg Config) (*Queue, error) {
	q := &Queue{kv: kv, transport: transport, cfg: cfg}
	raw, err := kv.Get(queueKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync queue: %w", err)
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &q.actions); err != nil {
			return nil, fmt.Errorf("failed to decode sync queue: %w", err)
		}
		for _, a := range q.actions {
			if a.Status == StatusProcessing {
				a.Status = StatusPending
			}
		}
	}
	return q, nil
}

// Enqueue appends the action, persists the queue, and kicks processing.
func (q *Queue) Enqueue(ctx context.Context, a *Action) error {
	q.mu.Lock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}
	a.Status = StatusPending
	q.actions = append(q.actions, a)
	err := q.persistLocked()
	q.mu.Unlock()
	if err != nil {
		return err
	}
	q.kick(ctx)
	return nil
}

// Actions returns a snapshot of the queue for inspection.
func (q *Queue) Actions() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Action, len(q.actions))
	for i, a := range q.actions {
		out[i] = *a
	}
	return out
}

// RetryFailed resets every terminally failed action to pending and resumes
// processing. This is the "retry all" a client surfaces to the user.
func (q *Queue) RetryFailed(ctx context.Context) error {
	q.mu.Lock()
	for _, a := range q.actions {
		if a.Status == StatusFailed {
			a.Status = StatusPending
			a.RetryCount = 0
			a.Error = ""
		}
	}
	err := q.persistLocked()
	q.mu.Unlock()
	if err != nil {
		return err
	}
	q.kick(ctx)
	return nil
}

// Discard removes a queued action without side effects. Actions already in
// flight cannot be discarded mid-attempt; the call fails for those.
// Discarding a parked failure unblocks the actions queued behind it.
func (q *Queue) Discard(ctx context.Context, id string) error {
	q.mu.Lock()
	for i, a := range q.actions {
		if a.ID != id {
			continue
		}
		if a.Status == StatusProcessing {
			q.mu.Unlock()
			return fmt.Errorf("action %s is in flight", id)
		}
		q.actions = append(q.actions[:i], q.actions[i+1:]...)
		err := q.persistLocked()
		q.mu.Unlock()
		if err != nil {
			return err
		}
		q.kick(ctx)
		return nil
	}
	q.mu.Unlock()
	return nil
}

// kick starts processing in the background unless an action is already in
// flight. Processing drains one pending action at a time until none remain
// runnable.
func (q *Queue) kick(ctx context.Context) {
	q.mu.Lock()
	if q.inFlight {
		q.mu.Unlock()
		return
	}
	q.inFlight = true
	q.mu.Unlock()

	go func() {
		defer func() {
			q.mu.Lock()
			q.inFlight = false
			q.mu.Unlock()
		}()
		for {
			delay, halt, more := q.step(ctx)
			if halt || !more {
				return
			}
			if delay > 0 {
				q.scheduleRetry(ctx, delay)
				return
			}
		}
	}()
}

// scheduleRetry arms a timer that re-kicks processing after the backoff
// delay.
func (q *Queue) scheduleRetry(ctx context.Context, delay time.Duration) {
	q.mu.Lock()
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(delay, func() { q.kick(ctx) })
	q.mu.Unlock()
}

// step processes the first pending action. It returns the backoff delay to
// wait before the next attempt, whether automatic processing must halt (an
// action failed terminally), and whether more work remains. A parked failure
// blocks the whole queue: change-sets are ordered, and running later actions
// past a failed one would apply them out of order.
func (q *Queue) step(ctx context.Context) (time.Duration, bool, bool) {
	q.mu.Lock()
	var action *Action
	for _, a := range q.actions {
		if a.Status == StatusFailed {
			q.mu.Unlock()
			return 0, true, false
		}
		if a.Status == StatusPending {
			action = a
			break
		}
	}
	if action == nil {
		q.mu.Unlock()
		return 0, false, false
	}
	action.Status = StatusProcessing
	if err := q.persistLocked(); err != nil {
		slog.Error("Failed to persist sync queue", "error", err)
	}
	q.mu.Unlock()

	resp, err := q.transport.Do(ctx, action)
	if err != nil {
		delay, halt := q.handleFailure(action, err)
		return delay, halt, true
	}
	q.handleSuccess(action, resp)
	return 0, false, true
}

// handleSuccess marks the action completed, drops it from the persisted
// queue, and rewrites the local identifiers embedded in every still-pending
// payload with the mappings this response issued.
func (q *Queue) handleSuccess(action *Action, resp *wire.SyncResponse) {
	q.mu.Lock()
	action.Status = StatusCompleted
	action.Error = ""
	if resp.IDMappings != nil {
		for _, a := range q.actions {
			if a.Status == StatusPending && a.Payload != nil {
				a.Payload.RewriteIDs(resp.IDMappings)
			}
		}
	}
	q.dropCompletedLocked()
	if err := q.persistLocked(); err != nil {
		slog.Error("Failed to persist sync queue", "error", err)
	}
	q.mu.Unlock()

	if q.OnResult != nil {
		q.OnResult(action, resp)
	}
}

// handleFailure classifies the error. A retryable failure reschedules the
// action and returns the backoff delay; a terminal failure (4xx, or retries
// exhausted) parks the action as failed and halts automatic processing
// until the user retries or discards.
func (q *Queue) handleFailure(action *Action, err error) (time.Duration, bool) {
	q.mu.Lock()
	defer func() {
		if perr := q.persistLocked(); perr != nil {
			slog.Error("Failed to persist sync queue", "error", perr)
		}
		q.mu.Unlock()
	}()

	action.Error = err.Error()

	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Terminal() {
		action.Status = StatusFailed
		metrics.QueueFailures.Inc()
		slog.Error("Sync action failed terminally",
			"action_id", action.ID,
			"bill_id", action.BillID,
			"error", err,
		)
		return 0, true
	}

	if action.RetryCount >= q.cfg.MaxRetries {
		action.Status = StatusFailed
		metrics.QueueFailures.Inc()
		slog.Error("Sync action exhausted retries",
			"action_id", action.ID,
			"bill_id", action.BillID,
			"retries", action.RetryCount,
			"error", err,
		)
		return 0, true
	}

	action.RetryCount++
	action.Status = StatusPending
	metrics.QueueRetries.Inc()
	delay := q.backoff(action.RetryCount)
	slog.Warn("Sync action will retry",
		"action_id", action.ID,
		"bill_id", action.BillID,
		"retry", action.RetryCount,
		"delay", delay,
		"error", err,
	)
	return delay, false
}

// backoff returns min(baseDelay * 2^retryCount, maxDelay).
func (q *Queue) backoff(retryCount int) time.Duration {
	delay := q.cfg.BaseDelay
	for i := 0; i < retryCount && delay < q.cfg.MaxDelay; i++ {
		delay *= 2
	}
	if delay > q.cfg.MaxDelay {
		delay = q.cfg.MaxDelay
	}
	return delay
}

func (q *Queue) dropCompletedLocked() {
	actions := q.actions[:0]
	for _, a := range q.actions {
		if a.Status != StatusCompleted {
			actions = append(actions, a)
		}
	}
	q.actions = actions
}

// persistLocked writes the queue minus completed entries to the KV store.
// Caller holds q.mu.
func (q *Queue) persistLocked() error {
	persisted := make([]*Action, 0, len(q.actions))
	for _, a := range q.actions {
		if a.Status != StatusCompleted {
			persisted = append(persisted, a)
		}
	}
	raw, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("failed to encode sync queue: %w", err)
	}
	if err := q.kv.Set(queueKey, raw); err != nil {
		return fmt.Errorf("failed to persist sync queue: %w", err)
	}
	return nil
}
