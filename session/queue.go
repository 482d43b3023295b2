package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the lifecycle state of a queued request.
type ItemStatus string

const (
	// StatusPending means the item is waiting its turn.
	StatusPending ItemStatus = "pending"
	// StatusProcessing means the item is in flight: at most one item is
	// processing at a time.
	StatusProcessing ItemStatus = "processing"
	// StatusWaiting marks an in-flight item that was interrupted before a
	// response was derived; it is retried by the next advance.
	StatusWaiting ItemStatus = "waiting"
	// StatusCompleted means a response turn was committed for the item.
	StatusCompleted ItemStatus = "completed"
	// StatusError means the item could not be delivered.
	StatusError ItemStatus = "error"
)

// QueueItem is one queued request. Only the queue mutates items; the session
// layer reports outcomes back through queue methods.
type QueueItem struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Status    ItemStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	// Output holds the derived response for completed items and the failure
	// message for errored ones.
	Output string `json:"output,omitempty"`
}

// sender is the slice of the session controller the queue drives. Injected in
// tests.
type sender interface {
	EnsureReady(ctx context.Context) error
	Send(ctx context.Context, text string) error
}

// Queue holds ordered requests and advances them one at a time, strictly
// FIFO. Callbacks fire outside the queue lock so they may take other locks
// freely.
type Queue struct {
	mu    sync.Mutex
	items []*QueueItem

	// onItemError records a failed delivery (system chat turn).
	onItemError func(item QueueItem, err error)
	// onChanged fires after any queue mutation.
	onChanged func()
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// SetOnItemError registers the delivery-failure callback. Call before use.
func (q *Queue) SetOnItemError(fn func(item QueueItem, err error)) {
	q.onItemError = fn
}

// SetOnChanged registers the mutation callback. Call before use.
func (q *Queue) SetOnChanged(fn func()) {
	q.onChanged = fn
}

// Enqueue appends a pending item and returns a copy of it.
func (q *Queue) Enqueue(text string) QueueItem {
	item := &QueueItem{
		ID:        uuid.New().String(),
		Text:      text,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	q.mu.Lock()
	q.items = append(q.items, item)
	copied := *item
	q.mu.Unlock()

	q.changed()
	return copied
}

// Restore preloads finished items persisted by a previous run so the queue
// history survives restarts. Only completed and errored items are accepted;
// anything else was never actionable again. Call before traffic starts.
func (q *Queue) Restore(items []QueueItem) {
	q.mu.Lock()
	for _, item := range items {
		if item.Status != StatusCompleted && item.Status != StatusError {
			continue
		}
		copied := item
		q.items = append(q.items, &copied)
	}
	q.mu.Unlock()

	q.changed()
}

// Items returns a snapshot of the queue.
func (q *Queue) Items() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueItem, len(q.items))
	for i, item := range q.items {
		out[i] = *item
	}
	return out
}

// InFlight returns the processing item, or false.
func (q *Queue) InFlight() (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item := q.processingLocked(); item != nil {
		return *item, true
	}
	return QueueItem{}, false
}

func (q *Queue) processingLocked() *QueueItem {
	for _, item := range q.items {
		if item.Status == StatusProcessing {
			return item
		}
	}
	return nil
}

// begin marks the oldest pending or waiting item processing and returns a
// copy, or false when nothing is eligible or an item is already in flight.
func (q *Queue) begin() (QueueItem, bool) {
	q.mu.Lock()
	if q.processingLocked() != nil {
		q.mu.Unlock()
		return QueueItem{}, false
	}
	for _, item := range q.items {
		if item.Status == StatusPending || item.Status == StatusWaiting {
			item.Status = StatusProcessing
			copied := *item
			q.mu.Unlock()
			q.changed()
			return copied, true
		}
	}
	q.mu.Unlock()
	return QueueItem{}, false
}

// fail marks an item errored with the failure message.
func (q *Queue) fail(id string, err error) {
	q.mu.Lock()
	var failed QueueItem
	found := false
	for _, item := range q.items {
		if item.ID == id {
			item.Status = StatusError
			item.Output = err.Error()
			failed = *item
			found = true
			break
		}
	}
	q.mu.Unlock()

	if found {
		if q.onItemError != nil {
			q.onItemError(failed, err)
		}
		q.changed()
	}
}

// Advance delivers the oldest eligible item through the sender. Items whose
// delivery fails are marked error and reported, and the loop moves on: a
// failed send never stalls the items behind it. Returns true when an item
// went in flight. The queue lock is not held during delivery.
func (q *Queue) Advance(ctx context.Context, s sender) bool {
	for {
		item, ok := q.begin()
		if !ok {
			return false
		}

		err := s.EnsureReady(ctx)
		if err == nil {
			err = s.Send(ctx, item.Text)
		}
		if err == nil {
			return true
		}
		q.fail(item.ID, err)
	}
}

// Complete marks the in-flight item completed with the derived response.
// Returns false when nothing was processing.
func (q *Queue) Complete(output string) (QueueItem, bool) {
	q.mu.Lock()
	item := q.processingLocked()
	if item == nil {
		q.mu.Unlock()
		return QueueItem{}, false
	}
	item.Status = StatusCompleted
	item.Output = output
	copied := *item
	q.mu.Unlock()

	q.changed()
	return copied, true
}

// Suspend demotes the in-flight item to waiting (used on interrupt); the next
// advance retries it.
func (q *Queue) Suspend() bool {
	q.mu.Lock()
	item := q.processingLocked()
	if item == nil {
		q.mu.Unlock()
		return false
	}
	item.Status = StatusWaiting
	q.mu.Unlock()

	q.changed()
	return true
}

// Edit replaces the text of a pending item. Items that started processing can
// no longer be edited.
func (q *Queue) Edit(id, text string) error {
	q.mu.Lock()
	item, err := q.pendingByIDLocked(id)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	item.Text = text
	q.mu.Unlock()

	q.changed()
	return nil
}

// Remove deletes a pending item.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	for i, item := range q.items {
		if item.ID != id {
			continue
		}
		if item.Status != StatusPending {
			q.mu.Unlock()
			return ErrItemNotPending
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		q.mu.Unlock()
		q.changed()
		return nil
	}
	q.mu.Unlock()
	return ErrItemNotFound
}

// Duplicate enqueues a fresh pending copy of a pending item at the tail.
func (q *Queue) Duplicate(id string) (QueueItem, error) {
	q.mu.Lock()
	item, err := q.pendingByIDLocked(id)
	if err != nil {
		q.mu.Unlock()
		return QueueItem{}, err
	}
	text := item.Text
	q.mu.Unlock()

	return q.Enqueue(text), nil
}

// ClearPending drops every item that has not finished: pending, waiting and
// in-flight. Completed and errored items stay for the record. Used by reset;
// the process is being killed, so the in-flight item can never complete.
func (q *Queue) ClearPending() {
	q.mu.Lock()
	kept := q.items[:0]
	for _, item := range q.items {
		if item.Status == StatusCompleted || item.Status == StatusError {
			kept = append(kept, item)
		}
	}
	q.items = kept
	q.mu.Unlock()

	q.changed()
}

func (q *Queue) pendingByIDLocked(id string) (*QueueItem, error) {
	for _, item := range q.items {
		if item.ID == id {
			if item.Status != StatusPending {
				return nil, ErrItemNotPending
			}
			return item, nil
		}
	}
	return nil, ErrItemNotFound
}

func (q *Queue) changed() {
	if q.onChanged != nil {
		q.onChanged()
	}
}
