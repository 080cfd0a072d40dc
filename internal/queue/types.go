// Package queue implements the Job Queue Facade: a Redis-backed durable,
// per-priority work queue with exponential-backoff retry and an explicit
// ack/nack consumer surface, replacing the callback-and-event-emitter
// integration style this lineage's source otherwise uses for queue work.
package queue

import "time"

// Priority orders which sorted set a message is popped from first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityOrder = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) key(prefix string) string {
	names := map[Priority]string{
		PriorityLow:      "low",
		PriorityMedium:   "medium",
		PriorityHigh:     "high",
		PriorityCritical: "critical",
	}
	return prefix + ":" + names[p]
}

// MessageType distinguishes the two job families the facade carries.
type MessageType string

const (
	MessageExecuteAlert     MessageType = "execute_alert"
	MessageReconcileAccount MessageType = "reconcile_account"
)

// Message is the durable unit of work pushed onto the queue. JobID and
// AccountID are enough for a consumer to re-fetch authoritative state from
// the store; the queue never becomes the source of truth for Job contents.
type Message struct {
	ID          string      `msgpack:"id"`
	Type        MessageType `msgpack:"type"`
	JobID       string      `msgpack:"job_id"`
	AccountID   string      `msgpack:"account_id"`
	DedupKey    string      `msgpack:"dedup_key"`
	Priority    Priority    `msgpack:"priority"`
	Attempt     int         `msgpack:"attempt"`
	EnqueuedAt  time.Time   `msgpack:"enqueued_at"`
	AvailableAt time.Time   `msgpack:"available_at"`
}

// Delivery wraps a popped Message with the ack/nack handle the consumer uses
// to report outcome back to the facade.
type Delivery struct {
	Message Message
	ack     func() error
	nack    func(retryable bool) error
}

// Ack acknowledges successful processing, removing the message from the
// in-flight set permanently.
func (d *Delivery) Ack() error { return d.ack() }

// Nack reports failure. If retryable, the facade reschedules per the
// queue's backoff policy; otherwise the message is dropped (the caller is
// expected to have already persisted a terminal Job status).
func (d *Delivery) Nack(retryable bool) error { return d.nack(retryable) }
