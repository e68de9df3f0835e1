// Package changefeed turns committed document writes into at-least-once
// events. A write records its (before, after) snapshots as a job in the same
// transaction; the jobs worker pool later delivers the event to the consumer
// registered for the collection.
package changefeed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garnizeh/hostel/internal/jobs"
	"github.com/garnizeh/hostel/pkg/models"
)

const (
	CollectionLeaves     = "leaves"
	CollectionComplaints = "complaints"
)

// Event describes one committed update of a document.
type Event struct {
	Collection  string          `json:"collection"`
	DocumentID  string          `json:"documentId"`
	Before      models.Snapshot `json:"before"`
	After       models.Snapshot `json:"after"`
	CommittedAt int64           `json:"committedAt"`
}

// JobType is the jobs table type under which events of a collection are
// queued.
func JobType(collection string) string {
	return "changefeed." + collection
}

// Snapshot converts a document into the field map consumers see.
func Snapshot(doc any) (models.Snapshot, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var s models.Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Record queues ev inside tx. The event is delivered only if tx commits.
// maxAttempts bounds redelivery; zero uses the jobs default.
func Record(ctx context.Context, tx *sql.Tx, ev Event, maxAttempts int) error {
	if ev.CommittedAt == 0 {
		ev.CommittedAt = time.Now().UTC().UnixMilli()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if _, err := jobs.EnqueueTx(ctx, tx, &jobs.Job{Type: JobType(ev.Collection), Payload: b, Priority: 10, MaxAttempts: maxAttempts}); err != nil {
		return fmt.Errorf("record change event: %w", err)
	}
	return nil
}

// Consumer receives delivered events. Consumers must tolerate redelivery.
type Consumer interface {
	Handle(ctx context.Context, ev Event)
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, ev Event)

func (f ConsumerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Handler adapts a consumer to a jobs handler. Undecodable payloads are
// returned as errors so they end up in the dead letter table.
func Handler(c Consumer) jobs.Handler {
	return func(ctx context.Context, j *jobs.Job) error {
		var ev Event
		if err := json.Unmarshal(j.Payload, &ev); err != nil {
			return fmt.Errorf("decode change event %d: %w", j.ID, err)
		}
		c.Handle(ctx, ev)
		return nil
	}
}

// Handlers builds the jobs handler map for a set of collection consumers.
func Handlers(consumers map[string]Consumer) map[string]jobs.Handler {
	out := make(map[string]jobs.Handler, len(consumers))
	for collection, c := range consumers {
		out[JobType(collection)] = Handler(c)
	}
	return out
}
