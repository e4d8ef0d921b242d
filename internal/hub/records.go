package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/cardsync/internal/model"
)

var (
	errRecordNotFound    = errors.New("hub: record not found")
	errWorkspaceMismatch = errors.New("hub: record belongs to another workspace")
)

type entry struct {
	updatedAt time.Time
	body      json.RawMessage
}

type bucketKey struct {
	workspace  string
	collection model.Collection
}

// records is the in-memory multi-tenant record store. Every write stamps
// updated_at with the server clock, strictly increasing across writes, so
// "updated since" queries observe writes in commit order.
type records struct {
	mu      sync.Mutex
	buckets map[bucketKey]map[string]entry
	last    time.Time
	nowFunc func() time.Time
}

func newRecords() *records {
	return &records{
		buckets: make(map[bucketKey]map[string]entry),
		nowFunc: time.Now,
	}
}

// stamp returns a write time strictly after the previous one.
func (r *records) stamp() time.Time {
	now := r.nowFunc().UTC()
	if !now.After(r.last) {
		now = r.last.Add(time.Microsecond)
	}

	r.last = now

	return now
}

// selectSince returns a workspace's records with updated_at >= since, in
// updated_at order.
func (r *records) selectSince(workspace string, c model.Collection, since time.Time) []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.buckets[bucketKey{workspace, c}]

	matches := make([]entry, 0, len(bucket))
	for _, e := range bucket {
		if !e.updatedAt.Before(since) {
			matches = append(matches, e)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].updatedAt.Before(matches[j].updatedAt)
	})

	out := make([]json.RawMessage, len(matches))
	for i, e := range matches {
		out[i] = e.body
	}

	return out
}

// upsert stores a batch atomically and returns the stored bodies in input
// order together with the change events to broadcast.
func (r *records) upsert(workspace string, c model.Collection, batch []json.RawMessage) ([]json.RawMessage, []model.ChangeEvent, error) {
	decoded := make([]map[string]any, len(batch))

	for i, raw := range batch {
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, nil, fmt.Errorf("hub: record %d: %w", i, err)
		}

		if fields == nil {
			return nil, nil, fmt.Errorf("hub: record %d is not an object", i)
		}

		if ws, ok := fields["workspace_id"].(string); ok && ws != "" && ws != workspace {
			return nil, nil, fmt.Errorf("%w: record %d", errWorkspaceMismatch, i)
		}

		decoded[i] = fields
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := bucketKey{workspace, c}

	bucket := r.buckets[key]
	if bucket == nil {
		bucket = make(map[string]entry)
		r.buckets[key] = bucket
	}

	stored := make([]json.RawMessage, len(decoded))
	events := make([]model.ChangeEvent, len(decoded))

	for i, fields := range decoded {
		id, _ := fields["id"].(string)
		if id == "" {
			id = uuid.NewString()
		}

		typ := model.ChangeInsert
		if _, exists := bucket[id]; exists {
			typ = model.ChangeUpdate
		}

		now := r.stamp()
		fields["id"] = id
		fields["workspace_id"] = workspace
		fields["updated_at"] = now.Format(time.RFC3339Nano)

		if created, _ := fields["created_at"].(string); created == "" || created == zeroTime {
			fields["created_at"] = now.Format(time.RFC3339Nano)
		}

		body, err := json.Marshal(fields)
		if err != nil {
			return nil, nil, fmt.Errorf("hub: encoding record %s: %w", id, err)
		}

		bucket[id] = entry{updatedAt: now, body: body}
		stored[i] = body
		events[i] = model.ChangeEvent{Type: typ, Collection: c, Workspace: workspace, Record: body}
	}

	return stored, events, nil
}

// zeroTime is how encoding/json renders time.Time{}.
const zeroTime = "0001-01-01T00:00:00Z"

// remove deletes a record and returns its delete event.
func (r *records) remove(workspace string, c model.Collection, id string) (model.ChangeEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.buckets[bucketKey{workspace, c}]
	if _, ok := bucket[id]; !ok {
		return model.ChangeEvent{}, errRecordNotFound
	}

	delete(bucket, id)

	body, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return model.ChangeEvent{}, fmt.Errorf("hub: encoding delete event: %w", err)
	}

	return model.ChangeEvent{Type: model.ChangeDelete, Collection: c, Workspace: workspace, Record: body}, nil
}

// count returns the number of records stored for a workspace collection.
func (r *records) count(workspace string, c model.Collection) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.buckets[bucketKey{workspace, c}])
}
