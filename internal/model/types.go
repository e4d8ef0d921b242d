// Package model defines the records shared by the local store, the remote
// store client and the sync engine: cards, subjects, courses and the
// pending-deletion tombstones that track deletes not yet confirmed remotely.
//
// JSON tags describe the remote wire shape. Local-only bookkeeping fields
// (IsSynced, CanonicalID) are tagged "-" so they never leave the device.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tonimelisma/cardsync/internal/recordid"
)

// Collection names one of the three synchronized record collections. The
// string value doubles as the remote collection name.
type Collection string

// Synchronized collections, in push/pull order.
const (
	CollectionCards    Collection = "cards"
	CollectionSubjects Collection = "subjects"
	CollectionCourses  Collection = "courses"
)

// AllCollections returns the synchronized collections in push/pull order.
func AllCollections() []Collection {
	return []Collection{CollectionCards, CollectionSubjects, CollectionCourses}
}

// ParseCollection converts a string into a Collection, rejecting unknown
// names.
func ParseCollection(s string) (Collection, error) {
	switch c := Collection(s); c {
	case CollectionCards, CollectionSubjects, CollectionCourses:
		return c, nil
	default:
		return "", fmt.Errorf("model: unknown collection %q", s)
	}
}

func (c Collection) String() string {
	return string(c)
}

// Scheduling defaults applied to freshly created cards.
const (
	DefaultInterval = 1
	DefaultEasiness = 2.5
)

// Record is implemented by every synchronized record type.
type Record interface {
	RecordID() string
	ModifiedAt() time.Time
	Workspace() string
}

// Card is a single question/answer flashcard plus its scheduling state.
type Card struct {
	ID          string    `json:"id,omitempty"`
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	Subject     string    `json:"subject"`
	NextReview  time.Time `json:"next_review"`
	Interval    int       `json:"interval"`
	Easiness    float64   `json:"easiness"`
	ReviewCount int       `json:"review_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	WorkspaceID string    `json:"workspace_id"`

	IsSynced    bool   `json:"-"`
	CanonicalID string `json:"-"` // remote id learned at push time while ID is still temporary
}

func (c *Card) RecordID() string      { return c.ID }
func (c *Card) ModifiedAt() time.Time { return modifiedAt(c.UpdatedAt, c.CreatedAt) }
func (c *Card) Workspace() string     { return c.WorkspaceID }

// Subject groups cards and courses. Names are unique per workspace,
// compared case-insensitively.
type Subject struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	WorkspaceID string    `json:"workspace_id"`

	IsSynced    bool   `json:"-"`
	CanonicalID string `json:"-"`
}

func (s *Subject) RecordID() string      { return s.ID }
func (s *Subject) ModifiedAt() time.Time { return modifiedAt(s.UpdatedAt, s.CreatedAt) }
func (s *Subject) Workspace() string     { return s.WorkspaceID }

// Course is a free-form document attached to a subject. Content is an opaque
// rich-text blob.
type Course struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Subject     string    `json:"subject"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	WorkspaceID string    `json:"workspace_id"`

	IsSynced    bool   `json:"-"`
	CanonicalID string `json:"-"`
}

func (c *Course) RecordID() string      { return c.ID }
func (c *Course) ModifiedAt() time.Time { return modifiedAt(c.UpdatedAt, c.CreatedAt) }
func (c *Course) Workspace() string     { return c.WorkspaceID }

// PendingDeletion is a tombstone for a record deleted locally whose remote
// delete has not been acknowledged yet.
type PendingDeletion struct {
	ID         string
	Collection Collection
	CreatedAt  time.Time
}

// modifiedAt prefers updated over created; records written by older clients
// may lack an update stamp.
func modifiedAt(updated, created time.Time) time.Time {
	if !updated.IsZero() {
		return updated
	}

	return created
}

// RemoteWins is the last-write-wins rule shared by the sync merge and the
// realtime listener: an incoming record replaces the local one when there is
// no local copy or when it is strictly newer. Equal timestamps keep local.
func RemoteWins(localExists bool, local, incoming time.Time) bool {
	if !localExists {
		return true
	}

	return incoming.After(local)
}

// WirePayload encodes a record for a remote upsert. Temporary ids are
// omitted so the remote store assigns a canonical one, unless an earlier push
// already learned the canonical id, which is then sent instead.
func WirePayload(r Record) (json.RawMessage, error) {
	var v any

	switch rec := r.(type) {
	case *Card:
		cp := *rec
		cp.ID = wireID(cp.ID, cp.CanonicalID)
		v = &cp
	case *Subject:
		cp := *rec
		cp.ID = wireID(cp.ID, cp.CanonicalID)
		v = &cp
	case *Course:
		cp := *rec
		cp.ID = wireID(cp.ID, cp.CanonicalID)
		v = &cp
	default:
		return nil, fmt.Errorf("model: unsupported record type %T", r)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("model: encoding %T: %w", r, err)
	}

	return data, nil
}

func wireID(id, canonical string) string {
	if recordid.IsTemporary(id) {
		return canonical
	}

	return id
}

// DecodeRecord decodes a remote payload for the given collection.
func DecodeRecord(c Collection, data json.RawMessage) (Record, error) {
	var (
		rec Record
		err error
	)

	switch c {
	case CollectionCards:
		v := &Card{}
		err = json.Unmarshal(data, v)
		rec = v
	case CollectionSubjects:
		v := &Subject{}
		err = json.Unmarshal(data, v)
		rec = v
	case CollectionCourses:
		v := &Course{}
		err = json.Unmarshal(data, v)
		rec = v
	default:
		return nil, fmt.Errorf("model: unknown collection %q", c)
	}

	if err != nil {
		return nil, fmt.Errorf("model: decoding %s record: %w", c, err)
	}

	if rec.RecordID() == "" {
		return nil, fmt.Errorf("model: %s record without id", c)
	}

	return rec, nil
}

// CollectionOf returns the collection a record belongs to.
func CollectionOf(r Record) (Collection, error) {
	switch r.(type) {
	case *Card:
		return CollectionCards, nil
	case *Subject:
		return CollectionSubjects, nil
	case *Course:
		return CollectionCourses, nil
	default:
		return "", fmt.Errorf("model: unsupported record type %T", r)
	}
}
