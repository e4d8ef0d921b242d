package model

import (
	"encoding/json"
	"fmt"
)

// ChangeType classifies a remote change-feed event.
type ChangeType string

// Change-feed event types.
const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is one message on a collection's change feed. Insert and
// update events carry the full new record; delete events carry at least the
// id of the removed record.
type ChangeEvent struct {
	Type       ChangeType      `json:"type"`
	Collection Collection      `json:"collection"`
	Workspace  string          `json:"workspace_id"`
	Record     json.RawMessage `json:"record"`
}

// RecordID extracts the id of the record the event refers to without
// decoding the rest of the payload.
func (e *ChangeEvent) RecordID() (string, error) {
	var head struct {
		ID string `json:"id"`
	}

	if err := json.Unmarshal(e.Record, &head); err != nil {
		return "", fmt.Errorf("model: decoding %s event id: %w", e.Type, err)
	}

	if head.ID == "" {
		return "", fmt.Errorf("model: %s event without record id", e.Type)
	}

	return head.ID, nil
}
