package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tonimelisma/cardsync/internal/model"
)

// Wire paths.
const (
	apiPrefix  = "/v1"
	healthPath = apiPrefix + "/health"
	tokenPath  = apiPrefix + "/token" //nolint:gosec // G101: endpoint path, not a credential
)

// Query parameters understood by the record endpoints.
const (
	ParamWorkspace    = "workspace_id"
	ParamUpdatedSince = "updated_since"
)

// maxResponseBytes bounds how much of a response body is decoded.
const maxResponseBytes = 64 << 20

// Filter scopes a Select.
type Filter struct {
	Workspace string
	Since     time.Time // records with updated_at >= Since; zero means all
}

// Select fetches the records of a collection matching the filter. Records
// are returned as raw JSON for the caller to decode.
func (c *Client) Select(ctx context.Context, collection model.Collection, f Filter) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set(ParamWorkspace, f.Workspace)

	if !f.Since.IsZero() {
		q.Set(ParamUpdatedSince, f.Since.UTC().Format(time.RFC3339Nano))
	}

	resp, err := c.Do(ctx, http.MethodGet, collectionPath(collection)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("remote: selecting %s: %w", collection, err)
	}
	defer resp.Body.Close()

	var records []json.RawMessage
	if err := decodeJSON(resp.Body, &records); err != nil {
		return nil, fmt.Errorf("remote: decoding %s selection: %w", collection, err)
	}

	return records, nil
}

// Upsert writes records to a collection. Records without an id are created
// with a server-assigned canonical id. The response holds the stored records
// in input order.
func (c *Client) Upsert(ctx context.Context, collection model.Collection, records []json.RawMessage) ([]json.RawMessage, error) {
	if len(records) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("remote: encoding %s upsert: %w", collection, err)
	}

	resp, err := c.Do(ctx, http.MethodPost, collectionPath(collection), body)
	if err != nil {
		return nil, fmt.Errorf("remote: upserting %s: %w", collection, err)
	}
	defer resp.Body.Close()

	var stored []json.RawMessage
	if err := decodeJSON(resp.Body, &stored); err != nil {
		return nil, fmt.Errorf("remote: decoding %s upsert response: %w", collection, err)
	}

	if len(stored) != len(records) {
		return nil, fmt.Errorf("remote: upserting %s: sent %d records, got %d back",
			collection, len(records), len(stored))
	}

	return stored, nil
}

// Delete removes a record by id. A missing record yields an error wrapping
// ErrNotFound.
func (c *Client) Delete(ctx context.Context, collection model.Collection, id string) error {
	resp, err := c.Do(ctx, http.MethodDelete, collectionPath(collection)+"/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("remote: deleting %s %s: %w", collection, id, err)
	}

	resp.Body.Close()

	return nil
}

// Ping checks that the remote store is reachable. It needs no session.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, healthPath, nil, false)
	if err != nil {
		return fmt.Errorf("remote: ping: %w", err)
	}

	resp.Body.Close()

	return nil
}

func collectionPath(c model.Collection) string {
	return apiPrefix + "/" + url.PathEscape(c.String())
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(io.LimitReader(r, maxResponseBytes)).Decode(v)
}
