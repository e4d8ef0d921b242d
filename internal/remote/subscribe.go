package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/coder/websocket"

	"github.com/tonimelisma/cardsync/internal/model"
)

// maxEventBytes bounds a single change-feed frame; course content can be
// large rich text.
const maxEventBytes = 8 << 20

// ChangeHandler receives change-feed events in arrival order.
type ChangeHandler func(ctx context.Context, ev model.ChangeEvent)

// Subscribe opens the websocket change feed for one collection of a workspace
// and calls handler for every event until ctx is canceled (returns nil) or
// the connection fails (returns the error). Reconnecting is the caller's job.
func (c *Client) Subscribe(ctx context.Context, collection model.Collection, workspace string, handler ChangeHandler) error {
	q := url.Values{}
	q.Set(ParamWorkspace, workspace)
	feedURL := c.baseURL + collectionPath(collection) + "/changes?" + q.Encode()

	header := http.Header{}
	header.Set("User-Agent", userAgent)

	tok, err := c.bearerToken()
	if err != nil {
		return err
	}

	if tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := websocket.Dial(ctx, feedURL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
		HTTPHeader: header,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}

		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("remote: subscribing to %s: %w", collection, &Error{
				StatusCode: resp.StatusCode,
				RequestID:  resp.Header.Get("X-Request-Id"),
				Message:    "change feed handshake rejected",
				Err:        classifyStatus(resp.StatusCode),
			})
		}

		return fmt.Errorf("remote: subscribing to %s: %w", collection, err)
	}
	defer conn.CloseNow()

	conn.SetReadLimit(maxEventBytes)

	c.logger.Debug("change feed connected",
		slog.String("collection", collection.String()),
		slog.String("workspace", workspace),
	)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				conn.Close(websocket.StatusNormalClosure, "")
				return nil
			}

			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return fmt.Errorf("remote: %s change feed closed by server: %w", collection, err)
			}

			return fmt.Errorf("remote: reading %s change feed: %w", collection, err)
		}

		if typ != websocket.MessageText {
			continue
		}

		var ev model.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("discarding malformed change event",
				slog.String("collection", collection.String()),
				slog.String("error", err.Error()),
			)

			continue
		}

		if ev.Collection == "" {
			ev.Collection = collection
		}

		if ev.Collection != collection {
			c.logger.Warn("discarding change event for another collection",
				slog.String("collection", collection.String()),
				slog.String("event_collection", ev.Collection.String()),
			)

			continue
		}

		handler(ctx, ev)
	}
}

// IsAuthError reports whether err means the session is missing or rejected.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotLoggedIn) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
