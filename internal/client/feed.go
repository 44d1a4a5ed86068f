package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/lodestarlabs/marksync/internal/bookmarks"
)

const (
	streamEventName = "bookmark-change"
	streamPath      = "/bookmarks/stream"
)

// SubscribeChanges opens the owner's change feed and decodes it into
// tagged change events. The returned channel closes when the stream
// ends, errors, or ctx is canceled; there is no reconnection — a
// consumer that needs to continue resubscribes and bulk fetches.
func (c *Client) SubscribeChanges(ctx context.Context) (<-chan bookmarks.ChangeEvent, error) {
	endpoint := c.baseURL + streamPath + "?access_token=" + url.QueryEscape(c.token)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}

	// The feed is long lived; the package-default client timeout would
	// sever it, so streaming uses a transport-only client.
	streamClient := &http.Client{Transport: c.http.Transport}
	response, err := streamClient.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close() //nolint:errcheck
		return nil, c.decodeError(response)
	}

	events := make(chan bookmarks.ChangeEvent)
	go func() {
		defer close(events)
		defer response.Body.Close() //nolint:errcheck

		reader := bufio.NewReader(response.Body)
		currentEventName := ""
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("change feed disconnected", zap.Error(err))
				}
				return
			}
			line = strings.TrimRight(line, "\r\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				currentEventName = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				if currentEventName != streamEventName {
					continue
				}
				event, err := decodeChangeEvent(strings.TrimPrefix(line, "data: "))
				if err != nil {
					c.logger.Warn("discarding malformed change event", zap.Error(err))
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

func decodeChangeEvent(payload string) (bookmarks.ChangeEvent, error) {
	var event bookmarks.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return bookmarks.ChangeEvent{}, err
	}
	switch event.Kind {
	case bookmarks.ChangeKindInsert, bookmarks.ChangeKindUpdate, bookmarks.ChangeKindDelete:
	default:
		return bookmarks.ChangeEvent{}, fmt.Errorf("unknown change kind %q", event.Kind)
	}
	if event.ID() == "" {
		return bookmarks.ChangeEvent{}, fmt.Errorf("change event of kind %s without identifier", event.Kind)
	}
	return event, nil
}
