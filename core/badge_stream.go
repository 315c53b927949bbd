package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"streambadge/core/events"
	"streambadge/native/badge"
	"streambadge/observability/metrics"
)

const badgeStreamHistoryLimit = 2048

// BadgeStatusUpdate is one entry of the node's status feed: a published badge
// event stamped with a monotonically increasing sequence number. The cursor
// is the decimal rendering of the sequence; subscribers resume by handing it
// back.
type BadgeStatusUpdate struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

func cloneBadgeStatusUpdate(update BadgeStatusUpdate) BadgeStatusUpdate {
	cloned := update
	if len(update.Attributes) > 0 {
		attrs := make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			attrs[k] = v
		}
		cloned.Attributes = attrs
	}
	return cloned
}

// publishEvents pushes a committed call's events onto the feed in emission
// order. Callers hold n.mu, so feed order matches commit order.
func (n *Node) publishEvents(evts []events.Event) {
	if n == nil || len(evts) == 0 {
		return
	}
	now := n.nowFn()
	for _, evt := range evts {
		switch evt.Type {
		case badge.EventTypeMinted:
			metrics.Badge().RecordMint()
		case badge.EventTypeStatusChanged:
			metrics.Badge().RecordStatusUpdate(evt.Attributes["kind"])
		}
		n.publishBadgeStatus(evt, now)
	}
}

func (n *Node) publishBadgeStatus(evt events.Event, timestamp int64) {
	n.statusStreamMu.Lock()
	if n.statusStreamSubs == nil {
		n.statusStreamSubs = make(map[uint64]chan BadgeStatusUpdate)
	}
	n.statusStreamSeq++
	update := BadgeStatusUpdate{
		Sequence:   n.statusStreamSeq,
		Cursor:     strconv.FormatUint(n.statusStreamSeq, 10),
		Type:       evt.Type,
		Attributes: evt.Attributes,
		Timestamp:  timestamp,
	}
	stored := cloneBadgeStatusUpdate(update)
	n.statusStreamHistory = append(n.statusStreamHistory, stored)
	if len(n.statusStreamHistory) > badgeStreamHistoryLimit {
		excess := len(n.statusStreamHistory) - badgeStreamHistoryLimit
		trimmed := make([]BadgeStatusUpdate, badgeStreamHistoryLimit)
		copy(trimmed, n.statusStreamHistory[excess:])
		n.statusStreamHistory = trimmed
	}
	subscribers := make([]chan BadgeStatusUpdate, 0, len(n.statusStreamSubs))
	for _, ch := range n.statusStreamSubs {
		subscribers = append(subscribers, ch)
	}
	n.statusStreamMu.Unlock()

	broadcast := cloneBadgeStatusUpdate(update)
	for _, ch := range subscribers {
		select {
		case ch <- broadcast:
		default:
			// Slow subscribers miss live updates and recover via their
			// cursor on reconnect.
		}
	}
}

// BadgeStatusSubscribe registers a subscriber for badge status events
// starting after the supplied cursor. The returned backlog replays retained
// history newer than the cursor; the cancel func unregisters the subscriber
// and is safe to call more than once.
func (n *Node) BadgeStatusSubscribe(ctx context.Context, cursor string) (<-chan BadgeStatusUpdate, func(), []BadgeStatusUpdate, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	updates := make(chan BadgeStatusUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}

	n.statusStreamMu.Lock()
	if n.statusStreamSubs == nil {
		n.statusStreamSubs = make(map[uint64]chan BadgeStatusUpdate)
	}
	id := n.statusStreamNextID
	n.statusStreamNextID++
	n.statusStreamSubs[id] = updates
	history := make([]BadgeStatusUpdate, len(n.statusStreamHistory))
	copy(history, n.statusStreamHistory)
	n.statusStreamMu.Unlock()
	metrics.Badge().FeedSubscriberConnected()

	backlog := make([]BadgeStatusUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneBadgeStatusUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.statusStreamMu.Lock()
			sub, ok := n.statusStreamSubs[id]
			if ok {
				delete(n.statusStreamSubs, id)
				close(sub)
			}
			n.statusStreamMu.Unlock()
			metrics.Badge().FeedSubscriberDisconnected()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
