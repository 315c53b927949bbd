package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

const (
	feedPath         = "/ws/badges"
	dialTimeout      = 10 * time.Second
	minReconnectWait = time.Second
	maxReconnectWait = 30 * time.Second
)

// SubscriberConfig wires a Subscriber to the node feed.
type SubscriberConfig struct {
	NodeURL string
	Indexer *Indexer
	Cursors *CursorStore
	Logger  *log.Logger
}

// Subscriber consumes the node's websocket status feed and hands every update
// to the indexer, persisting the cursor after each applied entry.
type Subscriber struct {
	feedURL string
	indexer *Indexer
	cursors *CursorStore
	logger  *log.Logger
}

// NewSubscriber validates the node URL and builds a subscriber.
func NewSubscriber(cfg SubscriberConfig) (*Subscriber, error) {
	if cfg.Indexer == nil {
		return nil, errors.New("indexer: subscriber requires an indexer")
	}
	if cfg.Cursors == nil {
		return nil, errors.New("indexer: subscriber requires a cursor store")
	}
	feedURL, err := feedEndpoint(cfg.NodeURL)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Subscriber{
		feedURL: feedURL,
		indexer: cfg.Indexer,
		cursors: cfg.Cursors,
		logger:  logger,
	}, nil
}

// Run consumes the feed until the context is cancelled, reconnecting with
// exponential backoff after stream failures.
func (s *Subscriber) Run(ctx context.Context) error {
	wait := minReconnectWait
	for {
		applied, err := s.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.logger.Printf("badge-indexer: feed stream ended: %v", err)
		}
		if applied > 0 {
			wait = minReconnectWait
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > maxReconnectWait {
			wait = maxReconnectWait
		}
	}
}

// stream dials the feed at the persisted cursor and applies updates until the
// connection breaks. It reports how many updates it applied.
func (s *Subscriber) stream(ctx context.Context) (int, error) {
	cursor, err := s.cursors.Load()
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	target := s.feedURL
	if cursor != "" {
		target += "?cursor=" + url.QueryEscape(cursor)
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "subscriber stopped")

	applied := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return applied, err
		}
		var update FeedUpdate
		if err := json.Unmarshal(data, &update); err != nil {
			s.logger.Printf("badge-indexer: decode feed payload: %v", err)
			continue
		}
		if err := s.indexer.Apply(ctx, update); err != nil {
			// The cursor was not advanced, so the update is replayed
			// after reconnecting.
			return applied, err
		}
		applied++
		if err := s.cursors.Save(update.Cursor); err != nil {
			s.logger.Printf("badge-indexer: save cursor: %v", err)
		}
	}
}

// feedEndpoint converts the node's HTTP base URL into the websocket feed URL.
func feedEndpoint(base string) (string, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return "", errors.New("indexer: node url required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse node url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https", "wss":
		parsed.Scheme = "wss"
	case "http", "ws":
		parsed.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported node url scheme %q", parsed.Scheme)
	}
	parsed.Path = feedPath
	parsed.RawQuery = ""
	return parsed.String(), nil
}
