package core

import (
	"context"
	"testing"
	"time"

	"streambadge/native/badge"
	"streambadge/storage"
)

func syncOneReceiver(t *testing.T, node *Node, receiverByte byte) {
	t.Helper()
	holder := testAddr(0x01)
	asset := testAddr(0xAA)
	next := []badge.Receiver{{
		Account: node.AccountIDFor(testAddr(receiverByte)),
		Config:  testStreamConfig(t, 1, 5, 0, 0),
	}}
	if _, err := node.SyncReceivers(holder, asset, nil, next, 1000); err != nil {
		t.Fatalf("sync receivers: %v", err)
	}
}

func TestBadgeStatusFeedBacklog(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	node := newTestNode(t, db, 100)
	syncOneReceiver(t, node, 0x02)

	_, cancel, backlog, err := node.BadgeStatusSubscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if len(backlog) != 2 {
		t.Fatalf("expected mint plus status in backlog, got %d entries", len(backlog))
	}
	if backlog[0].Type != badge.EventTypeMinted {
		t.Fatalf("first event = %s, want %s", backlog[0].Type, badge.EventTypeMinted)
	}
	if backlog[1].Type != badge.EventTypeStatusChanged {
		t.Fatalf("second event = %s, want %s", backlog[1].Type, badge.EventTypeStatusChanged)
	}
	if backlog[0].Sequence != 1 || backlog[1].Sequence != 2 {
		t.Fatalf("sequences = %d, %d, want 1, 2", backlog[0].Sequence, backlog[1].Sequence)
	}
	if backlog[0].Cursor != "1" || backlog[1].Cursor != "2" {
		t.Fatalf("cursors = %q, %q", backlog[0].Cursor, backlog[1].Cursor)
	}
	if backlog[0].Timestamp != 100 {
		t.Fatalf("timestamp = %d, want node clock 100", backlog[0].Timestamp)
	}
}

func TestBadgeStatusFeedCursorResume(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	node := newTestNode(t, db, 100)
	syncOneReceiver(t, node, 0x02)
	syncOneReceiver(t, node, 0x03)

	_, cancel, full, err := node.BadgeStatusSubscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	if len(full) != 4 {
		t.Fatalf("expected 4 retained events, got %d", len(full))
	}

	_, cancel, resumed, err := node.BadgeStatusSubscribe(context.Background(), full[1].Cursor)
	if err != nil {
		t.Fatalf("resume subscribe: %v", err)
	}
	defer cancel()
	if len(resumed) != 2 {
		t.Fatalf("expected 2 events after cursor %s, got %d", full[1].Cursor, len(resumed))
	}
	if resumed[0].Sequence != full[1].Sequence+1 {
		t.Fatalf("resume started at sequence %d, want %d", resumed[0].Sequence, full[1].Sequence+1)
	}
}

func TestBadgeStatusFeedLiveDelivery(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	node := newTestNode(t, db, 100)
	updates, cancel, backlog, err := node.BadgeStatusSubscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if len(backlog) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(backlog))
	}

	syncOneReceiver(t, node, 0x02)

	select {
	case <-time.After(time.Second):
		t.Fatalf("expected live mint event")
	case update := <-updates:
		if update.Type != badge.EventTypeMinted {
			t.Fatalf("unexpected event type: %s", update.Type)
		}
		if update.Attributes["owner"] == "" {
			t.Fatalf("mint event missing owner attribute")
		}
	}
	select {
	case <-time.After(time.Second):
		t.Fatalf("expected live status event")
	case update := <-updates:
		if update.Type != badge.EventTypeStatusChanged {
			t.Fatalf("unexpected event type: %s", update.Type)
		}
		if update.Attributes["kind"] != "added" {
			t.Fatalf("status kind = %q, want added", update.Attributes["kind"])
		}
	}
}

func TestBadgeStatusFeedCancelStopsDelivery(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	node := newTestNode(t, db, 100)
	updates, cancel, _, err := node.BadgeStatusSubscribe(context.Background(), "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel() // safe to call twice

	if _, open := <-updates; open {
		t.Fatalf("channel still open after cancel")
	}

	// Publishing after cancel must not panic on the closed channel.
	syncOneReceiver(t, node, 0x02)
}

func TestBadgeStatusFeedContextCancellation(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	node := newTestNode(t, db, 100)
	ctx, stop := context.WithCancel(context.Background())
	updates, cancel, _, err := node.BadgeStatusSubscribe(ctx, "")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	stop()
	select {
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after context cancellation")
	case _, open := <-updates:
		if open {
			t.Fatalf("expected closed channel, received live update")
		}
	}
}

func TestBadgeStatusFeedRejectsInvalidCursor(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()

	node := newTestNode(t, db, 100)
	if _, _, _, err := node.BadgeStatusSubscribe(context.Background(), "not-a-cursor"); err == nil {
		t.Fatalf("expected cursor parse error")
	}
}
