package badge_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"streambadge/core"
	"streambadge/rpc"
	"streambadge/services/badge-indexer/indexer"
	"streambadge/services/badge-indexer/models"
	"streambadge/storage"
)

const pipelineAuthToken = "e2e-rpc-token"

func hexAddr(b byte) string {
	addr := addrWith(b)
	return "0x" + hex.EncodeToString(addr[:])
}

func receiverParam(account string, streamID uint32, rate string, start, duration uint32) map[string]interface{} {
	return map[string]interface{}{
		"account":        account,
		"streamId":       streamID,
		"rate":           rate,
		"windowStart":    start,
		"windowDuration": duration,
	}
}

func syncOverRPC(t *testing.T, url string, params map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "badge_sync",
		"params":  []interface{}{params},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+pipelineAuthToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post request: %v", err)
	}
	defer resp.Body.Close()
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpc.RPCError   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error != nil {
		t.Fatalf("sync returned error: %+v", envelope.Error)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync returned status %d", resp.StatusCode)
	}
}

func waitForChanges(t *testing.T, db *gorm.DB, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		var count int64
		if err := db.Model(&models.StatusChange{}).Count(&count).Error; err != nil {
			t.Fatalf("count status changes: %v", err)
		}
		if count >= want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("indexer recorded %d status changes, want %d", count, want)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// TestSyncFeedsIndexerPipeline exercises the full read-model path: receiver
// syncs submitted over JSON-RPC, the websocket status feed they produce, and
// the indexer consuming that feed into relational history.
func TestSyncFeedsIndexerPipeline(t *testing.T) {
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	node, err := core.NewNode(db)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() int64 { return 500 })
	server := rpc.NewServer(node, rpc.ServerConfig{AuthToken: pipelineAuthToken})
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	holder := bech32With(0x01)
	asset := bech32With(0xA1)
	receiverA := receiverParam(bech32With(0x11), 1, "5", 0, 900)
	receiverB := receiverParam(bech32With(0x22), 2, "3", 600, 600)

	// Two mints plus two status changes, then one continuing and one removal.
	syncOverRPC(t, ts.URL, map[string]interface{}{
		"holder":   holder,
		"asset":    asset,
		"previous": []interface{}{},
		"next":     []interface{}{receiverA, receiverB},
		"maxEnd":   2000,
	})
	syncOverRPC(t, ts.URL, map[string]interface{}{
		"holder":   holder,
		"asset":    asset,
		"previous": []interface{}{receiverA, receiverB},
		"next":     []interface{}{receiverA},
		"maxEnd":   2000,
	})

	dir := t.TempDir()
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(dir, "indexer.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	quiet := log.New(io.Discard, "", 0)
	ix, err := indexer.New(indexer.Config{DB: gdb, Logger: quiet})
	if err != nil {
		t.Fatalf("new indexer: %v", err)
	}
	cursors, err := indexer.NewCursorStore(filepath.Join(dir, "cursor.db"))
	if err != nil {
		t.Fatalf("cursor store: %v", err)
	}
	t.Cleanup(func() { cursors.Close() })
	sub, err := indexer.NewSubscriber(indexer.SubscriberConfig{
		NodeURL: ts.URL,
		Indexer: ix,
		Cursors: cursors,
		Logger:  quiet,
	})
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	waitForChanges(t, gdb, 4)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("subscriber exited with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop after cancel")
	}

	var mints []models.Mint
	if err := gdb.Order("sequence asc").Find(&mints).Error; err != nil {
		t.Fatalf("load mints: %v", err)
	}
	if len(mints) != 2 {
		t.Fatalf("recorded %d mints, want 2", len(mints))
	}
	for _, mint := range mints {
		if mint.Owner != hexAddr(0x01) {
			t.Fatalf("mint owner %s, want %s", mint.Owner, hexAddr(0x01))
		}
	}

	var badges []models.Badge
	if err := gdb.Order("last_sequence asc").Find(&badges).Error; err != nil {
		t.Fatalf("load badges: %v", err)
	}
	if len(badges) != 2 {
		t.Fatalf("recorded %d badges, want 2", len(badges))
	}
	continuing, removed := badges[0], badges[1]
	if continuing.Kind != "continuing" {
		t.Fatalf("first badge kind %q, want continuing", continuing.Kind)
	}
	if continuing.WindowStart != 500 || continuing.WindowEnd != 1400 {
		t.Fatalf("continuing window [%d, %d)", continuing.WindowStart, continuing.WindowEnd)
	}
	if continuing.Rate != "5" {
		t.Fatalf("continuing rate %q", continuing.Rate)
	}
	if removed.Kind != "removed" {
		t.Fatalf("second badge kind %q, want removed", removed.Kind)
	}
	if removed.WindowStart != 500 || removed.WindowEnd != 500 {
		t.Fatalf("removed window [%d, %d), want empty at 500", removed.WindowStart, removed.WindowEnd)
	}
	if removed.Holder != hexAddr(0x01) || removed.Asset != hexAddr(0xA1) {
		t.Fatalf("removed badge identity %s/%s", removed.Holder, removed.Asset)
	}

	cursor, err := cursors.Load()
	if err != nil {
		t.Fatalf("load cursor: %v", err)
	}
	if cursor != "6" {
		t.Fatalf("cursor %q after six feed entries", cursor)
	}
}
