package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"nhooyr.io/websocket"

	"streambadge/config"
	"streambadge/crypto"
	"streambadge/native/badge"
)

const (
	defaultDuration = 2 * time.Minute
	defaultRate     = 600 // syncs per minute
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int             `json:"id"`
}

type feedPayload struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

type latencyTracker struct {
	mu        sync.Mutex
	pending   map[string]time.Time
	latencies []time.Duration
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{pending: make(map[string]time.Time)}
}

func (lt *latencyTracker) track(badgeID string, at time.Time) {
	lt.mu.Lock()
	lt.pending[strings.ToLower(badgeID)] = at
	lt.mu.Unlock()
}

func (lt *latencyTracker) finalize(badgeID string, at time.Time) {
	key := strings.ToLower(badgeID)
	lt.mu.Lock()
	start, ok := lt.pending[key]
	if ok {
		lt.latencies = append(lt.latencies, at.Sub(start))
		delete(lt.pending, key)
	}
	lt.mu.Unlock()
}

func (lt *latencyTracker) snapshot() (latencies []time.Duration, pending int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	latencies = append([]time.Duration(nil), lt.latencies...)
	pending = len(lt.pending)
	return latencies, pending
}

func (lt *latencyTracker) waitForEmpty(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		lt.mu.Lock()
		remaining := len(lt.pending)
		lt.mu.Unlock()
		if remaining == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func main() {
	var (
		rpcURL       string
		driverTag    string
		syncRate     int
		durationFlag time.Duration
		rateAmount   string
		windowLen    uint
	)
	flag.StringVar(&rpcURL, "rpc", "http://127.0.0.1:8080", "RPC endpoint for submitting receiver syncs")
	flag.StringVar(&driverTag, "driver", "", "4-character driver tag the target node runs with (defaults to the standard tag)")
	flag.IntVar(&syncRate, "rate", defaultRate, "target rate of receiver syncs per minute")
	flag.DurationVar(&durationFlag, "duration", defaultDuration, "load duration")
	flag.StringVar(&rateAmount, "stream-rate", "25", "per-second stream rate each generated receiver declares")
	flag.UintVar(&windowLen, "window", 3600, "declared window duration in seconds for generated receivers")
	flag.Parse()

	token := strings.TrimSpace(os.Getenv("SB_RPC_TOKEN"))
	if token == "" {
		log.Fatal("missing SB_RPC_TOKEN for RPC authentication")
	}
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		log.Fatalf("parse rpc url: %v", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}

	driver, err := (&config.Config{DriverTag: driverTag}).Driver()
	if err != nil {
		log.Fatalf("resolve driver tag: %v", err)
	}

	if syncRate <= 0 {
		log.Fatalf("rate must be positive, got %d", syncRate)
	}
	if durationFlag <= 0 {
		durationFlag = defaultDuration
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	tracker := newLatencyTracker()

	wsURL := *parsed
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws/badges"
	wsURL.RawQuery = ""

	wsCtx, wsCancel := context.WithTimeout(ctx, 5*time.Second)
	conn, _, err := websocket.Dial(wsCtx, wsURL.String(), nil)
	wsCancel()
	if err != nil {
		log.Fatalf("connect status feed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "load complete")

	feedCtx, feedCancel := context.WithCancel(ctx)
	defer feedCancel()
	go consumeFeed(feedCtx, conn, tracker)

	asset := loaderAddr(0x41, 0)
	receiver := badge.AccountIDFor(driver, loaderAddr(0x52, 0))
	maxEnd := uint32(time.Now().Unix()) + uint32(windowLen) + 3600

	interval := time.Minute / time.Duration(syncRate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	deadline := time.Now().Add(durationFlag)
	var nonce uint64
	var submitted int
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			log.Printf("context cancelled: %v", ctx.Err())
			return
		default:
		}
		holder := loaderAddr(0x48, nonce)
		id := badge.BadgeIDFor(driver, holder, receiver, asset)
		err := submitSync(ctx, httpClient, parsed, token, holder, asset, receiver, rateAmount, uint32(windowLen), maxEnd)
		if err != nil {
			log.Printf("submit sync %d failed: %v", nonce, err)
		} else {
			tracker.track(id.String(), time.Now())
			submitted++
		}
		nonce++
		time.Sleep(interval)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if !tracker.waitForEmpty(waitCtx) {
		log.Printf("pending status updates for %d syncs", trackerPending(tracker))
	}

	feedCancel()

	latencies, pending := tracker.snapshot()
	reportLoadSummary(latencies, pending, submitted)
}

// loaderAddr packs a tag byte and a nonce into a deterministic address, so
// every iteration syncs a distinct holder while receiver and asset stay fixed.
func loaderAddr(tag byte, nonce uint64) [20]byte {
	var addr [20]byte
	addr[0] = tag
	binary.BigEndian.PutUint64(addr[12:], nonce)
	return addr
}

func submitSync(ctx context.Context, client *http.Client, rpcURL *url.URL, token string, holder, asset [20]byte, receiver badge.AccountID, rate string, window, maxEnd uint32) error {
	params := map[string]interface{}{
		"holder":   crypto.MustNewAddress(holder).String(),
		"asset":    crypto.MustNewAddress(asset).String(),
		"previous": []interface{}{},
		"next": []interface{}{
			map[string]interface{}{
				"account":        receiver.String(),
				"streamId":       1,
				"rate":           rate,
				"windowStart":    0,
				"windowDuration": window,
			},
		},
		"maxEnd": maxEnd,
	}
	payload := rpcRequest{
		JSONRPC: "2.0",
		Method:  "badge_sync",
		Params:  []interface{}{params},
		ID:      1,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL.String(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return nil
}

func consumeFeed(ctx context.Context, conn *websocket.Conn, tracker *latencyTracker) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var payload feedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Printf("decode feed payload: %v", err)
			continue
		}
		if payload.Type != badge.EventTypeStatusChanged {
			continue
		}
		if payload.Attributes["kind"] != badge.UpdateAdded.String() {
			continue
		}
		tracker.finalize(payload.Attributes["badgeId"], time.Now())
	}
}

func trackerPending(t *latencyTracker) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func reportLoadSummary(latencies []time.Duration, pending int, submitted int) {
	var max time.Duration
	var total time.Duration
	for _, latency := range latencies {
		if latency > max {
			max = latency
		}
		total += latency
	}
	avg := time.Duration(0)
	if len(latencies) > 0 {
		avg = time.Duration(int64(total) / int64(len(latencies)))
	}
	log.Printf("Feed loader submitted %d receiver syncs", submitted)
	log.Printf("Observed %d badge additions (pending: %d)", len(latencies), pending)
	log.Printf("Latency avg=%s max=%s", avg, max)
}
