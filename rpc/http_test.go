package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"streambadge/core"
	"streambadge/crypto"
	"streambadge/storage"
)

const testAuthToken = "test-rpc-token"

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func testAddr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

func testBech32(b byte) string {
	return crypto.MustNewAddress(testAddr(b)).String()
}

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *core.Node, *httptest.Server) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	node, err := core.NewNode(db)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() int64 { return 500 })
	server := NewServer(node, cfg)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return server, node, ts
}

func postRPC(t *testing.T, url, token, body string) (int, rpcEnvelope) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post request: %v", err)
	}
	defer resp.Body.Close()
	var env rpcEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, env
}

func rpcCall(t *testing.T, url, token, method string, params ...interface{}) (int, rpcEnvelope) {
	t.Helper()
	if params == nil {
		params = []interface{}{}
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return postRPC(t, url, token, string(payload))
}

func decodeResult(t *testing.T, env rpcEnvelope, out interface{}) {
	t.Helper()
	if env.Error != nil {
		t.Fatalf("unexpected rpc error %d: %s", env.Error.Code, env.Error.Message)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func receiverObject(account string, streamID uint32, rate string, start, duration uint32) map[string]interface{} {
	return map[string]interface{}{
		"account":        account,
		"streamId":       streamID,
		"rate":           rate,
		"windowStart":    start,
		"windowDuration": duration,
	}
}

func TestHandleRejectsEmptyBody(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	status, env := postRPC(t, ts.URL, "", "   ")
	if status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", status)
	}
	if env.Error == nil || env.Error.Code != codeInvalidRequest {
		t.Fatalf("expected invalid request error, got %+v", env.Error)
	}
}

func TestHandleRejectsMalformedJSON(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	status, env := postRPC(t, ts.URL, "", "{not json")
	if status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", status)
	}
	if env.Error == nil || env.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", env.Error)
	}
}

func TestHandleRejectsUnknownMethod(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	status, env := rpcCall(t, ts.URL, "", "badge_unknown", map[string]interface{}{})
	if status != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", status)
	}
	if env.Error == nil || env.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", env.Error)
	}
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	params := map[string]interface{}{
		"holder": testBech32(1),
		"asset":  testBech32(2),
		"next":   []interface{}{},
		"maxEnd": 1000,
	}

	status, env := rpcCall(t, ts.URL, "", "badge_sync", params)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", status)
	}
	if env.Error == nil || env.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", env.Error)
	}

	status, env = rpcCall(t, ts.URL, "wrong-token", "badge_sync", params)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected status 401 with bad token, got %d", status)
	}
	if env.Error == nil || env.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", env.Error)
	}

	status, env = rpcCall(t, ts.URL, testAuthToken, "badge_sync", params)
	if status != http.StatusOK {
		t.Fatalf("expected status 200 with valid token, got %d", status)
	}
	if env.Error != nil {
		t.Fatalf("unexpected error with valid token: %+v", env.Error)
	}
}

func TestBadgeSyncLifecycle(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	holder := testBech32(1)
	asset := testBech32(2)
	receivers := []interface{}{
		receiverObject(testBech32(3), 1, "5", 100, 900),
		receiverObject(testBech32(4), 1, "7", 100, 900),
	}

	status, env := rpcCall(t, ts.URL, testAuthToken, "badge_sync", map[string]interface{}{
		"holder":   holder,
		"asset":    asset,
		"previous": []interface{}{},
		"next":     receivers,
		"maxEnd":   2000,
	})
	if status != http.StatusOK {
		t.Fatalf("sync failed with status %d", status)
	}
	var minted syncResult
	decodeResult(t, env, &minted)
	if minted.CommitSequence != 1 {
		t.Fatalf("expected commit sequence 1, got %d", minted.CommitSequence)
	}
	if !strings.HasPrefix(minted.StateRoot, "0x") {
		t.Fatalf("state root not hex encoded: %q", minted.StateRoot)
	}
	if !strings.HasPrefix(minted.ReceiversDigest, "0x") || len(minted.ReceiversDigest) != 66 {
		t.Fatalf("unexpected receivers digest %q", minted.ReceiversDigest)
	}
	if len(minted.Updates) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(minted.Updates))
	}
	for _, update := range minted.Updates {
		if update.Kind != "added" {
			t.Fatalf("expected added update, got %q", update.Kind)
		}
		// The declared start of 100 lies in the past, so the window opens
		// at the synchronization time instead.
		if update.WindowStart != 500 || update.WindowEnd != 1000 {
			t.Fatalf("unexpected window [%d,%d)", update.WindowStart, update.WindowEnd)
		}
	}

	// The minted badge is readable through the query surface.
	status, env = rpcCall(t, ts.URL, "", "badge_get", map[string]interface{}{
		"badgeId": minted.Updates[0].BadgeID,
	})
	if status != http.StatusOK {
		t.Fatalf("badge_get failed with status %d", status)
	}
	var record badgeRecordResult
	decodeResult(t, env, &record)
	if record.BadgeID != minted.Updates[0].BadgeID {
		t.Fatalf("badge id mismatch: %q vs %q", record.BadgeID, minted.Updates[0].BadgeID)
	}
	if record.Rate != "5" {
		t.Fatalf("expected rate 5, got %q", record.Rate)
	}
	if !record.Active {
		t.Fatalf("expected badge active at now=500: %+v", record)
	}

	status, env = rpcCall(t, ts.URL, "", "badge_owner", map[string]interface{}{
		"badgeId": minted.Updates[0].BadgeID,
	})
	if status != http.StatusOK {
		t.Fatalf("badge_owner failed with status %d", status)
	}
	var owner map[string]string
	decodeResult(t, env, &owner)
	if owner["owner"] != holder {
		t.Fatalf("expected owner %q, got %q", holder, owner["owner"])
	}

	// Removing every receiver ends the windows without a second mint.
	status, env = rpcCall(t, ts.URL, testAuthToken, "badge_sync", map[string]interface{}{
		"holder":   holder,
		"asset":    asset,
		"previous": receivers,
		"next":     []interface{}{},
		"maxEnd":   2000,
	})
	if status != http.StatusOK {
		t.Fatalf("removal sync failed with status %d", status)
	}
	var removed syncResult
	decodeResult(t, env, &removed)
	if removed.CommitSequence != 2 {
		t.Fatalf("expected commit sequence 2, got %d", removed.CommitSequence)
	}
	if len(removed.Updates) != 2 {
		t.Fatalf("expected 2 removal updates, got %d", len(removed.Updates))
	}
	for _, update := range removed.Updates {
		if update.Kind != "removed" {
			t.Fatalf("expected removed update, got %q", update.Kind)
		}
		if update.WindowEnd != 500 {
			t.Fatalf("expected window closed at 500, got %d", update.WindowEnd)
		}
	}

	status, env = rpcCall(t, ts.URL, "", "badge_get", map[string]interface{}{
		"badgeId": minted.Updates[0].BadgeID,
	})
	if status != http.StatusOK {
		t.Fatalf("badge_get after removal failed with status %d", status)
	}
	var ended badgeRecordResult
	decodeResult(t, env, &ended)
	if ended.Active {
		t.Fatalf("expected badge inactive after removal: %+v", ended)
	}
	if ended.ActiveUntil != 500 {
		t.Fatalf("expected window end 500, got %d", ended.ActiveUntil)
	}
}

func TestBadgeSyncRejectsInvalidReceivers(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	duplicate := testBech32(3)
	status, env := rpcCall(t, ts.URL, testAuthToken, "badge_sync", map[string]interface{}{
		"holder": testBech32(1),
		"asset":  testBech32(2),
		"next": []interface{}{
			receiverObject(duplicate, 1, "5", 100, 900),
			receiverObject(duplicate, 2, "5", 100, 900),
		},
		"maxEnd": 2000,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", status)
	}
	if env.Error == nil || env.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", env.Error)
	}
}

func TestBadgeSyncRequiresMaxEnd(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	status, env := rpcCall(t, ts.URL, testAuthToken, "badge_sync", map[string]interface{}{
		"holder": testBech32(1),
		"asset":  testBech32(2),
		"next":   []interface{}{},
	})
	if status != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", status)
	}
	if env.Error == nil || env.Error.Code != codeInvalidParams {
		t.Fatalf("expected invalid params, got %+v", env.Error)
	}
}

func TestBadgeListDigestMatchesSync(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	receivers := []interface{}{
		receiverObject(testBech32(3), 1, "5", 100, 900),
		receiverObject(testBech32(4), 1, "7", 100, 900),
	}

	status, env := rpcCall(t, ts.URL, testAuthToken, "badge_sync", map[string]interface{}{
		"holder": testBech32(1),
		"asset":  testBech32(2),
		"next":   receivers,
		"maxEnd": 2000,
	})
	if status != http.StatusOK {
		t.Fatalf("sync failed with status %d", status)
	}
	var synced syncResult
	decodeResult(t, env, &synced)

	status, env = rpcCall(t, ts.URL, "", "badge_listDigest", map[string]interface{}{
		"receivers": receivers,
	})
	if status != http.StatusOK {
		t.Fatalf("listDigest failed with status %d", status)
	}
	var digest struct {
		Digest string `json:"digest"`
		Count  int    `json:"count"`
	}
	decodeResult(t, env, &digest)
	if digest.Digest != synced.ReceiversDigest {
		t.Fatalf("digest mismatch: %q vs %q", digest.Digest, synced.ReceiversDigest)
	}
	if digest.Count != 2 {
		t.Fatalf("expected count 2, got %d", digest.Count)
	}
}

func TestBadgeAccountIDAndRelationshipLookup(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	holder := testBech32(1)
	asset := testBech32(2)
	account := testBech32(3)

	status, env := rpcCall(t, ts.URL, "", "badge_accountId", map[string]interface{}{
		"address": account,
	})
	if status != http.StatusOK {
		t.Fatalf("accountId failed with status %d", status)
	}
	var identity map[string]string
	decodeResult(t, env, &identity)
	if !strings.HasPrefix(identity["accountId"], "0x") || len(identity["accountId"]) != 66 {
		t.Fatalf("unexpected account id %q", identity["accountId"])
	}
	if identity["address"] != account {
		t.Fatalf("address did not round trip: %q", identity["address"])
	}

	status, env = rpcCall(t, ts.URL, testAuthToken, "badge_sync", map[string]interface{}{
		"holder": holder,
		"asset":  asset,
		"next": []interface{}{
			receiverObject(account, 1, "5", 100, 900),
		},
		"maxEnd": 2000,
	})
	if status != http.StatusOK {
		t.Fatalf("sync failed with status %d", status)
	}
	var synced syncResult
	decodeResult(t, env, &synced)

	// Relationship lookup accepts a bech32 account and the raw identifier.
	for _, accountParam := range []string{account, identity["accountId"]} {
		status, env = rpcCall(t, ts.URL, "", "badge_getByRelationship", map[string]interface{}{
			"holder":  holder,
			"account": accountParam,
			"asset":   asset,
		})
		if status != http.StatusOK {
			t.Fatalf("relationship lookup via %q failed with status %d", accountParam, status)
		}
		var record badgeRecordResult
		decodeResult(t, env, &record)
		if record.BadgeID != synced.Updates[0].BadgeID {
			t.Fatalf("badge id mismatch via %q: %q", accountParam, record.BadgeID)
		}
		if record.AccountID != identity["accountId"] {
			t.Fatalf("account id mismatch: %q vs %q", record.AccountID, identity["accountId"])
		}
	}
}

func TestBadgeGetUnknownBadge(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	missing := "0x" + strings.Repeat("ab", 32)
	status, env := rpcCall(t, ts.URL, "", "badge_get", map[string]interface{}{
		"badgeId": missing,
	})
	if status != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", status)
	}
	if env.Error == nil || env.Error.Code != codeServerError {
		t.Fatalf("expected server error code, got %+v", env.Error)
	}
	if !strings.Contains(env.Error.Message, "not found") {
		t.Fatalf("expected not found message, got %q", env.Error.Message)
	}
}

func TestBadgeTokenURIOverRPC(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	status, env := rpcCall(t, ts.URL, testAuthToken, "badge_sync", map[string]interface{}{
		"holder": testBech32(1),
		"asset":  testBech32(2),
		"next": []interface{}{
			receiverObject(testBech32(3), 1, "5", 100, 900),
		},
		"maxEnd": 2000,
	})
	if status != http.StatusOK {
		t.Fatalf("sync failed with status %d", status)
	}
	var synced syncResult
	decodeResult(t, env, &synced)

	status, env = rpcCall(t, ts.URL, "", "badge_tokenURI", map[string]interface{}{
		"badgeId": synced.Updates[0].BadgeID,
	})
	if status != http.StatusOK {
		t.Fatalf("tokenURI failed with status %d", status)
	}
	var metadata map[string]string
	decodeResult(t, env, &metadata)
	if !strings.HasPrefix(metadata["tokenUri"], "data:application/json;base64,") {
		t.Fatalf("unexpected token uri %q", metadata["tokenUri"])
	}
}

func TestBadgeSetDisplayOverRPC(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	account := testBech32(3)
	status, env := rpcCall(t, ts.URL, testAuthToken, "badge_setDisplay", map[string]interface{}{
		"caller":  account,
		"account": account,
		"name":    "Gold Supporter",
	})
	if status != http.StatusOK {
		t.Fatalf("setDisplay failed with status %d", status)
	}
	var display displayResult
	decodeResult(t, env, &display)
	if display.Name != "Gold Supporter" {
		t.Fatalf("expected stored name, got %q", display.Name)
	}

	// A caller that does not control the account is rejected.
	status, env = rpcCall(t, ts.URL, testAuthToken, "badge_setDisplay", map[string]interface{}{
		"caller":  testBech32(9),
		"account": account,
		"name":    "Hijacked",
	})
	if status != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", status)
	}
	if env.Error == nil || env.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", env.Error)
	}
}

func TestBadgeStateRoot(t *testing.T) {
	_, node, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken})

	status, env := rpcCall(t, ts.URL, "", "badge_stateRoot")
	if status != http.StatusOK {
		t.Fatalf("stateRoot failed with status %d", status)
	}
	var root struct {
		StateRoot      string `json:"stateRoot"`
		CommitSequence uint64 `json:"commitSequence"`
	}
	decodeResult(t, env, &root)
	if root.StateRoot != node.StateRoot().Hex() {
		t.Fatalf("state root mismatch: %q vs %q", root.StateRoot, node.StateRoot().Hex())
	}
	if root.CommitSequence != 0 {
		t.Fatalf("expected sequence 0 on fresh node, got %d", root.CommitSequence)
	}
}

func TestMutationRateLimit(t *testing.T) {
	_, _, ts := newTestServer(t, ServerConfig{AuthToken: testAuthToken, MutationsPerMinute: 2})

	params := map[string]interface{}{
		"holder": testBech32(1),
		"asset":  testBech32(2),
		"next":   []interface{}{},
		"maxEnd": 1000,
	}
	for i := 0; i < 2; i++ {
		status, env := rpcCall(t, ts.URL, testAuthToken, "badge_sync", params)
		if status != http.StatusOK || env.Error != nil {
			t.Fatalf("call %d should pass: status=%d err=%+v", i, status, env.Error)
		}
	}
	status, env := rpcCall(t, ts.URL, testAuthToken, "badge_sync", params)
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", status)
	}
	if env.Error == nil || env.Error.Code != codeRateLimited {
		t.Fatalf("expected rate limited error, got %+v", env.Error)
	}
}

func TestAllowSourceWindowRotation(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{AuthToken: testAuthToken, MutationsPerMinute: 2})

	base := time.Unix(1_700_000_000, 0)
	if !server.allowSource("10.0.0.5", base) {
		t.Fatalf("first call should pass")
	}
	if !server.allowSource("10.0.0.5", base.Add(time.Second)) {
		t.Fatalf("second call should pass")
	}
	if server.allowSource("10.0.0.5", base.Add(2*time.Second)) {
		t.Fatalf("third call within window should be throttled")
	}
	if !server.allowSource("10.0.0.5", base.Add(rateLimitWindow)) {
		t.Fatalf("call after window rotation should pass")
	}
	if !server.allowSource("10.0.0.6", base.Add(3*time.Second)) {
		t.Fatalf("distinct source should have its own budget")
	}
}

func TestClientSourceHonorsTrustedProxiesOnly(t *testing.T) {
	server, _, _ := newTestServer(t, ServerConfig{
		AuthToken:      testAuthToken,
		TrustedProxies: []string{"10.0.0.1"},
	})

	newRequest := func(remote, forwarded string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		return req
	}

	if got := server.clientSource(newRequest("192.0.2.9:4123", "203.0.113.7")); got != "192.0.2.9" {
		t.Fatalf("untrusted peer must not spoof its source, got %q", got)
	}
	if got := server.clientSource(newRequest("10.0.0.1:4123", "203.0.113.7, 10.0.0.1")); got != "203.0.113.7" {
		t.Fatalf("trusted proxy should surface the forwarded client, got %q", got)
	}
	if got := server.clientSource(newRequest("10.0.0.1:4123", "")); got != "10.0.0.1" {
		t.Fatalf("trusted proxy without header falls back to peer, got %q", got)
	}

	forwarding, _, _ := newTestServer(t, ServerConfig{
		AuthToken:         testAuthToken,
		TrustProxyHeaders: true,
	})
	if got := forwarding.clientSource(newRequest("192.0.2.9:4123", "203.0.113.7")); got != "203.0.113.7" {
		t.Fatalf("trustProxyHeaders should honor the header everywhere, got %q", got)
	}
}
