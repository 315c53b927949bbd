package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	badgeDefaultTimeout    = 10 * time.Second
	badgeCodeInvalidParams = -32602
)

// badgeRoutes translates the REST read surface into node JSON-RPC calls.
type badgeRoutes struct {
	target  *url.URL
	client  *http.Client
	timeout time.Duration
	nextID  atomic.Int64
}

type badgeRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type badgeRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type badgeRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *badgeRPCError  `json:"error"`
	status  int
}

func newBadgeRoutes(target *url.URL, timeout time.Duration) (*badgeRoutes, error) {
	if target == nil {
		return nil, fmt.Errorf("nil badge target")
	}
	cloned := *target
	if strings.TrimSpace(cloned.Scheme) == "" {
		return nil, fmt.Errorf("badge target scheme required")
	}
	if strings.TrimSpace(cloned.Host) == "" {
		return nil, fmt.Errorf("badge target host required")
	}
	if strings.TrimSpace(cloned.Path) == "" {
		cloned.Path = "/"
	}
	if timeout <= 0 {
		timeout = badgeDefaultTimeout
	}
	return &badgeRoutes{
		target:  &cloned,
		client:  &http.Client{Timeout: timeout + 5*time.Second},
		timeout: timeout,
	}, nil
}

func (br *badgeRoutes) mount(r chi.Router) {
	if br == nil {
		return
	}
	r.Get("/badges/{badgeID}", br.getBadge)
	r.Get("/badges/{badgeID}/owner", br.getOwner)
	r.Get("/badges/{badgeID}/token-uri", br.getTokenURI)
	r.Get("/accounts/{address}", br.getAccountID)
	r.Get("/relationship", br.getByRelationship)
	r.Get("/state-root", br.getStateRoot)
}

func (br *badgeRoutes) getBadge(w http.ResponseWriter, r *http.Request) {
	badgeID := strings.TrimSpace(chi.URLParam(r, "badgeID"))
	if badgeID == "" {
		writeBadRequest(w, errors.New("badgeID is required"))
		return
	}
	br.relay(w, r, "badge_get", map[string]string{"badgeId": badgeID}, "badge not found")
}

func (br *badgeRoutes) getOwner(w http.ResponseWriter, r *http.Request) {
	badgeID := strings.TrimSpace(chi.URLParam(r, "badgeID"))
	if badgeID == "" {
		writeBadRequest(w, errors.New("badgeID is required"))
		return
	}
	br.relay(w, r, "badge_owner", map[string]string{"badgeId": badgeID}, "badge not found")
}

func (br *badgeRoutes) getTokenURI(w http.ResponseWriter, r *http.Request) {
	badgeID := strings.TrimSpace(chi.URLParam(r, "badgeID"))
	if badgeID == "" {
		writeBadRequest(w, errors.New("badgeID is required"))
		return
	}
	br.relay(w, r, "badge_tokenURI", map[string]string{"badgeId": badgeID}, "badge not found")
}

func (br *badgeRoutes) getAccountID(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(chi.URLParam(r, "address"))
	if address == "" {
		writeBadRequest(w, errors.New("address is required"))
		return
	}
	br.relay(w, r, "badge_accountId", map[string]string{"address": address}, "")
}

func (br *badgeRoutes) getByRelationship(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	holder := strings.TrimSpace(query.Get("holder"))
	account := strings.TrimSpace(query.Get("account"))
	asset := strings.TrimSpace(query.Get("asset"))
	if holder == "" || account == "" || asset == "" {
		writeBadRequest(w, errors.New("holder, account and asset are required"))
		return
	}
	br.relay(w, r, "badge_getByRelationship", map[string]string{
		"holder":  holder,
		"account": account,
		"asset":   asset,
	}, "badge not found")
}

func (br *badgeRoutes) getStateRoot(w http.ResponseWriter, r *http.Request) {
	br.relay(w, r, "badge_stateRoot", nil, "")
}

// relay performs one RPC call and maps its outcome onto the REST response.
// notFound, when non-empty, is the message used for upstream 404s.
func (br *badgeRoutes) relay(w http.ResponseWriter, r *http.Request, method string, param interface{}, notFound string) {
	if br == nil || br.target == nil {
		writeInternalError(w, errors.New("badge routes not configured"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), br.timeout)
	defer cancel()

	var params []interface{}
	if param != nil {
		params = []interface{}{param}
	} else {
		params = []interface{}{}
	}
	rpcResp, err := br.callRPC(ctx, method, params, r)
	if err != nil {
		writeInternalError(w, fmt.Errorf("%s failed: %w", method, err))
		return
	}
	if rpcResp.Error != nil {
		switch {
		case notFound != "" && rpcResp.status == http.StatusNotFound:
			writeJSONError(w, http.StatusNotFound, errors.New(notFound))
		case rpcResp.Error.Code == badgeCodeInvalidParams:
			writeJSONError(w, http.StatusBadRequest, errors.New(rpcResp.Error.Message))
		default:
			writeInternalError(w, fmt.Errorf("%s error: %s", method, rpcResp.Error.Message))
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rpcResp.Result)
}

func (br *badgeRoutes) callRPC(ctx context.Context, method string, params []interface{}, r *http.Request) (*badgeRPCResponse, error) {
	payload, err := json.Marshal(badgeRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      br.nextID.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, br.target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
	}

	resp, err := br.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform rpc request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read rpc response: %w", err)
	}
	var rpcResp badgeRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, fmt.Errorf("decode rpc response: %w", err)
	}
	rpcResp.status = resp.StatusCode
	return &rpcResp, nil
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusInternalServerError, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
