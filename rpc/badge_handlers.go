package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"streambadge/crypto"
	"streambadge/native/badge"
	"streambadge/observability/metrics"
)

type receiverParam struct {
	Account        string `json:"account"`
	StreamID       uint32 `json:"streamId"`
	Rate           string `json:"rate"`
	WindowStart    uint32 `json:"windowStart"`
	WindowDuration uint32 `json:"windowDuration"`
}

type syncParams struct {
	Holder   string          `json:"holder"`
	Asset    string          `json:"asset"`
	Previous []receiverParam `json:"previous"`
	Next     []receiverParam `json:"next"`
	MaxEnd   uint32          `json:"maxEnd"`
}

type statusUpdateResult struct {
	BadgeID     string `json:"badgeId"`
	AccountID   string `json:"accountId"`
	Account     string `json:"account,omitempty"`
	Rate        string `json:"rate"`
	WindowStart uint32 `json:"windowStart"`
	WindowEnd   uint32 `json:"windowEnd"`
	Kind        string `json:"kind"`
}

type syncResult struct {
	StateRoot       string               `json:"stateRoot"`
	CommitSequence  uint64               `json:"commitSequence"`
	ReceiversDigest string               `json:"receiversDigest"`
	Updates         []statusUpdateResult `json:"updates"`
}

type badgeRecordResult struct {
	BadgeID     string `json:"badgeId"`
	AccountID   string `json:"accountId"`
	Account     string `json:"account,omitempty"`
	Asset       string `json:"asset"`
	Rate        string `json:"rate"`
	ActiveFrom  uint32 `json:"activeFrom"`
	ActiveUntil uint32 `json:"activeUntil"`
	Active      bool   `json:"active"`
}

type displayParams struct {
	Caller      string `json:"caller"`
	Account     string `json:"account"`
	Name        string `json:"name"`
	ImageURI    string `json:"imageUri"`
	ExternalURL string `json:"externalUrl"`
	CustomData  string `json:"customData"`
}

type displayResult struct {
	AccountID   string `json:"accountId"`
	Name        string `json:"name"`
	ImageURI    string `json:"imageUri,omitempty"`
	ExternalURL string `json:"externalUrl,omitempty"`
	CustomData  string `json:"customData,omitempty"`
}

func (s *Server) handleBadgeSync(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.allowSource(s.clientSource(r), time.Now()) {
		metrics.RPC().RecordThrottle(req.Method)
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded for sync calls", nil)
		return
	}
	started := time.Now()

	var params syncParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	holder, err := decodeBech32(params.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid holder address", err.Error())
		return
	}
	asset, err := decodeBech32(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset address", err.Error())
		return
	}
	if params.MaxEnd == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "maxEnd is required", nil)
		return
	}
	previous, err := s.parseReceiverList(params.Previous)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid previous receiver list", err.Error())
		return
	}
	next, err := s.parseReceiverList(params.Next)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid next receiver list", err.Error())
		return
	}

	updates, err := s.node.SyncReceivers(holder, asset, previous, next, params.MaxEnd)
	if err != nil {
		if errors.Is(err, badge.ErrDuplicateAccount) || errors.Is(err, badge.ErrUnsortedReceivers) {
			metrics.Badge().ObserveSync("rejected", time.Since(started))
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "receiver list rejected", err.Error())
			return
		}
		metrics.Badge().ObserveSync("error", time.Since(started))
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "synchronization failed", err.Error())
		return
	}
	metrics.Badge().ObserveSync("ok", time.Since(started))

	digest := badge.ReceiversDigest(next)
	result := syncResult{
		StateRoot:       s.node.StateRoot().Hex(),
		CommitSequence:  s.node.CommitSequence(),
		ReceiversDigest: "0x" + hex.EncodeToString(digest[:]),
		Updates:         make([]statusUpdateResult, 0, len(updates)),
	}
	for i := range updates {
		result.Updates = append(result.Updates, s.renderUpdate(holder, asset, &updates[i]))
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleBadgeSetDisplay(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.allowSource(s.clientSource(r), time.Now()) {
		metrics.RPC().RecordThrottle(req.Method)
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded for display calls", nil)
		return
	}

	var params displayParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	caller, err := decodeBech32(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	account, err := s.parseAccountID(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return
	}

	stored, err := s.node.SetBadgeDisplay(caller, account, badge.DisplayConfig{
		Name:        params.Name,
		ImageURI:    params.ImageURI,
		ExternalURL: params.ExternalURL,
		CustomData:  params.CustomData,
	})
	if err != nil {
		switch {
		case errors.Is(err, badge.ErrUnauthorized):
			writeError(w, http.StatusForbidden, req.ID, codeUnauthorized, "caller cannot control account", err.Error())
		case errors.Is(err, badge.ErrDisplayFieldTooLong):
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "display field too long", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "display update failed", err.Error())
		}
		return
	}

	writeResult(w, req.ID, displayResult{
		AccountID:   "0x" + hex.EncodeToString(account[:]),
		Name:        stored.Name,
		ImageURI:    stored.ImageURI,
		ExternalURL: stored.ExternalURL,
		CustomData:  stored.CustomData,
	})
}

type badgeIDParams struct {
	BadgeID string `json:"badgeId"`
}

func (s *Server) handleBadgeGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params badgeIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseBadgeID(params.BadgeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid badge id", err.Error())
		return
	}
	record, ok, err := s.node.BadgeRecord(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load badge record", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "badge not found", params.BadgeID)
		return
	}
	writeResult(w, req.ID, s.renderRecord(id, record))
}

type relationshipParams struct {
	Holder  string `json:"holder"`
	Account string `json:"account"`
	Asset   string `json:"asset"`
}

func (s *Server) handleBadgeGetByRelationship(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params relationshipParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	holder, err := decodeBech32(params.Holder)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid holder address", err.Error())
		return
	}
	account, err := s.parseAccountID(params.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return
	}
	asset, err := decodeBech32(params.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid asset address", err.Error())
		return
	}

	id, record, ok, err := s.node.BadgeRecordByRelationship(holder, account, asset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load badge record", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "badge not found", "0x"+hex.EncodeToString(id[:]))
		return
	}
	writeResult(w, req.ID, s.renderRecord(id, record))
}

func (s *Server) handleBadgeOwner(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params badgeIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseBadgeID(params.BadgeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid badge id", err.Error())
		return
	}
	owner, ok, err := s.node.BadgeOwner(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load badge owner", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeServerError, "badge not found", params.BadgeID)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"badgeId": "0x" + hex.EncodeToString(id[:]),
		"owner":   crypto.MustNewAddress(owner).String(),
	})
}

func (s *Server) handleBadgeTokenURI(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params badgeIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	id, err := parseBadgeID(params.BadgeID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid badge id", err.Error())
		return
	}
	uri, err := s.node.BadgeTokenURI(id)
	if err != nil {
		if errors.Is(err, badge.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, req.ID, codeServerError, "badge not found", params.BadgeID)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to render token metadata", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{
		"badgeId":  "0x" + hex.EncodeToString(id[:]),
		"tokenUri": uri,
	})
}

type accountIDParams struct {
	Address string `json:"address"`
}

func (s *Server) handleBadgeAccountID(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accountIDParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid address", err.Error())
		return
	}
	account := s.node.AccountIDFor(addr)
	writeResult(w, req.ID, map[string]string{
		"address":   crypto.MustNewAddress(addr).String(),
		"accountId": "0x" + hex.EncodeToString(account[:]),
	})
}

type listDigestParams struct {
	Receivers []receiverParam `json:"receivers"`
}

func (s *Server) handleBadgeListDigest(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params listDigestParams
	if !decodeSingleParam(w, req, &params) {
		return
	}
	receivers, err := s.parseReceiverList(params.Receivers)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid receiver list", err.Error())
		return
	}
	if err := badge.ValidateReceivers(receivers); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "receiver list rejected", err.Error())
		return
	}
	digest := badge.ReceiversDigest(receivers)
	writeResult(w, req.ID, map[string]interface{}{
		"digest": "0x" + hex.EncodeToString(digest[:]),
		"count":  len(receivers),
	})
}

func (s *Server) handleBadgeStateRoot(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "badge_stateRoot takes no parameters", nil)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"stateRoot":      s.node.StateRoot().Hex(),
		"commitSequence": s.node.CommitSequence(),
	})
}

// decodeSingleParam enforces the single-object parameter convention shared by
// every badge method.
func decodeSingleParam(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func decodeBech32(addr string) ([20]byte, error) {
	var out [20]byte
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(addr))
	if err != nil {
		return out, err
	}
	if decoded.Prefix() != crypto.SBPrefix {
		return out, fmt.Errorf("address prefix %q not accepted", decoded.Prefix())
	}
	copy(out[:], decoded.Bytes())
	return out, nil
}

// parseAccountID accepts either a bech32 address, which is namespaced under
// the node's driver, or a raw 0x-prefixed 32-byte account identifier.
func (s *Server) parseAccountID(raw string) (badge.AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return badge.AccountID{}, fmt.Errorf("invalid account id hex: %w", err)
		}
		return badge.AccountIDFromBytes(decoded)
	}
	addr, err := decodeBech32(trimmed)
	if err != nil {
		return badge.AccountID{}, err
	}
	return s.node.AccountIDFor(addr), nil
}

func parseBadgeID(raw string) (badge.BadgeID, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return badge.BadgeID{}, fmt.Errorf("badge id must be 0x-prefixed hex")
	}
	decoded, err := hex.DecodeString(trimmed[2:])
	if err != nil {
		return badge.BadgeID{}, fmt.Errorf("invalid badge id hex: %w", err)
	}
	return badge.BadgeIDFromBytes(decoded)
}

func parseRate(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return uint256.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid rate %q", raw)
	}
	rate, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("rate %q does not fit in 256 bits", raw)
	}
	return rate, nil
}

func (s *Server) parseReceiverList(params []receiverParam) ([]badge.Receiver, error) {
	if len(params) == 0 {
		return nil, nil
	}
	receivers := make([]badge.Receiver, 0, len(params))
	for i, entry := range params {
		account, err := s.parseAccountID(entry.Account)
		if err != nil {
			return nil, fmt.Errorf("receiver %d: %w", i, err)
		}
		rate, err := parseRate(entry.Rate)
		if err != nil {
			return nil, fmt.Errorf("receiver %d: %w", i, err)
		}
		cfg, err := badge.NewStreamConfig(entry.StreamID, rate, entry.WindowStart, entry.WindowDuration)
		if err != nil {
			return nil, fmt.Errorf("receiver %d: %w", i, err)
		}
		receivers = append(receivers, badge.Receiver{Account: account, Config: cfg})
	}
	return receivers, nil
}

func (s *Server) renderUpdate(holder, asset [20]byte, update *badge.StatusUpdate) statusUpdateResult {
	id := s.node.BadgeIDFor(holder, update.Account, asset)
	return statusUpdateResult{
		BadgeID:     "0x" + hex.EncodeToString(id[:]),
		AccountID:   "0x" + hex.EncodeToString(update.Account[:]),
		Account:     accountAddress(update.Account),
		Rate:        update.Rate.Dec(),
		WindowStart: update.Start,
		WindowEnd:   update.End,
		Kind:        update.Kind.String(),
	}
}

func (s *Server) renderRecord(id badge.BadgeID, record *badge.Record) badgeRecordResult {
	return badgeRecordResult{
		BadgeID:     "0x" + hex.EncodeToString(id[:]),
		AccountID:   "0x" + hex.EncodeToString(record.Account[:]),
		Account:     accountAddress(record.Account),
		Asset:       crypto.MustNewAddress(record.Asset).String(),
		Rate:        record.RateValue().Dec(),
		ActiveFrom:  record.ActiveFrom,
		ActiveUntil: record.ActiveUntil,
		Active:      record.ActiveAt(s.node.NowUnix()),
	}
}

// accountAddress renders an account's underlying address when the identifier
// carries one; synthetic identifiers render empty.
func accountAddress(account badge.AccountID) string {
	addr, ok := account.Address()
	if !ok {
		return ""
	}
	return crypto.MustNewAddress(addr).String()
}
