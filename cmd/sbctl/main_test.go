package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"streambadge/crypto"
)

func TestSplitScopes(t *testing.T) {
	got := splitScopes("badge.read, badge.rpc")
	want := []string{"badge.read", "badge.rpc"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitScopes = %v, want %v", got, want)
	}
	if scopes := splitScopes(" , "); len(scopes) != 0 {
		t.Fatalf("splitScopes on separators = %v", scopes)
	}
}

func TestIssueTokenCarriesScopeClaim(t *testing.T) {
	token, err := issueToken("terribly-secret", []string{"badge.read", "badge.rpc"}, time.Hour, "sbctl", "gateway", "ops")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte("terribly-secret"), nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		t.Fatal("token did not validate")
	}
	if claims["scope"] != "badge.read badge.rpc" {
		t.Fatalf("scope claim = %v", claims["scope"])
	}
	if claims["iss"] != "sbctl" || claims["aud"] != "gateway" || claims["sub"] != "ops" {
		t.Fatalf("identity claims = %v", claims)
	}
}

func TestIssueTokenRequiresScopes(t *testing.T) {
	if _, err := issueToken("secret", nil, time.Hour, "", "", "ops"); err == nil {
		t.Fatal("expected error without scopes")
	}
}

func TestCallRPCRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string            `json:"jsonrpc"`
			Method  string            `json:"method"`
			Params  []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.JSONRPC != "2.0" || req.Method != "badge_stateRoot" || len(req.Params) != 0 {
			t.Errorf("unexpected request: %+v", req)
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"stateRoot":"0xabc","commitSequence":4}}`))
	}))
	defer ts.Close()

	result, err := callRPC(ts.URL, "badge_stateRoot", nil)
	if err != nil {
		t.Fatalf("call rpc: %v", err)
	}
	if !strings.Contains(string(result), "0xabc") {
		t.Fatalf("result = %s", result)
	}
}

func TestCallRPCSurfacesNodeError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"badge not found"}}`))
	}))
	defer ts.Close()

	_, err := callRPC(ts.URL, "badge_get", map[string]string{"badgeId": "0x00"})
	if err == nil || !strings.Contains(err.Error(), "badge not found") {
		t.Fatalf("err = %v, want node error message", err)
	}
}

func TestRunKeyNewWritesKeystore(t *testing.T) {
	t.Setenv(operatorPassEnv, "testpass")
	path := filepath.Join(t.TempDir(), "operator.keystore")

	if err := runKeyNew([]string{"--keystore", path}); err != nil {
		t.Fatalf("key new: %v", err)
	}
	key, err := crypto.LoadFromKeystore(path, "testpass")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if key.PubKey().Address().String() == "" {
		t.Fatal("empty address")
	}
}

func TestRunKeyNewRefusesOverwrite(t *testing.T) {
	t.Setenv(operatorPassEnv, "testpass")
	path := filepath.Join(t.TempDir(), "operator.keystore")
	if err := os.WriteFile(path, []byte("existing"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	err := runKeyNew([]string{"--keystore", path})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("err = %v, want overwrite refusal", err)
	}
}
