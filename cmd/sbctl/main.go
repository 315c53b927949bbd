package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"streambadge/cmd/internal/secrets"
	"streambadge/crypto"
)

const (
	defaultNodeURL   = "http://127.0.0.1:8080"
	operatorPassEnv  = "SB_OPERATOR_PASS"
	gatewaySecretEnv = "SB_GATEWAY_JWT_SECRET"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "key":
		err = runKey(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "badge":
		err = runBadge(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: sbctl <command> [flags]

Commands:
  key new       generate an operator keypair and keystore
  key show      print the address held in a keystore
  token issue   mint a gateway access token
  status        query the node state root and commit sequence
  badge get     fetch one badge record by id`)
}

func runKey(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("key requires a subcommand: new or show")
	}
	switch args[0] {
	case "new":
		return runKeyNew(args[1:])
	case "show":
		return runKeyShow(args[1:])
	default:
		return fmt.Errorf("unknown key subcommand %q", args[0])
	}
}

func runKeyNew(args []string) error {
	fs := flag.NewFlagSet("key new", flag.ExitOnError)
	keystorePath := fs.String("keystore", "operator.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", operatorPassEnv, "Environment variable consulted for the passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	fs.Parse(args)

	if !*force {
		if _, err := os.Stat(*keystorePath); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *keystorePath)
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	passphrase, err := resolveNewPassphrase(*passEnv)
	if err != nil {
		return err
	}

	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveToKeystore(*keystorePath, key, passphrase); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Printf("Wrote keystore to %s\nAddress: %s\n", *keystorePath, key.PubKey().Address().String())
	return nil
}

// resolveNewPassphrase reads the passphrase for a freshly generated keystore,
// preferring the environment and otherwise prompting twice.
func resolveNewPassphrase(passEnv string) (string, error) {
	if passEnv != "" {
		if value, ok := os.LookupEnv(passEnv); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", passEnv)
			}
			return value, nil
		}
	}
	first, err := secrets.ReadPassword("Enter new keystore passphrase (empty for none): ")
	if err != nil {
		return "", err
	}
	second, err := secrets.ReadPassword("Confirm passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}

func runKeyShow(args []string) error {
	fs := flag.NewFlagSet("key show", flag.ExitOnError)
	keystorePath := fs.String("keystore", "operator.keystore", "Path to the keystore file")
	passEnv := fs.String("pass-env", operatorPassEnv, "Environment variable consulted for the passphrase")
	fs.Parse(args)

	key, err := crypto.LoadFromKeystore(*keystorePath, "")
	if err != nil {
		passphrase, perr := secrets.NewSource(*passEnv).Get()
		if perr != nil {
			return perr
		}
		key, err = crypto.LoadFromKeystore(*keystorePath, passphrase)
		if err != nil {
			return fmt.Errorf("unable to decrypt keystore %s: %w", *keystorePath, err)
		}
	}
	fmt.Printf("Address: %s\n", key.PubKey().Address().String())
	return nil
}

func runToken(args []string) error {
	if len(args) < 1 || args[0] != "issue" {
		return fmt.Errorf("token requires the issue subcommand")
	}
	fs := flag.NewFlagSet("token issue", flag.ExitOnError)
	secretEnv := fs.String("secret-env", gatewaySecretEnv, "Environment variable holding the gateway HMAC secret")
	scopes := fs.String("scopes", "badge.read", "Comma or space separated scopes to embed")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	issuer := fs.String("issuer", "", "Optional iss claim")
	audience := fs.String("audience", "", "Optional aud claim")
	subject := fs.String("subject", "sbctl", "sub claim")
	fs.Parse(args[1:])

	secret := strings.TrimSpace(os.Getenv(*secretEnv))
	if secret == "" {
		return fmt.Errorf("environment variable %s must hold the gateway HMAC secret", *secretEnv)
	}
	token, err := issueToken(secret, splitScopes(*scopes), *ttl, *issuer, *audience, *subject)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// issueToken signs an HS256 bearer token carrying the space-separated scope
// claim the gateway authenticator expects.
func issueToken(secret string, scopes []string, ttl time.Duration, issuer, audience, subject string) (string, error) {
	if len(scopes) == 0 {
		return "", fmt.Errorf("at least one scope is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   subject,
		"scope": strings.Join(scopes, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func splitScopes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	nodeURL := fs.String("node", defaultNodeURL, "Node RPC base URL")
	fs.Parse(args)

	result, err := callRPC(*nodeURL, "badge_stateRoot", nil)
	if err != nil {
		return err
	}
	printJSONResult(result)
	return nil
}

func runBadge(args []string) error {
	if len(args) < 1 || args[0] != "get" {
		return fmt.Errorf("badge requires the get subcommand")
	}
	fs := flag.NewFlagSet("badge get", flag.ExitOnError)
	nodeURL := fs.String("node", defaultNodeURL, "Node RPC base URL")
	id := fs.String("id", "", "0x-prefixed badge identifier")
	fs.Parse(args[1:])

	if strings.TrimSpace(*id) == "" {
		return fmt.Errorf("--id is required")
	}
	result, err := callRPC(*nodeURL, "badge_get", map[string]string{"badgeId": strings.TrimSpace(*id)})
	if err != nil {
		return err
	}
	printJSONResult(result)
	return nil
}

// callRPC posts one JSON-RPC request to the node. A nil param sends an empty
// parameter list; anything else is wrapped as the single parameter object.
func callRPC(base, method string, param interface{}) (json.RawMessage, error) {
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if param != nil {
		payload["params"] = []interface{}{param}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimRight(base, "/")
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response from node: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("error from node: %s", rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func printJSONResult(result json.RawMessage) {
	if len(result) == 0 {
		fmt.Println("No result.")
		return
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, result, "", "  "); err != nil {
		fmt.Println(string(result))
		return
	}
	fmt.Println(buf.String())
}
