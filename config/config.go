package config

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"streambadge/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the sbd daemon configuration. Missing files are created with
// generated defaults on first load.
type Config struct {
	RPCAddress           string `toml:"RPCAddress"`
	DataDir              string `toml:"DataDir"`
	DriverTag            string `toml:"DriverTag"`
	OperatorKeystorePath string `toml:"OperatorKeystorePath"`
	RPCAuthToken         string `toml:"RPCAuthToken,omitempty"`
	RPCAuthTokenFile     string `toml:"RPCAuthTokenFile,omitempty"`
	RPCAuthTokenEnv      string `toml:"RPCAuthTokenEnv"`
	// RPCTrustProxyHeaders makes X-Forwarded-For authoritative for rate
	// limiting. Enable only when the daemon sits behind a trusted proxy.
	RPCTrustProxyHeaders  bool     `toml:"RPCTrustProxyHeaders,omitempty"`
	RPCTrustedProxies     []string `toml:"RPCTrustedProxies,omitempty"`
	RPCMutationsPerMinute int      `toml:"RPCMutationsPerMinute,omitempty"`
	LogFile               string   `toml:"LogFile,omitempty"`
	LogMaxSizeMB          int      `toml:"LogMaxSizeMB,omitempty"`
	LogMaxBackups         int      `toml:"LogMaxBackups,omitempty"`
	LogMaxAgeDays         int      `toml:"LogMaxAgeDays,omitempty"`
}

const (
	defaultRPCAddress = ":8080"
	defaultDataDir    = "./sbd-data"
	defaultDriverTag  = "SBDG"
	defaultTokenEnv   = "SB_RPC_TOKEN"
)

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.DriverTag) == "" {
		cfg.DriverTag = defaultDriverTag
	}
	if strings.TrimSpace(cfg.RPCAuthTokenEnv) == "" {
		cfg.RPCAuthTokenEnv = defaultTokenEnv
	}
}

// Validate reports configuration values no daemon could start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if _, err := c.Driver(); err != nil {
		return err
	}
	if c.RPCMutationsPerMinute < 0 {
		return fmt.Errorf("config: RPCMutationsPerMinute must not be negative")
	}
	if c.LogMaxSizeMB < 0 || c.LogMaxBackups < 0 || c.LogMaxAgeDays < 0 {
		return fmt.Errorf("config: log rotation values must not be negative")
	}
	return nil
}

// Driver parses DriverTag into the 32-bit identifier namespace. The tag is
// exactly four printable ASCII characters, big-endian packed.
func (c *Config) Driver() (uint32, error) {
	tag := strings.TrimSpace(c.DriverTag)
	if tag == "" {
		tag = defaultDriverTag
	}
	if len(tag) != 4 {
		return 0, fmt.Errorf("config: DriverTag %q must be exactly 4 characters", tag)
	}
	for _, r := range tag {
		if r < 0x21 || r > 0x7E {
			return 0, fmt.Errorf("config: DriverTag %q must be printable ASCII", tag)
		}
	}
	return binary.BigEndian.Uint32([]byte(tag)), nil
}

// ResolveAuthToken returns the RPC bearer token using the precedence
// inline value, token file, then environment variable. An empty result
// means the mutating RPC surface stays disabled.
func (c *Config) ResolveAuthToken() (string, error) {
	if token := strings.TrimSpace(c.RPCAuthToken); token != "" {
		return token, nil
	}
	if path := strings.TrimSpace(c.RPCAuthTokenFile); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("config: read RPCAuthTokenFile: %w", err)
		}
		token := strings.TrimSpace(string(raw))
		if token == "" {
			return "", fmt.Errorf("config: RPCAuthTokenFile %s is empty", path)
		}
		return token, nil
	}
	env := strings.TrimSpace(c.RPCAuthTokenEnv)
	if env == "" {
		env = defaultTokenEnv
	}
	return strings.TrimSpace(os.Getenv(env)), nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:      defaultRPCAddress,
		DataDir:         defaultDataDir,
		DriverTag:       defaultDriverTag,
		RPCAuthTokenEnv: defaultTokenEnv,
	}
	cfg.OperatorKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
