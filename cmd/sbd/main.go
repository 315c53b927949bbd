package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"streambadge/cmd/internal/secrets"
	"streambadge/config"
	"streambadge/core"
	"streambadge/crypto"
	"streambadge/observability/logging"
	"streambadge/rpc"
	"streambadge/storage"
)

const operatorPassEnv = "SB_OPERATOR_PASS"

func main() {
	configFile := flag.String("config", "./sbd.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("SB_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWithSink("sbd", env, logging.FileSink{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	driver, err := cfg.Driver()
	if err != nil {
		logger.Error("Invalid driver tag", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	operatorKey, err := loadOperatorKey(cfg.OperatorKeystorePath, secrets.NewSource(operatorPassEnv))
	if err != nil {
		logger.Error("Failed to load operator key", slog.Any("error", err))
		os.Exit(1)
	}

	node, err := core.NewNode(db)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialise node: %v", err))
	}
	node.SetDriver(driver)

	authToken, err := cfg.ResolveAuthToken()
	if err != nil {
		logger.Error("Failed to resolve RPC auth token", slog.Any("error", err))
		os.Exit(1)
	}
	if authToken == "" {
		logger.Warn("No RPC auth token configured; mutating methods stay disabled")
	}

	rpcServer := rpc.NewServer(node, rpc.ServerConfig{
		AuthToken:          authToken,
		TrustProxyHeaders:  cfg.RPCTrustProxyHeaders,
		TrustedProxies:     append([]string{}, cfg.RPCTrustedProxies...),
		MutationsPerMinute: cfg.RPCMutationsPerMinute,
	})

	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- rpcServer.Start(cfg.RPCAddress)
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	go func() {
		if err, ok := <-rpcErrCh; ok && err != nil {
			logger.Error("RPC server terminated", slog.Any("error", err))
		}
	}()

	logger.Info("sbd initialised and running",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("operator", operatorKey.PubKey().Address().String()),
		slog.String("stateRoot", node.StateRoot().Hex()),
	)
	select {}
}

// loadOperatorKey decrypts the operator keystore. Auto-generated keystores
// are sealed with an empty passphrase; anything else resolves through source.
func loadOperatorKey(path string, source *secrets.Source) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("operator keystore path not configured")
	}
	key, err := crypto.LoadFromKeystore(path, "")
	if err == nil {
		return key, nil
	}
	passphrase, perr := source.Get()
	if perr != nil {
		return nil, fmt.Errorf("failed to obtain operator keystore passphrase: %w", perr)
	}
	key, err = crypto.LoadFromKeystore(path, passphrase)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt keystore %s: %w", path, err)
	}
	return key, nil
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok || err == nil {
				return fmt.Errorf("RPC server exited before startup confirmation")
			}
			return err
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok || err == nil {
				return fmt.Errorf("RPC server exited before startup confirmation")
			}
			return err
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for RPC server to start on %s", addr)
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
