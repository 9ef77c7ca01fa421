package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"dealvault/audit"
	"dealvault/config"
	"dealvault/core/events"
	"dealvault/core/state"
	"dealvault/native/deal"
	"dealvault/native/factory"
	"dealvault/observability/logging"
	"dealvault/rpc"
	"dealvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid config: %v", err))
	}

	logger := logging.Setup("dealvaultd", cfg.Environment)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		panic(fmt.Sprintf("Failed to prepare data directory: %v", err))
	}
	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	journal, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to open audit journal: %v", err))
	}
	defer journal.Close()

	ledger := state.NewManager(db)

	emitter := events.MultiEmitter{journal, logEmitter{logger: logger}}

	engine := deal.NewEngine()
	engine.SetState(ledger)
	engine.SetDocumentGateway(cfg.DocumentGateway)
	engine.SetEmitter(emitter)

	f := factory.New(ledger, engine)
	f.SetEmitter(emitter)

	var owner [20]byte
	copy(owner[:], ethcommon.HexToAddress(cfg.OwnerAddress).Bytes())
	if err := f.Bootstrap(owner); err != nil {
		logger.Error("Failed to bootstrap factory owner", slog.Any("error", err))
		os.Exit(1)
	}
	if tpl, err := f.Template(); err != nil {
		logger.Error("Failed to read template version", slog.Any("error", err))
		os.Exit(1)
	} else if strings.TrimSpace(tpl) == "" {
		stored, err := f.Owner()
		if err != nil {
			logger.Error("Failed to read factory owner", slog.Any("error", err))
			os.Exit(1)
		}
		if err := f.SetTemplate(stored, cfg.TemplateVersion); err != nil {
			logger.Error("Failed to set template version", slog.Any("error", err))
			os.Exit(1)
		}
	}

	server := rpc.NewServer(engine, f, ledger, journal)
	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- server.Start(cfg.RPCAddress)
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPCAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("RPC server failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("dealvaultd initialised and running",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("network", cfg.NetworkName))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
	case err, ok := <-rpcErrCh:
		if ok && err != nil {
			logger.Error("RPC server terminated", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

// logEmitter mirrors every module event into the structured log stream.
type logEmitter struct {
	logger *slog.Logger
}

func (l logEmitter) Emit(evt events.Event) {
	if evt == nil || l.logger == nil {
		return
	}
	l.logger.Info("module event", slog.String("event", evt.EventType()))
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
