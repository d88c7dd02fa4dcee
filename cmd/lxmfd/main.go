// Command lxmfd is the daemon entrypoint: it loads configuration, loads or
// generates an identity, wires the runtime's components together, and
// serves the RPC and metrics surfaces until signaled to stop.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/FreeTAKTeam/lxmf-go/delivery"
	"github.com/FreeTAKTeam/lxmf-go/eventlog"
	"github.com/FreeTAKTeam/lxmf-go/identity"
	"github.com/FreeTAKTeam/lxmf-go/inbound"
	"github.com/FreeTAKTeam/lxmf-go/metrics"
	pkgconfig "github.com/FreeTAKTeam/lxmf-go/pkg/config"
	"github.com/FreeTAKTeam/lxmf-go/pkg/utils"
	"github.com/FreeTAKTeam/lxmf-go/propagation"
	"github.com/FreeTAKTeam/lxmf-go/rpcserver"
	"github.com/FreeTAKTeam/lxmf-go/runtime"
	"github.com/FreeTAKTeam/lxmf-go/security"
	"github.com/FreeTAKTeam/lxmf-go/sendpipeline"
	"github.com/FreeTAKTeam/lxmf-go/store/filestore"
	"github.com/FreeTAKTeam/lxmf-go/transport/memnet"
	"github.com/FreeTAKTeam/lxmf-go/wire"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// A missing .env is normal in production deployments that rely on the
	// process environment directly.
	_ = godotenv.Load()

	cfg, err := pkgconfig.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	id, err := loadOrGenerateIdentity(cfg.Runtime.IdentityFile)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}

	fs, err := filestore.Open(cfg.Store.Dir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	hub := memnet.NewHub()
	peer := hub.NewPeer(id.Address, id.Public)

	elog := eventlog.New(id.Address.String(), "default", 4096, nil)
	tracker := delivery.NewTracker(nil)
	router := inbound.NewRouter(peer, fs, elog, nil)

	peerCacheFile := cfg.Runtime.PeerCacheFile
	if peerCacheFile == "" {
		peerCacheFile = utils.EnvOrDefault("LXMF_PEER_CACHE_FILE", "peers.yaml")
	}
	peerCache, err := inbound.LoadPeerCacheFromFile(peerCacheFile)
	if err != nil {
		return fmt.Errorf("load peer cache: %w", err)
	}
	router.SetPeers(peerCache)

	prop := propagation.New(peer, fs, router, elog, id.Address, nil)

	idempotencyTTL := time.Duration(cfg.Runtime.IdempotencyTTLMs) * time.Millisecond
	if idempotencyTTL <= 0 {
		idempotencyTTL = time.Hour
	}
	pipeline := sendpipeline.New(peer, fs, tracker, elog, prop, id, idempotencyTTL, 4096)

	rt := runtime.New()

	tokenValidator := security.NewTokenValidator(cfg.Auth.TokenSecret, time.Duration(cfg.Auth.JTICacheTTLMs)*time.Millisecond, nil)
	auth := security.NewAuthenticator(security.Mode(cfg.Auth.Mode), cfg.Auth.BindMode, tokenValidator, cfg.Auth.AllowedSAN, cfg.Auth.TrustedProxy, cfg.Auth.TrustedProxyIPs)
	rl := security.NewRateLimiter(cfg.RateLimit.PerIPPerMinute, cfg.RateLimit.PerPrincipalPerMinute)
	fw := security.NewFirewall()

	server := rpcserver.New(rt, pipeline, tracker, elog, prop, auth, rl, fw)
	server.EnableWS = cfg.RPC.EnableWS

	httpSrv := &http.Server{Addr: cfg.RPC.ListenAddr, Handler: server.Router()}

	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = utils.EnvOrDefault("LXMF_METRICS_LOG_FILE", "lxmfd-metrics.log")
	}
	metricsLogger, err := metrics.New(rt, fs, tracker, elog, prop, logFile)
	if err != nil {
		return fmt.Errorf("init metrics logger: %w", err)
	}
	defer metricsLogger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go metricsLogger.RunCollector(ctx, 15*time.Second)

	var metricsSrv *http.Server
	if cfg.RPC.MetricsAddr != "" {
		metricsSrv, err = metricsLogger.StartServer(cfg.RPC.MetricsAddr)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			elog.Publish("rpc_server_error", wire.Null())
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	if err := router.Peers().SaveToFile(peerCacheFile); err != nil {
		return fmt.Errorf("save peer cache: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown rpc server: %w", err)
	}
	if metricsSrv != nil {
		if err := metricsLogger.ShutdownServer(shutdownCtx, metricsSrv); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
	}
	return nil
}

// loadOrGenerateIdentity reads an existing identity file, or mints and
// persists a new one the first time a node is brought up.
func loadOrGenerateIdentity(path string) (*identity.Identity, error) {
	if path == "" {
		path = utils.EnvOrDefault("LXMF_IDENTITY_FILE", "identity.key")
	}
	if _, err := os.Stat(path); err == nil {
		return identity.Load(path)
	}
	id, err := identity.Generate()
	if err != nil {
		return nil, err
	}
	if err := identity.Save(path, id); err != nil {
		return nil, err
	}
	return id, nil
}
