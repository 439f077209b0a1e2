// Command liquidator is the bootstrap entrypoint: decrypt the signer key,
// load configs/config.yml, dial the chain endpoints, wire every component
// bottom-up, and run the engine until a signal or a fatal error. Grounded
// on the teacher's cmd/main.go bootstrap shape (ENC_PK/KEY decrypt,
// configs.LoadConfig, dial, construct, run) generalized from one
// single-strategy loop into the full liquidation engine's component graph.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/onchainops/liquidator/configs"
	"github.com/onchainops/liquidator/internal/reservestore"
	"github.com/onchainops/liquidator/internal/util"
	"github.com/onchainops/liquidator/internal/xlog"
	"github.com/onchainops/liquidator/pkg/audit"
	"github.com/onchainops/liquidator/pkg/broadcaster"
	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/dirtyqueue"
	"github.com/onchainops/liquidator/pkg/engine"
	"github.com/onchainops/liquidator/pkg/external"
	"github.com/onchainops/liquidator/pkg/history"
	"github.com/onchainops/liquidator/pkg/metrics"
	"github.com/onchainops/liquidator/pkg/planner"
	"github.com/onchainops/liquidator/pkg/poolevents"
	"github.com/onchainops/liquidator/pkg/pricecache"
	"github.com/onchainops/liquidator/pkg/pricefeed"
	"github.com/onchainops/liquidator/pkg/protocoldata"
	"github.com/onchainops/liquidator/pkg/riskset"
	"github.com/onchainops/liquidator/pkg/scanregistry"
	"github.com/onchainops/liquidator/pkg/verifier"
)

func main() {
	log, err := xlog.New(os.Getenv("DEBUG") != "")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("liquidator exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	encPk := os.Getenv("ENC_PK")
	key := os.Getenv("KEY")
	if encPk == "" || key == "" {
		return fmt.Errorf("ENC_PK and KEY must both be set")
	}
	pkHex, err := util.Decrypt([]byte(key), encPk)
	if err != nil {
		return fmt.Errorf("decrypt signer key: %w", err)
	}
	signerKey, err := crypto.HexToECDSA(pkHex)
	if err != nil {
		return fmt.Errorf("parse signer key: %w", err)
	}

	cfg, err := configs.LoadConfig(envOr("CONFIG_PATH", "configs/config.yml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	primary, err := chain.Dial(ctx, cfg.RPC.Primary)
	if err != nil {
		return fmt.Errorf("dial primary rpc: %w", err)
	}
	defer primary.Close()

	var secondary chain.Client = primary
	if cfg.RPC.Secondary != "" {
		s, err := chain.Dial(ctx, cfg.RPC.Secondary)
		if err != nil {
			return fmt.Errorf("dial secondary rpc: %w", err)
		}
		defer s.Close()
		secondary = s
	}

	monitor, err := chain.Dial(ctx, cfg.RPC.Monitor)
	if err != nil {
		return fmt.Errorf("dial monitor rpc: %w", err)
	}
	defer monitor.Close()

	broadcastEndpoints := make([]chain.Client, 0, len(cfg.RPC.Broadcast))
	for _, url := range cfg.RPC.Broadcast {
		c, err := chain.Dial(ctx, url)
		if err != nil {
			return fmt.Errorf("dial broadcast rpc %s: %w", url, err)
		}
		defer c.Close()
		broadcastEndpoints = append(broadcastEndpoints, c)
	}
	if len(broadcastEndpoints) == 0 {
		broadcastEndpoints = []chain.Client{primary}
	}

	clock := util.RealClock{}
	sink := metrics.NewPrometheus()
	risk := riskset.New()
	dirty := dirtyqueue.New()
	attempts := history.New()
	verifierCfg := cfg.ToVerifierConfig()
	registry := scanregistry.New(verifierCfg.ScanDedupWindow, clock)

	reserveDriver, reserveDSN := cfg.ReserveStoreDriverDSN()
	store, err := reservestore.Open(reserveDriver, reserveDSN)
	if err != nil {
		return fmt.Errorf("open reserve store: %w", err)
	}
	defer store.Close()

	reserves := protocoldata.New(cfg.ProtocolData.FallbackBonusBps)
	if n, err := store.LoadInto(reserves); err != nil {
		log.Warn("reserve store bootstrap load failed, continuing with an empty cache", zap.Error(err))
	} else {
		log.Info("reserve cache seeded from durable snapshot", zap.Int("reserves", n))
	}

	prices := pricecache.New()

	poolAddr := cfg.PoolAddress()
	dataProviderAddr := cfg.DataProviderAddress()

	v := verifier.New(verifierCfg, poolAddr, primary, secondary, risk, registry, clock, sink)

	priceFeed := pricefeed.New(cfg.ToPriceFeedConfig(), primary, prices, clock, sink, log, 64)
	poolEvents := poolevents.New(cfg.ToPoolEventsConfig(), poolAddr, primary, dirty, clock, sink, log, 64, 64)

	borrowers := external.NewSubgraphBorrowerIndex(
		cfg.BorrowerIndex.SubgraphWsURL,
		time.Duration(cfg.BorrowerIndex.HeartbeatTimeoutMs)*time.Millisecond,
		clock, log,
	)

	plan := planner.New(cfg.ToPlannerConfig(), primary, dataProviderAddr, reserves, prices, sink, log)

	signer := broadcaster.NewSigner(signerKey, cfg.ChainID())
	bcast := broadcaster.New(cfg.ToBroadcasterConfig(), broadcastEndpoints, monitor, signer, clock, sink, log)

	notifier := external.NewWebhookNotifier(cfg.Notifier.WebhookURL)
	swaps := external.NewHTTPSwapOracle(cfg.SwapOracle.BaseURL, cfg.SwapOracle.APIKey)
	executor := external.NewChainExecutor()

	auditListener := audit.New(cfg.ToAuditConfig(), risk, attempts, notifier, sink, log)

	eng := engine.New(
		cfg.ToEngineConfig(),
		cfg.ToSchedulerConfig(),
		v,
		plan,
		bcast,
		auditListener,
		risk,
		dirty,
		attempts,
		priceFeed,
		poolEvents,
		borrowers,
		swaps,
		executor,
		notifier,
		monitor,
		clock,
		sink,
		log,
	)

	runErr := make(chan error, 1)
	go func() { runErr <- eng.Run(ctx) }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining in-flight executions")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := eng.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown drain did not complete cleanly", zap.Error(err))
		}
		return <-runErr
	case err := <-runErr:
		return err
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
