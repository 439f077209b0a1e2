// Package configs loads the engine's YAML configuration and projects it
// into the per-package Config structs each component already defines.
// Grounded on the teacher's configs/config.go: os.ReadFile + yaml.Unmarshal
// into one root struct, then a ToXConfig() method per downstream package
// instead of scattering field lookups through cmd/main.go.
package configs

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/onchainops/liquidator/pkg/audit"
	"github.com/onchainops/liquidator/pkg/broadcaster"
	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/engine"
	"github.com/onchainops/liquidator/pkg/planner"
	"github.com/onchainops/liquidator/pkg/poolevents"
	"github.com/onchainops/liquidator/pkg/pricefeed"
	"github.com/onchainops/liquidator/pkg/scheduler"
	"github.com/onchainops/liquidator/pkg/verifier"
	"github.com/onchainops/liquidator/internal/reservestore"
)

// FeedYAMLData mirrors pricefeed.FeedConfig with plain strings for
// addresses, the same way the teacher's ContractClientYAMLData carries
// addresses as strings until ToBlackholeConfigs parses them.
type FeedYAMLData struct {
	Feed             string `yaml:"feed"`
	Token            string `yaml:"token"`
	Symbol           string `yaml:"symbol"`
	Derived          bool   `yaml:"derived"`
	ComposeBaseToken string `yaml:"composeBaseToken"`
	ThresholdBps     int64  `yaml:"thresholdBps"`
	CumulativeMode   bool   `yaml:"cumulativeMode"`
	DebounceSec      int64  `yaml:"debounceSec"`
	PollEnabled      bool   `yaml:"pollEnabled"`
}

// Config is the root of config.yaml.
type Config struct {
	RPC struct {
		Primary   string   `yaml:"primary"`
		Secondary string   `yaml:"secondary"`
		Broadcast []string `yaml:"broadcast"`
		Monitor   string   `yaml:"monitor"`
	} `yaml:"rpc"`

	Contracts struct {
		Pool         string `yaml:"pool"`
		DataProvider string `yaml:"dataProvider"`
		Executor     string `yaml:"executor"`
		Payout       string `yaml:"payout"`
		ChainID      int64  `yaml:"chainId"`
	} `yaml:"contracts"`

	Feeds []FeedYAMLData `yaml:"feeds"`

	Verifier struct {
		BatchSize              int     `yaml:"batchSize"`
		MinChunkSize           int     `yaml:"minChunkSize"`
		ChunkTimeoutMs         int64   `yaml:"chunkTimeoutMs"`
		ChunkRetryAttempts     int     `yaml:"chunkRetryAttempts"`
		HedgeDelayMs           int64   `yaml:"hedgeDelayMs"`
		BackoffBaseMs          int64   `yaml:"backoffBaseMs"`
		BackoffCapMs           int64   `yaml:"backoffCapMs"`
		RateLimitPerSec        float64 `yaml:"rateLimitPerSec"`
		RateBurst              int     `yaml:"rateBurst"`
		RateLimitWaitMs        int64   `yaml:"rateLimitWaitMs"`
		ExecutionThreshold     float64 `yaml:"executionThreshold"`
		HysteresisBps          int64   `yaml:"hysteresisBps"`
		NearThresholdBandBps   int64   `yaml:"nearThresholdBandBps"`
		MinDebtUsd             int64   `yaml:"minDebtUsd"`
		MicroVerifyMaxPerBlock int     `yaml:"microVerifyMaxPerBlock"`
		ScanDedupWindowMs      int64   `yaml:"scanDedupWindowMs"`
		PendingVerifyEnabled   bool    `yaml:"pendingVerifyEnabled"`
	} `yaml:"verifier"`

	Scheduler struct {
		HeadCriticalBatchSize       int     `yaml:"headCriticalBatchSize"`
		AlwaysIncludeHfBelow        float64 `yaml:"alwaysIncludeHfBelow"`
		MaintenanceSampleSize       int     `yaml:"maintenanceSampleSize"`
		HeadCheckPageSize           int     `yaml:"headCheckPageSize"`
		HeadPageTargetMs            int64   `yaml:"headPageTargetMs"`
		HeadPageMin                 int     `yaml:"headPageMin"`
		HeadPageMax                 int     `yaml:"headPageMax"`
		RunStallAbortMs             int64   `yaml:"runStallAbortMs"`
		EventBatchCoalesceMs        int64   `yaml:"eventBatchCoalesceMs"`
		EventBatchMaxPerBlock       int     `yaml:"eventBatchMaxPerBlock"`
		MaxParallelEventBatches     int     `yaml:"maxParallelEventBatches"`
		MaxParallelEventBatchesHigh int     `yaml:"maxParallelEventBatchesHigh"`
		AdaptiveEventConcurrency    bool    `yaml:"adaptiveEventConcurrency"`
		EventBacklogThreshold       int     `yaml:"eventBacklogThreshold"`
		PriceTriggerMaxScan         int     `yaml:"priceTriggerMaxScan"`
	} `yaml:"scheduler"`

	Planner struct {
		CloseFactorBps int64 `yaml:"closeFactorBps"`
		HaircutBps     int64 `yaml:"haircutBps"`
		TopN           int   `yaml:"topN"`
	} `yaml:"planner"`

	Broadcaster struct {
		MaxReplacements    int   `yaml:"maxReplacements"`
		ReplacementDelayMs int64 `yaml:"replacementDelayMs"`
		PollIntervalMs     int64 `yaml:"pollIntervalMs"`
		FeeBumpBps         int64 `yaml:"feeBumpBps"`
	} `yaml:"broadcaster"`

	Audit struct {
		MinDebtUsd int64 `yaml:"minDebtUsd"`
	} `yaml:"audit"`

	Engine struct {
		ExecutionEnabled        bool  `yaml:"executionEnabled"`
		GasLimit                uint64 `yaml:"gasLimit"`
		SwapSlippageBps         int64 `yaml:"swapSlippageBps"`
		MaxConcurrentExecutions int   `yaml:"maxConcurrentExecutions"`
		ExecutionTimeoutMs      int64 `yaml:"executionTimeoutMs"`
		WsHeartbeatMs           int64 `yaml:"wsHeartbeatMs"`
	} `yaml:"engine"`

	PoolEvents struct {
		ReserveMinIndexDeltaBps int64 `yaml:"reserveMinIndexDeltaBps"`
		WsHeartbeatMs           int64 `yaml:"wsHeartbeatMs"`
	} `yaml:"poolEvents"`

	PriceFeed struct {
		DedupWindowMs     int64 `yaml:"dedupWindowMs"`
		GlobalMinInterval int64 `yaml:"globalMinInterval"`
		JitterMinMs       int64 `yaml:"jitterMinMs"`
		JitterMaxMs       int64 `yaml:"jitterMaxMs"`
		PollIntervalMs    int64 `yaml:"pollIntervalMs"`
		WsHeartbeatMs     int64 `yaml:"wsHeartbeatMs"`
	} `yaml:"priceFeed"`

	ReserveStore struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"reserveStore"`

	Notifier struct {
		WebhookURL string `yaml:"webhookUrl"`
	} `yaml:"notifier"`

	SwapOracle struct {
		BaseURL string `yaml:"baseUrl"`
		APIKey  string `yaml:"apiKey"`
	} `yaml:"swapOracle"`

	BorrowerIndex struct {
		SubgraphWsURL    string `yaml:"subgraphWsUrl"`
		HeartbeatTimeoutMs int64 `yaml:"heartbeatTimeoutMs"`
	} `yaml:"borrowerIndex"`

	ProtocolData struct {
		FallbackBonusBps uint16 `yaml:"fallbackBonusBps"`
	} `yaml:"protocolData"`
}

// LoadConfig reads config.yaml and loads secrets from .env the same way
// the teacher's bootstrap does (ENC_PK/KEY stay in the environment, never
// the YAML file).
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load() // optional: absent .env is fine in production

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("configs: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("configs: parse %s: %w", path, err)
	}
	return &c, nil
}

// usd1e18 converts a whole-dollar debt floor into the Ray1e18-scaled form
// every HF-adjacent Config carries (verifier/scheduler/audit all compare
// against debt value already expressed in 1e18 USD).
func usd1e18(wholeDollars int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(wholeDollars), domain.Ray1e18)
}

func (c *Config) ToVerifierConfig() verifier.Config {
	v := c.Verifier
	return verifier.Config{
		BatchSize:              v.BatchSize,
		MinChunkSize:           v.MinChunkSize,
		ChunkTimeout:           time.Duration(v.ChunkTimeoutMs) * time.Millisecond,
		ChunkRetryAttempts:     v.ChunkRetryAttempts,
		HedgeDelay:             time.Duration(v.HedgeDelayMs) * time.Millisecond,
		BackoffBase:            time.Duration(v.BackoffBaseMs) * time.Millisecond,
		BackoffCap:             time.Duration(v.BackoffCapMs) * time.Millisecond,
		RateLimitPerSec:        v.RateLimitPerSec,
		RateBurst:              v.RateBurst,
		RateLimitWait:          time.Duration(v.RateLimitWaitMs) * time.Millisecond,
		ExecutionThreshold:     v.ExecutionThreshold,
		HysteresisBps:          v.HysteresisBps,
		NearThresholdBandBps:   v.NearThresholdBandBps,
		MinDebtUsd1e18:         usd1e18(v.MinDebtUsd),
		MicroVerifyMaxPerBlock: v.MicroVerifyMaxPerBlock,
		ScanDedupWindow:        time.Duration(v.ScanDedupWindowMs) * time.Millisecond,
		PendingVerifyEnabled:   v.PendingVerifyEnabled,
	}
}

func (c *Config) ToSchedulerConfig() scheduler.Config {
	s := c.Scheduler
	return scheduler.Config{
		HeadCriticalBatchSize:       s.HeadCriticalBatchSize,
		AlwaysIncludeHfBelow:        s.AlwaysIncludeHfBelow,
		MaintenanceSampleSize:       s.MaintenanceSampleSize,
		HeadCheckPageSize:           s.HeadCheckPageSize,
		MinDebtUsd1e18:              usd1e18(c.Verifier.MinDebtUsd),
		HeadPageTargetMs:            time.Duration(s.HeadPageTargetMs) * time.Millisecond,
		HeadPageMin:                 s.HeadPageMin,
		HeadPageMax:                 s.HeadPageMax,
		RunStallAbortMs:             time.Duration(s.RunStallAbortMs) * time.Millisecond,
		EventBatchCoalesceMs:        time.Duration(s.EventBatchCoalesceMs) * time.Millisecond,
		EventBatchMaxPerBlock:       s.EventBatchMaxPerBlock,
		MaxParallelEventBatches:     s.MaxParallelEventBatches,
		MaxParallelEventBatchesHigh: s.MaxParallelEventBatchesHigh,
		AdaptiveEventConcurrency:    s.AdaptiveEventConcurrency,
		EventBacklogThreshold:       s.EventBacklogThreshold,
		PriceTriggerMaxScan:         s.PriceTriggerMaxScan,
		NearBandBps:                 c.Verifier.NearThresholdBandBps,
		ExecutionThreshold:          c.Verifier.ExecutionThreshold,
	}
}

func (c *Config) ToPlannerConfig() planner.Config {
	return planner.Config{
		CloseFactorBps: c.Planner.CloseFactorBps,
		HaircutBps:     c.Planner.HaircutBps,
		TopN:           c.Planner.TopN,
	}
}

func (c *Config) ToBroadcasterConfig() broadcaster.Config {
	b := c.Broadcaster
	return broadcaster.Config{
		MaxReplacements:  b.MaxReplacements,
		ReplacementDelay: time.Duration(b.ReplacementDelayMs) * time.Millisecond,
		PollInterval:     time.Duration(b.PollIntervalMs) * time.Millisecond,
		FeeBumpBps:       b.FeeBumpBps,
	}
}

func (c *Config) ToAuditConfig() audit.Config {
	return audit.Config{MinDebtUsd1e18: usd1e18(c.Audit.MinDebtUsd)}
}

func (c *Config) ToEngineConfig() engine.Config {
	e := c.Engine
	return engine.Config{
		ExecutionEnabled:        e.ExecutionEnabled,
		ExecutorAddress:         common.HexToAddress(c.Contracts.Executor),
		Payout:                  domain.ParseAddress(c.Contracts.Payout),
		GasLimit:                e.GasLimit,
		SwapSlippageBps:         e.SwapSlippageBps,
		MaxConcurrentExecutions: e.MaxConcurrentExecutions,
		ExecutionTimeout:        time.Duration(e.ExecutionTimeoutMs) * time.Millisecond,
		WsHeartbeatMs:           e.WsHeartbeatMs,
	}
}

func (c *Config) ToPoolEventsConfig() poolevents.Config {
	return poolevents.Config{
		ReserveMinIndexDeltaBps: c.PoolEvents.ReserveMinIndexDeltaBps,
		WsHeartbeatMs:           c.PoolEvents.WsHeartbeatMs,
	}
}

func (c *Config) ToPriceFeedConfig() pricefeed.Config {
	p := c.PriceFeed
	feeds := make([]pricefeed.FeedConfig, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		feeds = append(feeds, pricefeed.FeedConfig{
			Feed:             domain.ParseAddress(f.Feed),
			Token:            domain.ParseAddress(f.Token),
			Symbol:           f.Symbol,
			Derived:          f.Derived,
			ComposeBaseToken: domain.ParseAddress(f.ComposeBaseToken),
			ThresholdBps:     f.ThresholdBps,
			CumulativeMode:   f.CumulativeMode,
			DebounceSec:      f.DebounceSec,
			PollEnabled:      f.PollEnabled,
		})
	}
	return pricefeed.Config{
		Feeds:             feeds,
		DedupWindowMs:     p.DedupWindowMs,
		GlobalMinInterval: p.GlobalMinInterval,
		JitterMinMs:       p.JitterMinMs,
		JitterMaxMs:       p.JitterMaxMs,
		PollIntervalMs:    p.PollIntervalMs,
		WsHeartbeatMs:      p.WsHeartbeatMs,
	}
}

// ReserveStoreDriverDSN returns the driver/DSN pair cmd/liquidator/main.go passes to
// reservestore.Open.
func (c *Config) ReserveStoreDriverDSN() (reservestore.Driver, string) {
	switch c.ReserveStore.Driver {
	case "mysql":
		return reservestore.DriverMySQL, c.ReserveStore.DSN
	default:
		return reservestore.DriverSQLite, c.ReserveStore.DSN
	}
}

func (c *Config) PoolAddress() common.Address {
	return common.HexToAddress(c.Contracts.Pool)
}

func (c *Config) DataProviderAddress() common.Address {
	return common.HexToAddress(c.Contracts.DataProvider)
}

func (c *Config) ChainID() *big.Int {
	return big.NewInt(c.Contracts.ChainID)
}
