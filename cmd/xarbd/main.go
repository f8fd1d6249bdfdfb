// Copyright 2025 The xarb Authors
// This file is part of the xarb library.
//
// The xarb library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The xarb library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the xarb library. If not, see <http://www.gnu.org/licenses/>.

// xarbd is the arbitrage execution daemon: it consumes opportunity
// descriptors from the execution stream and submits transactions through
// the configured strategies.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/nvx-labs/xarb/breaker"
	"github.com/nvx-labs/xarb/commitreveal"
	"github.com/nvx-labs/xarb/config"
	"github.com/nvx-labs/xarb/consumer"
	"github.com/nvx-labs/xarb/dex"
	"github.com/nvx-labs/xarb/dlq"
	"github.com/nvx-labs/xarb/executor"
	"github.com/nvx-labs/xarb/gas"
	"github.com/nvx-labs/xarb/metrics"
	"github.com/nvx-labs/xarb/nonce"
	"github.com/nvx-labs/xarb/provider"
	"github.com/nvx-labs/xarb/simulation"
	"github.com/nvx-labs/xarb/strategy"
	"github.com/nvx-labs/xarb/streams"
	"github.com/nvx-labs/xarb/types"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to the YAML configuration file",
	}
	metricsAddrFlag = &cli.StringFlag{
		Name:  "metrics.addr",
		Usage: "Listen address for the Prometheus endpoint",
		Value: ":9090",
	}
	simulationModeFlag = &cli.BoolFlag{
		Name:  "simulation-mode",
		Usage: "Route every opportunity to the simulation strategy, never broadcast",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:   "xarbd",
		Usage:  "cross-venue arbitrage execution daemon",
		Flags:  []cli.Flag{configFlag, metricsAddrFlag, simulationModeFlag, verbosityFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(c.Int(verbosityFlag.Name)), false)
	log.SetDefault(log.NewLogger(handler))

	// Secrets arrive through the environment, optionally via .env in
	// development. A missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	if c.Bool(simulationModeFlag.Name) {
		cfg.SimulationMode = true
	}

	wallets, err := buildWallets(cfg)
	if err != nil {
		return err
	}

	store := streams.NewRedis(cfg.Streams.RedisAddr, cfg.Streams.RedisPassword)
	defer store.Close()

	nonces := nonce.NewManager()
	spikeGuard := gas.NewSpikeGuard(cfg.Executor.GasSpikeMultiplier)
	providers := provider.NewManager(cfg.Chains, nonces, wallets, nil)
	providers.OnReconnect = spikeGuard.Reset
	providers.Start()
	defer providers.Stop()

	dexRegistry := dex.NewRegistry(cfg.Chains)
	simSvc := buildSimulation(cfg, providers)

	var commitStore commitreveal.Store = commitreveal.NewMemoryStore()
	if cfg.Streams.DistributedCommitStore {
		commitStore = commitreveal.NewHybridStore(store)
	}
	commitSvc := commitreveal.NewService(commitStore, providers.Client, wallets, nonces, cfg.Chains, nil)

	sc := &strategy.Context{
		Providers: providers,
		Wallets:   wallets,
		Nonces:    nonces,
		Sim:       simSvc,
		Registry:  dexRegistry,
		Steps:     dex.NewStepBuilder(dexRegistry),
		Gas:       spikeGuard,
		Commit:    commitSvc,
		Chains:    cfg.Chains,
		Stats:     &types.ExecutionStats{},
	}

	registry, err := buildStrategies(cfg, commitSvc)
	if err != nil {
		return err
	}

	brk, err := breaker.New(cfg.Breaker)
	if err != nil {
		return err
	}

	instance := uuid.NewString()
	writer := dlq.NewWriter(store, cfg.Streams.DLQStream, cfg.Service, instance)
	orch := executor.New(cfg.Executor, brk, registry, sc, writer, cfg.SimulationMode)
	orch.Start()
	commitSvc.ShuttingDown = orch.ShuttingDown

	chains := make([]string, 0, len(cfg.Chains))
	for name := range cfg.Chains {
		chains = append(chains, name)
	}
	cons := consumer.New(store, cfg.Consumer, cfg.Streams.ExecutionStream, chains, writer, sc.Stats, orch.Dispatch)
	cons.Start()

	monitor := dlq.NewMonitor(store, cfg.Consumer, cfg.Streams.DLQStream, cfg.Streams.ExecutionStream)
	monitor.Start()

	srv := &http.Server{Addr: c.String(metricsAddrFlag.Name), Handler: metricsMux(orch)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Metrics server failed", "err", err)
		}
	}()

	log.Info("Execution daemon started", "service", cfg.Service, "instance", instance,
		"chains", len(cfg.Chains), "simulationMode", cfg.SimulationMode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Shutting down", "signal", sig)

	// Intake first, then inflight work, then the shared clients.
	cons.Stop()
	monitor.Stop()
	if err := orch.Shutdown(); err != nil {
		log.Warn("Shutdown incomplete", "err", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	return nil
}

// buildWallets derives the per-chain EVM wallets and installs the optional
// Solana keypair. The mnemonic is referenced through the environment and
// never appears in configuration.
func buildWallets(cfg *config.Config) (*provider.WalletRegistry, error) {
	mnemonic := os.Getenv(cfg.Wallet.MnemonicEnv)
	if mnemonic == "" {
		return nil, fmt.Errorf("wallet mnemonic env %s is not set", cfg.Wallet.MnemonicEnv)
	}
	passphrase := os.Getenv(cfg.Wallet.PassphraseEnv)
	chainIDs := make(map[string]int64, len(cfg.Chains))
	for name, chain := range cfg.Chains {
		chainIDs[name] = chain.ChainID
	}
	wallets, err := provider.DeriveWallets(mnemonic, passphrase, cfg.Wallet.AccountIndexes, chainIDs)
	if err != nil {
		return nil, err
	}
	if key := os.Getenv(cfg.Wallet.SolanaKeyEnv); key != "" {
		if err := wallets.SetSolanaKey(key); err != nil {
			return nil, err
		}
	}
	return wallets, nil
}

// buildSimulation assembles the provider chain: the managed provider when
// its key is present, then the RPC-trace fallback.
func buildSimulation(cfg *config.Config, providers *provider.Manager) *simulation.Service {
	var provs []simulation.Provider
	if cfg.Simulation.ManagedAPIKey != "" {
		provs = append(provs, simulation.NewManagedProvider(cfg.Simulation.ManagedAPIURL, cfg.Simulation.ManagedAPIKey))
	}
	if cfg.Simulation.FallbackRPCKey != "" || len(provs) == 0 {
		provs = append(provs, simulation.NewRPCProvider(providers.Client))
	}
	return simulation.NewService(cfg.Simulation, provs...)
}

// buildStrategies registers every configured strategy. The Solana bundle
// strategy is optional and only built when an aggregator is configured;
// an untrusted aggregator host is a startup error, not a runtime one.
func buildStrategies(cfg *config.Config, commitSvc *commitreveal.Service) (*strategy.Registry, error) {
	registry := strategy.NewRegistry()
	registry.Register(types.KindSingleChain, strategy.NewSingleChain())
	registry.Register(types.KindCrossChain, strategy.NewCrossChain())
	registry.Register(types.KindIntentFill, strategy.NewIntentFill(cfg.Intent))
	registry.Register(types.KindCommitReveal, strategy.NewCommitReveal(commitSvc))
	registry.RegisterSimulation(strategy.NewSimulationOnly())
	if cfg.Solana.AggregatorURL != "" {
		bundle, err := strategy.NewSolanaBundle(cfg.Solana)
		if err != nil {
			return nil, err
		}
		registry.Register(types.KindSolanaBundle, bundle)
	}
	return registry, registry.Ready()
}

// metricsMux serves the Prometheus registry plus a JSON stats snapshot.
func metricsMux(orch *executor.Orchestrator) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		snap := orch.Snapshot()
		fmt.Fprintf(w, `{"received":%d,"attempted":%d,"succeeded":%d,"failed":%d,"timedOut":%d,"lockConflicts":%d,"queueRejects":%d,"circuitBlocks":%d}`+"\n",
			snap.Received, snap.Attempted, snap.Succeeded, snap.Failed,
			snap.TimedOut, snap.LockConflicts, snap.QueueRejects, snap.CircuitBlocks)
	})
	return mux
}
