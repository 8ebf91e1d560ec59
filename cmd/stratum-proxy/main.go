// Command stratum-proxy bridges a KAWPOW node's getblocktemplate RPC and GPU
// miners speaking stratum, crediting every found block to the first miner
// address that authorizes.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/meowcoin/stratum-proxy/internal/bitcoin"
	"github.com/meowcoin/stratum-proxy/internal/config"
	"github.com/meowcoin/stratum-proxy/internal/metrics"
	"github.com/meowcoin/stratum-proxy/internal/stratum"
	"github.com/meowcoin/stratum-proxy/internal/work"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// go-flags already printed usage
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Verbose)
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpc := bitcoin.NewRPCClient(cfg.NodeURL(), cfg.RPCUser, cfg.RPCPass)

	engine := work.NewEngine(rpc, work.Options{
		ShowJobs: cfg.Jobs || cfg.Verbose,
		DumpDir:  cfg.HistoryDir,
	}, logger)

	server := stratum.NewServer(engine, rpc, cfg.Testnet, logger)

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	// Either top-level task ending takes the process down with it.
	refresherDone := make(chan error, 1)
	go func() {
		refresherDone <- engine.Run(ctx)
	}()

	if err := server.Start(cfg.ListenAddr()); err != nil {
		logger.Error("error starting server", zap.Error(err))
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-refresherDone:
		if err != nil && ctx.Err() == nil {
			logger.Error("template refresher stopped", zap.Error(err))
		}
	}

	server.Stop()
}

func buildLogger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}
