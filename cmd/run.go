package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/triunity/node/config"
	"github.com/triunity/node/db"
	"github.com/triunity/node/exception"
	"github.com/triunity/node/ledger"
	"github.com/triunity/node/logx"
	"github.com/triunity/node/monitoring"
	"github.com/triunity/node/node"
	"github.com/triunity/node/p2p"
	"github.com/triunity/node/store"
)

const blockCacheSize = 512

var configPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runNode(ctx, configPath)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&configPath, "config", "c", "config/node.yml", "Path to node.yml")
}

func runNode(ctx context.Context, path string) error {
	cfgFile, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	nodeCfg := cfgFile.Node
	logx.Init(logx.Options{
		Dir:        cfgFile.Log.Dir,
		File:       cfgFile.Log.File,
		Level:      cfgFile.Log.Level,
		MaxSizeMB:  cfgFile.Log.MaxSizeMB,
		MaxAgeDays: cfgFile.Log.MaxAgeDays,
		Stdout:     cfgFile.Log.Stdout,
	})
	monitoring.InitMetrics()

	syncCfg, err := config.LoadSyncConfig(nodeCfg.TuningFile)
	if err != nil {
		return fmt.Errorf("load sync tuning: %w", err)
	}
	routerCfg, err := config.LoadRouterConfig(nodeCfg.TuningFile)
	if err != nil {
		return fmt.Errorf("load router tuning: %w", err)
	}

	kp, err := loadKey(nodeCfg.KeyPath)
	if err != nil {
		return err
	}

	provider, err := db.NewProvider(db.Backend(nodeCfg.DBBackend), nodeCfg.DataDir)
	if err != nil {
		return fmt.Errorf("open %s database: %w", nodeCfg.DBBackend, err)
	}
	defer provider.Close()

	blocks, err := store.NewGenericBlockStore(provider, blockCacheSize)
	if err != nil {
		return err
	}
	accounts, err := store.NewGenericAccountStore(provider)
	if err != nil {
		return err
	}

	n, err := node.New(node.Config{
		Sync:            syncCfg,
		Router:          routerCfg,
		Genesis:         cfgFile.Genesis,
		Validators:      [][]byte{kp.PublicKey()},
		SyncInterval:    nodeCfg.SyncInterval,
		MetricsInterval: nodeCfg.MetricsInterval,
	}, node.Deps{
		Blocks:  blocks,
		Ledger:  ledger.NewLedger(accounts),
		Sampler: monitoring.HostSampler{},
	})
	if err != nil {
		return err
	}

	identity, err := p2p.IdentityFromSeed(kp.Seed())
	if err != nil {
		return err
	}
	transport, err := p2p.NewTransport(p2p.Config{
		ListenAddrs:    []string{nodeCfg.ListenAddr},
		Identity:       identity,
		RequestTimeout: nodeCfg.RequestTimeout,
		MDNSTag:        nodeCfg.MDNSTag,
	}, n)
	if err != nil {
		return err
	}
	defer transport.Close()
	n.SetTransport(transport)

	for _, addr := range transport.Addrs() {
		logx.Info("NODE", "Listening on", addr)
	}
	for _, addr := range nodeCfg.BootstrapPeers {
		if err := transport.Connect(ctx, addr); err != nil {
			logx.Warn("NODE", "Bootstrap peer unreachable:", addr, err)
		}
	}

	mux := http.NewServeMux()
	monitoring.RegisterMetrics(mux)
	srv := &http.Server{Addr: nodeCfg.MetricsAddr, Handler: mux}
	exception.SafeGo("metrics-server", func() {
		logx.Info("METRICS", "Serving /metrics on", nodeCfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Error("METRICS", "Metrics server stopped:", err)
		}
	})
	defer srv.Close()

	logx.Info("NODE", "Node", transport.ID(), "address", kp.AddressBase58())
	return n.Run(ctx)
}
