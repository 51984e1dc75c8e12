package config

import (
	"fmt"
	"os"

	"github.com/triunity/node/blocksync"
	"github.com/triunity/node/consensus"
	"github.com/triunity/node/logx"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses node.yml, filling unset node fields with defaults.
func LoadConfig(path string) (*ConfigFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer file.Close()

	var cfgFile ConfigFile
	if err := yaml.NewDecoder(file).Decode(&cfgFile); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfgFile.Node.applyDefaults()
	logx.Info("CONFIG", "Loaded", path, "data_dir", cfgFile.Node.DataDir, "genesis accounts", len(cfgFile.Genesis.Accounts))
	return &cfgFile, nil
}

func (c *NodeConfig) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DBBackend == "" {
		c.DBBackend = DefaultDBBackend
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.KeyPath == "" {
		c.KeyPath = DefaultKeyPath
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = DefaultMetricsInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
}

// LoadSyncConfig maps the [sync] section of an .ini file over the defaults.
// An empty path yields the defaults.
func LoadSyncConfig(path string) (blocksync.Config, error) {
	syncCfg := blocksync.DefaultConfig()
	if path == "" {
		return syncCfg, nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return syncCfg, err
	}
	if err := cfg.Section("sync").MapTo(&syncCfg); err != nil {
		return syncCfg, err
	}
	return syncCfg, syncCfg.Validate()
}

// LoadRouterConfig maps the [router] section of an .ini file over the defaults.
func LoadRouterConfig(path string) (consensus.Config, error) {
	routerCfg := consensus.DefaultConfig()
	if path == "" {
		return routerCfg, nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return routerCfg, err
	}
	if err := cfg.Section("router").MapTo(&routerCfg); err != nil {
		return routerCfg, err
	}
	return routerCfg, routerCfg.Validate()
}
