package config

import "time"

// NodeConfig holds the node settings from node.yml
type NodeConfig struct {
	DataDir         string        `yaml:"data_dir"`
	DBBackend       string        `yaml:"db_backend"`
	ListenAddr      string        `yaml:"listen_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	KeyPath         string        `yaml:"key_path"`
	BootstrapPeers  []string      `yaml:"bootstrap_peers"`
	MDNSTag         string        `yaml:"mdns_tag"`
	SyncInterval    time.Duration `yaml:"sync_interval"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	TuningFile      string        `yaml:"tuning_file"`
}

type LogConfig struct {
	Dir        string `yaml:"dir"`
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Stdout     bool   `yaml:"stdout"`
}

type GenesisAccount struct {
	Address string `yaml:"address"`
	Amount  uint64 `yaml:"amount"`
}

// GenesisConfig describes the block the chain starts from.
type GenesisConfig struct {
	Height    uint64           `yaml:"height"`
	Timestamp uint64           `yaml:"timestamp"`
	Accounts  []GenesisAccount `yaml:"accounts"`
}

// ConfigFile is the top-level structure for node.yml
type ConfigFile struct {
	Node    NodeConfig    `yaml:"node"`
	Log     LogConfig     `yaml:"log"`
	Genesis GenesisConfig `yaml:"genesis"`
}
