package config

import "time"

const (
	DefaultDataDir         = "./data"
	DefaultDBBackend       = "leveldb"
	DefaultListenAddr      = "/ip4/0.0.0.0/tcp/9100"
	DefaultMetricsAddr     = ":9200"
	DefaultKeyPath         = "./node.key"
	DefaultSyncInterval    = 2 * time.Second
	DefaultMetricsInterval = 5 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
)
