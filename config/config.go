package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"mintgate/chain"
)

// Config is the service configuration read from YAML, with MINTGATE_*
// environment variables overriding individual keys (server.port becomes
// MINTGATE_SERVER_PORT).
type Config struct {
	Server    ServerConfig  `mapstructure:"server"`
	Log       LogConfig     `mapstructure:"log"`
	LevelDB   LevelDBConfig `mapstructure:"leveldb"`
	Chain     ChainConfig   `mapstructure:"chain"`
	Bootstrap Bootstrap     `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

type LevelDBConfig struct {
	Path string `mapstructure:"path"`
}

type ChainConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// Bootstrap lists nodes created when the service starts with an empty store.
type Bootstrap struct {
	Ledgers  []chain.LedgerConfig  `mapstructure:"ledgers"`
	Ceilings []chain.CeilingConfig `mapstructure:"ceilings"`
	Windows  []chain.WindowConfig  `mapstructure:"windows"`
	Delays   []chain.DelayConfig   `mapstructure:"delays"`
}

// Empty reports whether no bootstrap node is configured.
func (b Bootstrap) Empty() bool {
	return len(b.Ledgers)+len(b.Ceilings)+len(b.Windows)+len(b.Delays) == 0
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("server.port", 8080)
	v.SetDefault("log.app_log_file", "stdout")
	v.SetDefault("log.level", "info")
	v.SetDefault("leveldb.path", "data/mintgate")
	v.SetDefault("chain.max_depth", chain.DefaultMaxDepth)

	v.SetEnvPrefix("MINTGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}
