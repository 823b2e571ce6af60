package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	envPrefix = "DBROUTER"

	// DefaultDatabaseName 未配置名称时默认数据源的名称
	DefaultDatabaseName = "default"

	defaultWeight = 1.0
)

// Config dbrouter configuration
type Config struct {
	Logging     LoggingConfig      `mapstructure:"logging"`
	Orm         OrmConfig          `mapstructure:"orm"`
	Router      RouterConfig       `mapstructure:"router"`
	DataSources []DataSourceConfig `mapstructure:"datasources"`
	Clusters    []ClusterConfig    `mapstructure:"clusters"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string        `mapstructure:"level"`
	Format        string        `mapstructure:"format"`
	SlowThreshold time.Duration `mapstructure:"slow_threshold"`
}

// OrmConfig orm global config
type OrmConfig struct {
	Debug         bool   `mapstructure:"debug"`
	TablePrefix   string `mapstructure:"table_prefix"`
	SingularTable bool   `mapstructure:"singular_table"`
}

// RouterConfig routing behaviour
type RouterConfig struct {
	FailPolicy      string        `mapstructure:"fail_policy"`
	DefaultDatabase string        `mapstructure:"default_database"`
	Trace           bool          `mapstructure:"trace"`
	HeartbeatTick   time.Duration `mapstructure:"heartbeat_tick"`
	MaxFailures     int           `mapstructure:"max_failures"`
}

// DataSourceConfig one database node
type DataSourceConfig struct {
	Name   string `mapstructure:"name"`
	DBType string `mapstructure:"db_type"`
	DSN    string `mapstructure:"dsn"`
	Type   string `mapstructure:"type"`
	// Weight nil means 1, an explicit 0 drains the node
	Weight  *float64 `mapstructure:"weight"`
	Default bool     `mapstructure:"default"`

	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`

	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	MaxLifetime  time.Duration `mapstructure:"max_lifetime"`
	MaxIdleTime  time.Duration `mapstructure:"max_idle_time"`
}

// NodeWeight the configured weight, 1 when unset
func (d DataSourceConfig) NodeWeight() float64 {
	if d.Weight == nil {
		return defaultWeight
	}
	return *d.Weight
}

type HeartbeatConfig struct {
	Sql      string        `mapstructure:"sql"`
	Interval time.Duration `mapstructure:"interval"`
}

// ClusterConfig a cluster over datasources listed by name
type ClusterConfig struct {
	Name         string       `mapstructure:"name"`
	Default      bool         `mapstructure:"default"`
	ReadNodes    []string     `mapstructure:"read_nodes"`
	WriteNodes   []string     `mapstructure:"write_nodes"`
	ReadBalance  string       `mapstructure:"read_balance"`
	WriteBalance string       `mapstructure:"write_balance"`
	Rules        []RuleConfig `mapstructure:"rules"`
}

// RuleConfig expression rule installed in a cluster's route group
type RuleConfig struct {
	Priority   int    `mapstructure:"priority"`
	Expression string `mapstructure:"expression"`
	Node       string `mapstructure:"node"`
}

// LoadConfig loads configuration from a yaml file and DBROUTER_* environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("dbrouter")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dbrouter")
	}

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.slow_threshold", 200*time.Millisecond)

	// Router defaults
	v.SetDefault("router.fail_policy", "warn")
	v.SetDefault("router.trace", false)
	v.SetDefault("router.heartbeat_tick", time.Second)
	v.SetDefault("router.max_failures", 3)
}

// Validate checks names and references and fills per-datasource defaults.
func Validate(cfg *Config) error {
	names := make(map[string]bool, len(cfg.DataSources))
	defaults := 0
	for i := range cfg.DataSources {
		ds := &cfg.DataSources[i]
		if ds.Name == "" {
			if ds.Default {
				ds.Name = DefaultDatabaseName
			} else {
				return errors.Errorf("datasources[%d].name is required", i)
			}
		}
		if names[ds.Name] {
			return errors.Errorf("datasource %s is declared twice", ds.Name)
		}
		names[ds.Name] = true
		if ds.DSN == "" {
			return errors.Errorf("datasource %s: dsn is required", ds.Name)
		}
		switch strings.ToLower(ds.DBType) {
		case "mysql", "postgres":
		case "":
			ds.DBType = "mysql"
		default:
			return errors.Errorf("datasource %s: unsupported db_type %q", ds.Name, ds.DBType)
		}
		if ds.Weight == nil {
			w := defaultWeight
			ds.Weight = &w
		} else if *ds.Weight < 0 {
			return errors.Errorf("datasource %s: weight must not be negative", ds.Name)
		}
		if ds.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("at most one datasource may be the default")
	}

	clusters := make(map[string]bool, len(cfg.Clusters))
	defaults = 0
	for i, c := range cfg.Clusters {
		if c.Name == "" {
			return errors.Errorf("clusters[%d].name is required", i)
		}
		if clusters[c.Name] {
			return errors.Errorf("cluster %s is declared twice", c.Name)
		}
		clusters[c.Name] = true
		if len(c.ReadNodes)+len(c.WriteNodes) == 0 {
			return errors.Errorf("cluster %s has no nodes", c.Name)
		}
		members := make(map[string]bool, len(c.ReadNodes)+len(c.WriteNodes))
		for _, n := range append(append([]string{}, c.ReadNodes...), c.WriteNodes...) {
			if !names[n] {
				return errors.Errorf("cluster %s: unknown datasource %s", c.Name, n)
			}
			members[n] = true
		}
		// rules only see the nodes of their own cluster
		for _, r := range c.Rules {
			if !members[r.Node] {
				return errors.Errorf("cluster %s: rule targets %s which is not a member", c.Name, r.Node)
			}
		}
		if c.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return errors.New("at most one cluster may be the default")
	}
	return nil
}
