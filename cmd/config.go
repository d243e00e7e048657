package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	pcap "github.com/packetcap/go-sniff"
)

// Config effective settings of one sniff invocation. Flags override SNIFF_*
// environment variables, which override the --config file.
type Config struct {
	Interface       string        `mapstructure:"interface" yaml:"interface"`
	Read            string        `mapstructure:"read" yaml:"read"`
	Filter          string        `mapstructure:"filter" yaml:"filter"`
	Snaplen         int           `mapstructure:"snaplen" yaml:"snaplen"`
	Promisc         bool          `mapstructure:"promisc" yaml:"promisc"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Duration        time.Duration `mapstructure:"duration" yaml:"duration"`
	Count           int           `mapstructure:"count" yaml:"count"`
	VerifyChecksums bool          `mapstructure:"verify_checksums" yaml:"verify_checksums"`
	Dump            bool          `mapstructure:"dump" yaml:"dump"`
	DumpFilter      bool          `mapstructure:"dump_filter" yaml:"dump_filter"`
	MetricsAddr     string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Log             LogConfig     `mapstructure:"log" yaml:"log"`
}

type LogConfig struct {
	Debug      bool   `mapstructure:"debug" yaml:"debug"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`       // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"` // number of backups
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`         // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// flagKeys config key of every flag whose name differs from its key
var flagKeys = map[string]string{
	"verify-checksums": "verify_checksums",
	"dump-filter":      "dump_filter",
	"metrics-addr":     "metrics_addr",
	"debug":            "log.debug",
	"log-file":         "log.file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("snaplen", int(pcap.DefaultSnaplen))
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
}

// newViper binds flags to their config keys and SNIFF_ environment variables.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("sniff")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		key, ok := flagKeys[f.Name]
		if !ok {
			key = f.Name
		}
		if berr := v.BindPFlag(key, f); berr != nil {
			err = errors.Join(err, berr)
		}
	})
	return v, err
}

// loadConfig reads the optional config file, then resolves every setting.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (cfg *Config) Validate() error {
	if cfg.Interface != "" && cfg.Read != "" {
		return errors.New("interface and read are mutually exclusive")
	}
	if cfg.Snaplen <= 0 || cfg.Snaplen > int(pcap.MaxSnaplen) {
		return fmt.Errorf("invalid snaplen %d, must be in 1..%d", cfg.Snaplen, pcap.MaxSnaplen)
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("invalid timeout %v", cfg.Timeout)
	}
	if cfg.Duration < 0 {
		return fmt.Errorf("invalid duration %v", cfg.Duration)
	}
	if cfg.Count < 0 {
		return fmt.Errorf("invalid count %d", cfg.Count)
	}
	return nil
}
