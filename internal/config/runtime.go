package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// RuntimeConfig carries tunable policy that operators can change without a
// restart: API rate limits and the verification cache window for API keys.
type RuntimeConfig struct {
	APIRatePerSecond   float64       `mapstructure:"apiRatePerSecond"`
	APIBurst           int           `mapstructure:"apiBurst"`
	KeyVerificationTTL time.Duration `mapstructure:"keyVerificationTTL"`
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		APIRatePerSecond:   25,
		APIBurst:           50,
		KeyVerificationTTL: 60 * time.Second,
	}
}

// RuntimeConfigHolder hot-reloads runtime.yml when it changes on disk.
type RuntimeConfigHolder struct {
	current atomic.Value // holds RuntimeConfig
}

func NewRuntimeConfigHolder() (*RuntimeConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("runtime")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/flowglad/config")
	v.AddConfigPath("/etc/flowglad")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FLOWGLAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultRuntimeConfig()
		v.SetDefault("runtime.apiRatePerSecond", defaults.APIRatePerSecond)
		v.SetDefault("runtime.apiBurst", defaults.APIBurst)
		v.SetDefault("runtime.keyVerificationTTL", defaults.KeyVerificationTTL)
	}

	var cfg RuntimeConfig
	if err := v.UnmarshalKey("runtime", &cfg); err != nil {
		return nil, err
	}
	if err := validateRuntimeConfig(cfg); err != nil {
		return nil, err
	}

	holder := &RuntimeConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated RuntimeConfig
		if err := v.UnmarshalKey("runtime", &updated); err != nil {
			log.Printf("[runtime-config] reload failed: %v", err)
			return
		}
		if err := validateRuntimeConfig(updated); err != nil {
			log.Printf("[runtime-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[runtime-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *RuntimeConfigHolder) Get() RuntimeConfig {
	return h.current.Load().(RuntimeConfig)
}

func validateRuntimeConfig(cfg RuntimeConfig) error {
	if cfg.APIRatePerSecond <= 0 {
		return errors.New("runtime.apiRatePerSecond must be positive")
	}
	if cfg.APIBurst <= 0 {
		return errors.New("runtime.apiBurst must be positive")
	}
	if cfg.KeyVerificationTTL < 0 {
		return errors.New("runtime.keyVerificationTTL cannot be negative")
	}
	return nil
}
