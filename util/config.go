package util

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const Name = "mazine"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

// AppConfig is the full instance configuration, threaded explicitly
// through constructors. Federation tuning knobs all live here so that
// worker behavior is reproducible in tests.
type AppConfig struct {
	Conf struct {
		Host     string `yaml:"host" env:"MAZINE_HOST"`
		HttpPort int    `yaml:"httpPort" env:"MAZINE_HTTPPORT"`
		// Domain is the public instance domain used in every actor,
		// object and activity URI.
		Domain string `yaml:"domain" env:"MAZINE_DOMAIN"`
		WithAp bool   `yaml:"withAp" env:"MAZINE_WITH_AP"`

		// ActorFreshness is how long a cached remote actor is served
		// without a refresh attempt.
		ActorFreshness time.Duration `yaml:"actorFreshness" env:"MAZINE_ACTOR_FRESHNESS"`
		// ResolveLockTTL bounds the per-profile-URL refresh lock.
		ResolveLockTTL time.Duration `yaml:"resolveLockTTL" env:"MAZINE_RESOLVE_LOCK_TTL"`
		// MaxDeliveryAttempts is the retry bound before a delivery job
		// is dead-lettered.
		MaxDeliveryAttempts int `yaml:"maxDeliveryAttempts" env:"MAZINE_MAX_DELIVERY_ATTEMPTS"`
		// MaxResolveDepth bounds recursive resolution of referenced
		// object graphs (reply parents, announce targets).
		MaxResolveDepth int `yaml:"maxResolveDepth" env:"MAZINE_MAX_RESOLVE_DEPTH"`

		DbPath string `yaml:"dbPath" env:"MAZINE_DB_PATH"`
	} `yaml:"conf"`
}

// ReadConf loads config.yaml (falling back to the embedded defaults)
// and applies MAZINE_* environment overrides on top.
func ReadConf() (*AppConfig, error) {
	c := &AppConfig{}

	buf, err := os.ReadFile(ConfigFileName)
	if err != nil {
		buf = embeddedConfig
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err := env.Parse(&c.Conf); err != nil {
		return nil, fmt.Errorf("in environment: %w", err)
	}

	applyDefaults(c)
	return c, nil
}

// DefaultConf returns a config with only the embedded defaults applied.
// Used by tests that need a valid config without touching the filesystem.
func DefaultConf() *AppConfig {
	c := &AppConfig{}
	yaml.Unmarshal(embeddedConfig, c)
	applyDefaults(c)
	return c
}

func applyDefaults(c *AppConfig) {
	if c.Conf.ActorFreshness == 0 {
		c.Conf.ActorFreshness = time.Hour
	}
	if c.Conf.ResolveLockTTL == 0 {
		c.Conf.ResolveLockTTL = 60 * time.Second
	}
	if c.Conf.MaxDeliveryAttempts == 0 {
		c.Conf.MaxDeliveryAttempts = 10
	}
	if c.Conf.MaxResolveDepth == 0 {
		c.Conf.MaxResolveDepth = 5
	}
	if c.Conf.DbPath == "" {
		c.Conf.DbPath = "database.db"
	}
}
