// Package config provides a reusable loader for the runtime's configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/FreeTAKTeam/lxmf-go/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for one runtime process. It mirrors
// the structure of the YAML files under configs/.
type Config struct {
	Runtime struct {
		Profile          string `mapstructure:"profile" json:"profile"`
		IdentityFile     string `mapstructure:"identity_file" json:"identity_file"`
		PeerCacheFile    string `mapstructure:"peer_cache_file" json:"peer_cache_file"`
		OverflowPolicy   string `mapstructure:"overflow_policy" json:"overflow_policy"`
		BlockTimeoutMS   int    `mapstructure:"block_timeout_ms" json:"block_timeout_ms"`
		IdempotencyTTLMs int64  `mapstructure:"idempotency_ttl_ms" json:"idempotency_ttl_ms"`
	} `mapstructure:"runtime" json:"runtime"`

	Auth struct {
		Mode            string   `mapstructure:"mode" json:"mode"`
		BindMode        string   `mapstructure:"bind_mode" json:"bind_mode"`
		TokenSecret     string   `mapstructure:"token_secret" json:"token_secret"`
		JTICacheTTLMs   int64    `mapstructure:"jti_cache_ttl_ms" json:"jti_cache_ttl_ms"`
		AllowedSAN      string   `mapstructure:"allowed_san" json:"allowed_san"`
		TrustedProxy    bool     `mapstructure:"trusted_proxy" json:"trusted_proxy"`
		TrustedProxyIPs []string `mapstructure:"trusted_proxy_ips" json:"trusted_proxy_ips"`
	} `mapstructure:"auth" json:"auth"`

	RateLimit struct {
		PerIPPerMinute        int `mapstructure:"per_ip_per_minute" json:"per_ip_per_minute"`
		PerPrincipalPerMinute int `mapstructure:"per_principal_per_minute" json:"per_principal_per_minute"`
	} `mapstructure:"rate_limit" json:"rate_limit"`

	RPC struct {
		ListenAddr    string `mapstructure:"listen_addr" json:"listen_addr"`
		EnableWS      bool   `mapstructure:"enable_ws" json:"enable_ws"`
		MetricsAddr   string `mapstructure:"metrics_addr" json:"metrics_addr"`
	} `mapstructure:"rpc" json:"rpc"`

	Transport struct {
		Kind string `mapstructure:"kind" json:"kind"`
	} `mapstructure:"transport" json:"transport"`

	Store struct {
		Kind string `mapstructure:"kind" json:"kind"`
		Dir  string `mapstructure:"dir" json:"dir"`
	} `mapstructure:"store" json:"store"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and
// returned.
//
// The function uses the provided environment name to merge additional
// config files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("configs")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the LXMF_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("LXMF_ENV", ""))
}
