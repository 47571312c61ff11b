// internal/config/config.go
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the dispatcher.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	APIBaseURL           string        `mapstructure:"api_base_url"`
	RepoOwner            string        `mapstructure:"repo_owner"`
	RepoName             string        `mapstructure:"repo_name"`
	Workflow             string        `mapstructure:"workflow"`
	Ref                  string        `mapstructure:"ref"`
	TokenInputKey        string        `mapstructure:"token_input_key"`
	TokenPrefix          string        `mapstructure:"token_prefix"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	PollTimeout          time.Duration `mapstructure:"poll_timeout"`
	CorrelationTolerance time.Duration `mapstructure:"correlation_tolerance"`
	ListPageSize         int           `mapstructure:"list_page_size"`
	HTTPTimeout          time.Duration `mapstructure:"http_timeout"`
	CredentialsDir       string        `mapstructure:"credentials_dir"`
	TelegramBaseURL      string        `mapstructure:"telegram_base_url"`
	TelegramChatID       string        `mapstructure:"telegram_chat_id"`
	MetricsListenAddr    string        `mapstructure:"metrics_listen_addr"`
}

// Load loads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Set default values. Keys without a meaningful default still get an
	// empty one so AutomaticEnv can bind them.
	v.SetDefault("repo_owner", "")
	v.SetDefault("repo_name", "")
	v.SetDefault("workflow", "")
	v.SetDefault("telegram_chat_id", "")
	v.SetDefault("metrics_listen_addr", "")
	v.SetDefault("api_base_url", "https://api.github.com")
	v.SetDefault("ref", "main")
	v.SetDefault("token_input_key", "correlation_id")
	v.SetDefault("token_prefix", "render")
	v.SetDefault("poll_interval", "15s")
	v.SetDefault("poll_timeout", "30m")
	v.SetDefault("correlation_tolerance", "10s")
	v.SetDefault("list_page_size", 8)
	v.SetDefault("http_timeout", "15s")
	v.SetDefault("credentials_dir", "./credentials")
	v.SetDefault("telegram_base_url", "https://api.telegram.org")

	// Set config file details
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Read environment variables
	v.AutomaticEnv()

	// Read the config file; defaults and env vars are enough when absent
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
