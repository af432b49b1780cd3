package config

import (
	"errors"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type HTTPConfig struct {
	Address string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	Timeout time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"5s"`
}

type DBConfig struct {
	// Driver is "sqlite" for single-node deployments or "postgres" when
	// several relay instances share one ledger.
	Driver  string `yaml:"driver" env:"DB_DRIVER" env-default:"sqlite"`
	Address string `yaml:"address" env:"DB_ADDRESS" env-default:"relay.db"`
}

type LineConfig struct {
	ChannelSecret string `yaml:"channel_secret" env:"LINE_CHANNEL_SECRET"`
	ChannelToken  string `yaml:"channel_token" env:"LINE_CHANNEL_ACCESS_TOKEN" env-required:"true"`
	WebhookPath   string `yaml:"webhook_path" env:"LINE_WEBHOOK_PATH" env-default:"/callback"`
	APIBase       string `yaml:"api_base" env:"LINE_API_BASE" env-default:"https://api.line.me/v2/bot"`
}

type TrelloConfig struct {
	APIKey  string `yaml:"api_key" env:"TRELLO_API_KEY" env-required:"true"`
	Token   string `yaml:"token" env:"TRELLO_TOKEN" env-required:"true"`
	BoardID string `yaml:"board_id" env:"TRELLO_BOARD_ID" env-required:"true"`
	ListID  string `yaml:"list_id" env:"TRELLO_LIST_ID" env-required:"true"`
	BaseURL string `yaml:"base_url" env:"TRELLO_BASE_URL" env-default:"https://api.trello.com"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY" env-required:"true"`
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL" env-default:"https://api.openai.com/v1"`
	Model   string `yaml:"model" env:"OPENAI_MODEL" env-default:"gpt-3.5-turbo"`
}

type RelayConfig struct {
	BindKeywords   []string      `yaml:"bind_keywords" env:"BIND_KEYWORDS" env-default:"bind,綁定"`
	StatusKeywords []string      `yaml:"status_keywords" env:"STATUS_KEYWORDS" env-default:"status,progress,狀態,進度"`
	AccountPattern string        `yaml:"account_pattern" env:"ACCOUNT_PATTERN" env-default:"^trello@[A-Za-z0-9_]{3,64}$"`
	HandleTimeout  time.Duration `yaml:"handle_timeout" env:"HANDLE_TIMEOUT" env-default:"30s"`
}

type ScannerConfig struct {
	Interval  time.Duration `yaml:"interval" env:"SCAN_INTERVAL" env-default:"30m"`
	Horizon   time.Duration `yaml:"horizon" env:"ALERT_HORIZON" env-default:"24h"`
	Grace     time.Duration `yaml:"grace" env:"ALERT_GRACE" env-default:"1h"`
	Retention time.Duration `yaml:"retention" env:"LEDGER_RETENTION" env-default:"240h"`
}

type Config struct {
	LogLevel string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"DEBUG"`
	HTTP     HTTPConfig    `yaml:"http_server"`
	DB       DBConfig      `yaml:"db"`
	Line     LineConfig    `yaml:"line"`
	Trello   TrelloConfig  `yaml:"trello"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
	Relay    RelayConfig   `yaml:"relay"`
	Scanner  ScannerConfig `yaml:"scanner"`
}

func MustLoad(configPath string) Config {
	var cfg Config

	// empty path means env only
	if configPath == "" {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			log.Fatalf("cannot read env: %s", err)
		}
		return cfg
	}

	// try the file first, fall back to env when it does not exist
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		var pe *os.PathError
		if errors.As(err, &pe) {
			if err := cleanenv.ReadEnv(&cfg); err != nil {
				log.Fatalf("cannot read env: %s", err)
			}
			return cfg
		}
		log.Fatalf("cannot read config %q: %s", configPath, err)
	}

	return cfg
}
