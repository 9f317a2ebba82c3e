package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/84hero/burn-notifier/internal/telegram"
	"github.com/84hero/burn-notifier/pkg/chain"
	"github.com/84hero/burn-notifier/pkg/price"
	"github.com/84hero/burn-notifier/pkg/rpc"
)

// EnvPrefix is prepended to every environment override, e.g. BURNBOT_TELEGRAM_TOKEN.
const EnvPrefix = "BURNBOT"

// DefaultBurnAddress is the conventional dead address tokens are sent to.
const DefaultBurnAddress = "0x000000000000000000000000000000000000dEaD"

type Config struct {
	Project  string           `mapstructure:"project"`
	Log      LogConfig        `mapstructure:"log"`
	Server   ServerConfig     `mapstructure:"server"`
	Chain    ChainConfig      `mapstructure:"chain"`
	Token    TokenConfig      `mapstructure:"token"`
	RPC      []rpc.NodeConfig `mapstructure:"rpc_nodes"`
	Price    price.Config     `mapstructure:"price"`
	Telegram telegram.Config  `mapstructure:"telegram"`
	Notify   NotifyConfig     `mapstructure:"notify"`
	Dedup    DedupConfig      `mapstructure:"dedup"`
	Enrich   EnrichConfig     `mapstructure:"enrich"`
	Outputs  OutputsConfig    `mapstructure:"outputs"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// WebhookSecret enables HMAC verification of inbound batches when set.
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type ChainConfig struct {
	Preset      string `mapstructure:"preset"` // eth-mainnet, bsc-mainnet, ...
	ExplorerURL string `mapstructure:"explorer_url"`
}

type TokenConfig struct {
	Contract    string `mapstructure:"contract"`
	BurnAddress string `mapstructure:"burn_address"`
	Symbol      string `mapstructure:"symbol"`
}

type NotifyConfig struct {
	Title  string `mapstructure:"title"`
	Media  string `mapstructure:"media"` // Local path or URL of the alert image
	Footer string `mapstructure:"footer"`
}

type DedupConfig struct {
	Capacity int `mapstructure:"capacity"`
}

type EnrichConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// --- Outputs ---

type OutputsConfig struct {
	Webhook  WebhookOutputConfig  `mapstructure:"webhook"`
	File     FileOutputConfig     `mapstructure:"file"`
	Console  ConsoleOutputConfig  `mapstructure:"console"`
	Postgres PostgresOutputConfig `mapstructure:"postgres"`
	Redis    RedisOutputConfig    `mapstructure:"redis"`
	Kafka    KafkaOutputConfig    `mapstructure:"kafka"`
	RabbitMQ RabbitMQOutputConfig `mapstructure:"rabbitmq"`
}

type WebhookOutputConfig struct {
	Enabled    bool        `mapstructure:"enabled"`
	URL        string      `mapstructure:"url"`
	Secret     string      `mapstructure:"secret"`
	Retry      RetryConfig `mapstructure:"retry"`
	Async      bool        `mapstructure:"async"`
	BufferSize int         `mapstructure:"buffer_size"`
	Workers    int         `mapstructure:"workers"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type FileOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type ConsoleOutputConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type PostgresOutputConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Table   string `mapstructure:"table"`
}

type RedisOutputConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
	Mode     string `mapstructure:"mode"` // list, pubsub
}

type KafkaOutputConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	User     string   `mapstructure:"user"`
	Password string   `mapstructure:"password"`
}

type RabbitMQOutputConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Exchange   string `mapstructure:"exchange"`
	RoutingKey string `mapstructure:"routing_key"`
	QueueName  string `mapstructure:"queue_name"`
	Durable    bool   `mapstructure:"durable"`
}

// Secrets usually arrive through the environment, so they must be known to
// viper even when the file omits them.
var envOnlyKeys = []string{
	"telegram.token",
	"telegram.chat_id",
	"server.webhook_secret",
	"price.api_key",
	"token.contract",
}

// Load reads the YAML file at path, applies environment overrides and,
// when flags is non-nil, any flags that were set on the command line.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envOnlyKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Project == "" {
		c.Project = "burn-notifier"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Chain.Preset == "" {
		c.Chain.Preset = "eth-mainnet"
	}
	if preset, ok := chain.Get(c.Chain.Preset); ok {
		if c.Chain.ExplorerURL == "" {
			c.Chain.ExplorerURL = preset.ExplorerURL
		}
		if c.Price.Platform == "" {
			c.Price.Platform = preset.PricePlatform
		}
		if len(c.RPC) == 0 && preset.Endpoint != "" {
			c.RPC = []rpc.NodeConfig{{URL: preset.Endpoint, Priority: 1}}
		}
	}
	if c.Token.BurnAddress == "" {
		c.Token.BurnAddress = DefaultBurnAddress
	}
	if c.Dedup.Capacity <= 0 {
		c.Dedup.Capacity = 1000
	}
	if c.Enrich.Timeout <= 0 {
		c.Enrich.Timeout = 10 * time.Second
	}
}

// Validate reports the first setting that prevents the service from starting.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required")
	}
	if !common.IsHexAddress(c.Token.Contract) {
		return fmt.Errorf("token.contract %q is not a valid address", c.Token.Contract)
	}
	if !common.IsHexAddress(c.Token.BurnAddress) {
		return fmt.Errorf("token.burn_address %q is not a valid address", c.Token.BurnAddress)
	}
	if len(c.RPC) == 0 {
		return fmt.Errorf("at least one rpc_nodes entry is required")
	}
	for i, n := range c.RPC {
		if n.URL == "" {
			return fmt.Errorf("rpc_nodes[%d].url is empty", i)
		}
	}
	return nil
}
