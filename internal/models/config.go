package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type CloudStorageConfig struct {
	Provider   string `mapstructure:"provider"`
	BucketName string `mapstructure:"bucket_name"`
	Region     string `mapstructure:"region"`
}

type Config struct {
	Profile    string `mapstructure:"profile"`
	CustomerID string `mapstructure:"customer_id"`

	APIBaseURL     string        `mapstructure:"api_base_url"`
	APIToken       string        `mapstructure:"api_token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryMax       int           `mapstructure:"retry_max"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`

	TaxRate                  float64       `mapstructure:"tax_rate"`
	DeliveryFee              float64       `mapstructure:"delivery_fee"`
	LoyaltyDivisor           float64       `mapstructure:"loyalty_divisor"`
	CashbackRate             float64       `mapstructure:"cashback_rate"`
	EstimatedDeliveryMinutes int           `mapstructure:"estimated_delivery_minutes"`
	DefaultPrepMinutes       int           `mapstructure:"default_prep_minutes"`
	DeliveryAllowanceMinutes int           `mapstructure:"delivery_allowance_minutes"`
	TrackerRefreshInterval   time.Duration `mapstructure:"tracker_refresh_interval"`

	StorageDriver string `mapstructure:"storage_driver"` // file, redis, postgres or sqlite
	StoragePath   string `mapstructure:"storage_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`

	PushTransport         string `mapstructure:"push_transport"` // memory, sarama or confluent
	KafkaBrokerList       string `mapstructure:"kafka_broker_list"`
	KafkaSecurityProtocol string `mapstructure:"kafka_security_protocol"`
	KafkaSaslMechanism    string `mapstructure:"kafka_sasl_mechanism"`
	KafkaSaslUsername     string `mapstructure:"kafka_sasl_username"`
	KafkaSaslPassword     string `mapstructure:"kafka_sasl_password"`
	SessionTimeoutMs      int    `mapstructure:"session_timeout_ms"`
	PushJoinTopic         string `mapstructure:"push_join_topic"`
	PushStatusTopic       string `mapstructure:"push_status_topic"`

	OutputFormat      string             `mapstructure:"output_format"` // none, console, json, csv, parquet, kafka, confluent or postgres
	OutputDestination string             `mapstructure:"output_destination"`
	OutputPath        string             `mapstructure:"output_path"`
	OutputFolder      string             `mapstructure:"output_folder"`
	CloudStorage      CloudStorageConfig `mapstructure:"cloud_storage"`

	MenuSeed        int64 `mapstructure:"menu_seed"`
	MenuRestaurants int   `mapstructure:"menu_restaurants"`
	MenuItems       int   `mapstructure:"menu_items"`

	StubAddr            string        `mapstructure:"stub_addr"`
	StubDeclinedMethods []string      `mapstructure:"stub_declined_methods"`
	StubStepInterval    time.Duration `mapstructure:"stub_step_interval"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

var defaults = map[string]interface{}{
	"profile":                    "default",
	"api_base_url":               "http://localhost:8088",
	"request_timeout":            "10s",
	"retry_max":                  3,
	"retry_backoff":              "200ms",
	"tax_rate":                   0.05,
	"delivery_fee":               40.0,
	"loyalty_divisor":            10.0,
	"cashback_rate":              0.02,
	"estimated_delivery_minutes": 45,
	"default_prep_minutes":       15,
	"delivery_allowance_minutes": 10,
	"tracker_refresh_interval":   "1m",
	"storage_driver":             "file",
	"storage_path":               ".foodcart",
	"redis_addr":                 "localhost:6379",
	"push_transport":             "memory",
	"kafka_broker_list":          "localhost:9092",
	"session_timeout_ms":         45000,
	"push_join_topic":            "order_joins",
	"push_status_topic":          "order_status",
	"output_format":              "none",
	"output_destination":         "local",
	"output_path":                ".foodcart",
	"output_folder":              "archive",
	"menu_seed":                  42,
	"menu_restaurants":           3,
	"menu_items":                 8,
	"stub_addr":                  ":8088",
	"stub_step_interval":         "20s",
	"log_level":                  "info",
	"log_format":                 "console",
}

// SetDefaults registers every known key so AutomaticEnv can resolve it
// during Unmarshal.
func SetDefaults(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetDefault("customer_id", "")
	v.SetDefault("api_token", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("kafka_security_protocol", "")
	v.SetDefault("kafka_sasl_mechanism", "")
	v.SetDefault("kafka_sasl_username", "")
	v.SetDefault("kafka_sasl_password", "")
	v.SetDefault("cloud_storage.provider", "")
	v.SetDefault("cloud_storage.bucket_name", "")
	v.SetDefault("cloud_storage.region", "")
	v.SetDefault("stub_declined_methods", []string{})
}

// LoadConfig initializes and reads the configuration using Viper. A missing
// default config file is fine; an explicit one must exist.
func LoadConfig(cfgFile string) (*Config, error) {
	return LoadConfigWith(viper.GetViper(), cfgFile)
}

func LoadConfigWith(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("foodcart")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("FOODCART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	decoderConfigOption := viper.DecoderConfigOption(func(config *mapstructure.DecoderConfig) {
		config.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			config.DecodeHook,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		)
	})
	if err := v.Unmarshal(&config, decoderConfigOption); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (cfg *Config) Validate() error {
	switch cfg.StorageDriver {
	case "file", "redis", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported storage driver: %s", cfg.StorageDriver)
	}
	switch cfg.PushTransport {
	case "memory", "sarama", "confluent":
	default:
		return fmt.Errorf("unsupported push transport: %s", cfg.PushTransport)
	}
	switch cfg.OutputFormat {
	case "none", "console", "json", "csv", "parquet", "kafka", "confluent", "postgres":
	default:
		return fmt.Errorf("unsupported output format: %s", cfg.OutputFormat)
	}
	if (cfg.StorageDriver == "postgres" || cfg.OutputFormat == "postgres") && cfg.PostgresDSN == "" {
		return errors.New("postgres_dsn is required when storage or output is postgres")
	}
	if cfg.TaxRate < 0 || cfg.CashbackRate < 0 || cfg.DeliveryFee < 0 {
		return errors.New("pricing rates must not be negative")
	}
	if cfg.LoyaltyDivisor <= 0 {
		return errors.New("loyalty_divisor must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	return nil
}
