package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	TradeBox  TradeBoxConfig  `yaml:"tradebox"`
	Labels    LabelsConfig    `yaml:"labels"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	SMTP      SMTPConfig      `yaml:"smtp"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	OrderEventsTopicName string `yaml:"order_events_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TradeBoxConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	StoreMode string `yaml:"store_mode"` // "postgres" | "memory"

	OrderNumberPrefix    string `yaml:"order_number_prefix"`
	OrderCacheTTLSeconds int    `yaml:"order_cache_ttl_seconds"`
	TxMaxAttempts        int    `yaml:"tx_max_attempts"`
	// формат ulule/limiter: "30-M", "5-S"; пусто = без лимита
	SubmitRateLimit string `yaml:"submit_rate_limit"`

	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
}

type LabelsConfig struct {
	Provider           string  `yaml:"provider"` // "shipengine" | "fake"
	BaseURL            string  `yaml:"base_url"`
	APIKey             string  `yaml:"api_key"`
	ServiceCode        string  `yaml:"service_code"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	RateLimitPerMinute int64   `yaml:"rate_limit_per_minute"`
	ValidateAddress    string  `yaml:"validate_address"`
	LabelFormat        string  `yaml:"label_format"`
	LabelLayout        string  `yaml:"label_layout"`
	WeightOunces       float64 `yaml:"weight_ounces"`
	LengthInches       float64 `yaml:"length_inches"`
	WidthInches        float64 `yaml:"width_inches"`
	HeightInches       float64 `yaml:"height_inches"`
}

type WarehouseConfig struct {
	Name          string `yaml:"name"`
	CompanyName   string `yaml:"company_name"`
	Phone         string `yaml:"phone"`
	AddressLine1  string `yaml:"address_line1"`
	AddressLine2  string `yaml:"address_line2"`
	CityLocality  string `yaml:"city_locality"`
	StateProvince string `yaml:"state_province"`
	PostalCode    string `yaml:"postal_code"`
	CountryCode   string `yaml:"country_code"`
}

type SMTPConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	FromAddress           string `yaml:"from_address"`
	FromName              string `yaml:"from_name"`
	HeloName              string `yaml:"helo_name"`
	CommandTimeoutSeconds int    `yaml:"command_timeout_seconds"`
	SendTimeoutSeconds    int    `yaml:"send_timeout_seconds"`
}

// секреты можно не держать в yaml: переменные окружения перекрывают файл
var secretEnv = []struct {
	name string
	dst  func(c *Config) *string
}{
	{"DB_PASSWORD", func(c *Config) *string { return &c.Database.Password }},
	{"SHIPENGINE_API_KEY", func(c *Config) *string { return &c.Labels.APIKey }},
	{"SMTP_USERNAME", func(c *Config) *string { return &c.SMTP.Username }},
	{"SMTP_PASSWORD", func(c *Config) *string { return &c.SMTP.Password }},
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	for _, e := range secretEnv {
		if v, ok := os.LookupEnv(e.name); ok && v != "" {
			*e.dst(&config) = v
		}
	}

	return &config, nil
}

func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}
