package domain

import "time"

// Config holds the complete Fiscal configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"eventbus"`

	// Classification pipeline
	Classification ClassificationConfig `json:"classification" mapstructure:"classification"`
	Compliance     ComplianceConfig     `json:"compliance" mapstructure:"compliance"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"readtimeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"writetimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"servicename"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// ClassificationConfig controls how transactions are classified.
type ClassificationConfig struct {
	// Async publishes ingested transactions to the bus instead of
	// classifying them inside the request.
	Async bool `json:"async" mapstructure:"async"`

	// BatchWorkers bounds concurrent evaluations in a batch.
	BatchWorkers int `json:"batchWorkers" mapstructure:"batchworkers"`

	// BatchMaxSize caps the number of transactions per batch request.
	BatchMaxSize int `json:"batchMaxSize" mapstructure:"batchmaxsize"`

	// Workers bounds concurrent classifications of queued transactions.
	Workers int `json:"workers" mapstructure:"workers"`
}

// ComplianceConfig holds the constants used by the default compliance checks.
type ComplianceConfig struct {
	// CashPaymentLimit is the largest deductible cash payment, in Currency.
	CashPaymentLimit string `json:"cashPaymentLimit" mapstructure:"cashpaymentlimit"`
	Currency         string `json:"currency" mapstructure:"currency"`

	// FuelKeywords identify fuel purchases, which may never be paid in cash.
	FuelKeywords []string `json:"fuelKeywords" mapstructure:"fuelkeywords"`

	// ElectronicPaymentMethods are the SAT payment codes accepted above the cash limit.
	ElectronicPaymentMethods []string `json:"electronicPaymentMethods" mapstructure:"electronicpaymentmethods"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-memory cache and channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultComplianceConfig returns the SAT defaults: 2,000 MXN cash limit.
func DefaultComplianceConfig() ComplianceConfig {
	electronic := []string{
		PaymentCheck, PaymentTransfer, PaymentCreditCard,
		PaymentDebitCard, PaymentServiceCard,
	}
	return ComplianceConfig{
		CashPaymentLimit:         "2000",
		Currency:                 "MXN",
		FuelKeywords:             []string{"gasolina", "diesel", "combustible", "gasolinera", "pemex"},
		ElectronicPaymentMethods: electronic,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./fiscal.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			RuleSetTTL:   time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Classification: ClassificationConfig{
			BatchWorkers: 8,
			BatchMaxSize: 1000,
			Workers:      4,
		},
		Compliance: DefaultComplianceConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fiscal",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "fiscal",
		PostgresSSLMode: "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
		RuleSetTTL:     5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "fiscal-workers",
	}
	cfg.Classification.Async = true
	cfg.Classification.BatchWorkers = 32
	cfg.Classification.Workers = 16
	cfg.Tracing.Enabled = true
	return cfg
}
