// Package config loads the service configuration from defaults, an optional
// file and FISCAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/opensource-finance/fiscal/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. FISCAL_REPOSITORY_DRIVER.
const EnvPrefix = "FISCAL"

// Load builds the configuration. The tier (file key "tier" or FISCAL_TIER)
// picks the base defaults; the file and the environment override them.
// An empty path searches ./fiscal.{yaml,toml,json} and /etc/fiscal/.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("fiscal")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fiscal")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Tier = domain.Tier(strings.ToLower(string(cfg.Tier)))

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		errs = append(errs, fmt.Errorf("unknown tier %q", cfg.Tier))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository.driver %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache.type %q", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported eventbus.type %q", cfg.EventBus.Type))
	}
	if cfg.Classification.BatchWorkers <= 0 {
		errs = append(errs, fmt.Errorf("classification.batchworkers must be positive"))
	}
	if limit, err := decimal.NewFromString(cfg.Compliance.CashPaymentLimit); err != nil {
		errs = append(errs, fmt.Errorf("compliance.cashpaymentlimit: %w", err))
	} else if limit.IsNegative() {
		errs = append(errs, fmt.Errorf("compliance.cashpaymentlimit must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// setDefaults registers every key so that AutomaticEnv can override it.
func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("tier", string(c.Tier))

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.readtimeout", c.Server.ReadTimeout)
	v.SetDefault("server.writetimeout", c.Server.WriteTimeout)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlitepath", c.Repository.SQLitePath)
	v.SetDefault("repository.postgreshost", c.Repository.PostgresHost)
	v.SetDefault("repository.postgresport", c.Repository.PostgresPort)
	v.SetDefault("repository.postgresuser", c.Repository.PostgresUser)
	v.SetDefault("repository.postgrespassword", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgresdb", c.Repository.PostgresDB)
	v.SetDefault("repository.postgressslmode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.maxopenconns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.maxidleconns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.connmaxlifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.localmaxsize", c.Cache.LocalMaxSize)
	v.SetDefault("cache.localttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redisaddr", c.Cache.RedisAddr)
	v.SetDefault("cache.redispassword", c.Cache.RedisPassword)
	v.SetDefault("cache.redisdb", c.Cache.RedisDB)
	v.SetDefault("cache.enabletwophase", c.Cache.EnableTwoPhase)
	v.SetDefault("cache.rulesetttl", c.Cache.RuleSetTTL)

	v.SetDefault("eventbus.type", c.EventBus.Type)
	v.SetDefault("eventbus.channelbuffersize", c.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.natsurl", c.EventBus.NATSUrl)
	v.SetDefault("eventbus.natstoken", c.EventBus.NATSToken)
	v.SetDefault("eventbus.natsmaxreconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.natsreconnectwait", c.EventBus.NATSReconnectWait)
	v.SetDefault("eventbus.natsqueuegroup", c.EventBus.NATSQueueGroup)

	v.SetDefault("classification.async", c.Classification.Async)
	v.SetDefault("classification.batchworkers", c.Classification.BatchWorkers)
	v.SetDefault("classification.batchmaxsize", c.Classification.BatchMaxSize)
	v.SetDefault("classification.workers", c.Classification.Workers)

	v.SetDefault("compliance.cashpaymentlimit", c.Compliance.CashPaymentLimit)
	v.SetDefault("compliance.currency", c.Compliance.Currency)
	v.SetDefault("compliance.fuelkeywords", c.Compliance.FuelKeywords)
	v.SetDefault("compliance.electronicpaymentmethods", c.Compliance.ElectronicPaymentMethods)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.servicename", c.Tracing.ServiceName)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.path", c.Metrics.Path)
}
