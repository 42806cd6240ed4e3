// Package config loads the Kestrel configuration from defaults, an optional
// config file and KESTREL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix is the prefix of every environment override, e.g.
// KESTREL_SERVER_PORT for server.port.
const EnvPrefix = "KESTREL"

// Load builds the configuration. The tier (KESTREL_TIER or "tier" in the file)
// picks the defaults; file values and then environment variables override
// them. An empty path skips the file.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("tier", string(domain.TierCommunity))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg *domain.Config
	switch tier := domain.Tier(strings.ToLower(v.GetString("tier"))); tier {
	case domain.TierCommunity:
		cfg = domain.DefaultConfig()
	case domain.TierPro:
		cfg = domain.ProConfig()
	default:
		return nil, fmt.Errorf("unknown tier %q", tier)
	}

	fields := bind(cfg)
	for _, f := range fields {
		f.setDefault(v)
	}
	for _, f := range fields {
		f.load(v)
	}

	if v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Lending.MaxRandomDraws < 0 {
		errs = append(errs, errors.New("lending.max_random_draws must not be negative"))
	}
	if cfg.Lending.MaxInsertAttempts <= 0 {
		errs = append(errs, errors.New("lending.max_insert_attempts must be positive"))
	}
	if cfg.Lending.PaymentRetries < 0 {
		errs = append(errs, errors.New("lending.payment_retries must not be negative"))
	}
	if cfg.RateLimit.Requests > 0 && cfg.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive when rate limiting is on"))
	}
	return errors.Join(errs...)
}

type field struct {
	setDefault func(*viper.Viper)
	load       func(*viper.Viper)
}

func stringField(key string, p *string) field {
	return field{
		setDefault: func(v *viper.Viper) { v.SetDefault(key, *p) },
		load:       func(v *viper.Viper) { *p = v.GetString(key) },
	}
}

func intField(key string, p *int) field {
	return field{
		setDefault: func(v *viper.Viper) { v.SetDefault(key, *p) },
		load:       func(v *viper.Viper) { *p = v.GetInt(key) },
	}
}

func boolField(key string, p *bool) field {
	return field{
		setDefault: func(v *viper.Viper) { v.SetDefault(key, *p) },
		load:       func(v *viper.Viper) { *p = v.GetBool(key) },
	}
}

func durationField(key string, p *time.Duration) field {
	return field{
		setDefault: func(v *viper.Viper) { v.SetDefault(key, *p) },
		load:       func(v *viper.Viper) { *p = v.GetDuration(key) },
	}
}

// listField accepts a YAML list or a comma separated string from the
// environment.
func listField(key string, p *[]string) field {
	return field{
		setDefault: func(v *viper.Viper) { v.SetDefault(key, *p) },
		load: func(v *viper.Viper) {
			var out []string
			for _, item := range v.GetStringSlice(key) {
				for _, part := range strings.Split(item, ",") {
					if part = strings.TrimSpace(part); part != "" {
						out = append(out, part)
					}
				}
			}
			*p = out
		},
	}
}

func bind(cfg *domain.Config) []field {
	s, r, c, b := &cfg.Server, &cfg.Repository, &cfg.Cache, &cfg.EventBus
	l := &cfg.Lending

	return []field{
		stringField("server.host", &s.Host),
		intField("server.port", &s.Port),
		intField("server.read_timeout", &s.ReadTimeout),
		intField("server.write_timeout", &s.WriteTimeout),

		stringField("repository.driver", &r.Driver),
		stringField("repository.sqlite_path", &r.SQLitePath),
		stringField("repository.postgres_host", &r.PostgresHost),
		intField("repository.postgres_port", &r.PostgresPort),
		stringField("repository.postgres_user", &r.PostgresUser),
		stringField("repository.postgres_password", &r.PostgresPassword),
		stringField("repository.postgres_db", &r.PostgresDB),
		stringField("repository.postgres_sslmode", &r.PostgresSSLMode),
		intField("repository.max_open_conns", &r.MaxOpenConns),
		intField("repository.max_idle_conns", &r.MaxIdleConns),
		durationField("repository.conn_max_lifetime", &r.ConnMaxLifetime),

		stringField("cache.type", &c.Type),
		intField("cache.local_max_size", &c.LocalMaxSize),
		durationField("cache.local_ttl", &c.LocalTTL),
		stringField("cache.redis_addr", &c.RedisAddr),
		stringField("cache.redis_password", &c.RedisPassword),
		intField("cache.redis_db", &c.RedisDB),
		boolField("cache.two_phase", &c.EnableTwoPhase),

		stringField("eventbus.type", &b.Type),
		intField("eventbus.channel_buffer_size", &b.ChannelBufferSize),
		stringField("eventbus.nats_url", &b.NATSUrl),
		stringField("eventbus.nats_token", &b.NATSToken),
		intField("eventbus.nats_max_reconnects", &b.NATSMaxReconnects),
		intField("eventbus.nats_reconnect_wait", &b.NATSReconnectWait),
		stringField("eventbus.nats_queue_group", &b.NATSQueueGroup),
		listField("eventbus.kafka_brokers", &b.KafkaBrokers),
		stringField("eventbus.kafka_consumer_group", &b.KafkaConsumerGroup),

		intField("lending.max_random_draws", &l.MaxRandomDraws),
		intField("lending.max_insert_attempts", &l.MaxInsertAttempts),
		intField("lending.payment_retries", &l.PaymentRetries),
		durationField("lending.statement_ttl", &l.StatementTTL),
		durationField("lending.customer_ttl", &l.CustomerTTL),

		intField("rate_limit.requests", &cfg.RateLimit.Requests),
		durationField("rate_limit.window", &cfg.RateLimit.Window),

		stringField("logging.level", &cfg.Logging.Level),
		stringField("logging.format", &cfg.Logging.Format),
		boolField("tracing.enabled", &cfg.Tracing.Enabled),
		stringField("tracing.service_name", &cfg.Tracing.ServiceName),
	}
}
