package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
		Insecure bool   `mapstructure:"INSECURE"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Metrics struct {
		Enable bool `mapstructure:"ENABLE"`
		Port   int  `mapstructure:"PORT"`
	} `mapstructure:"METRICS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Kafka struct {
		Addrs string `mapstructure:"ADDRS"`
		Topic string `mapstructure:"TOPIC"`
	} `mapstructure:"KAFKA"`
	AccessControl struct {
		Model  string `mapstructure:"MODEL"`
		Policy string `mapstructure:"POLICY"`
	} `mapstructure:"ACCESS_CONTROL"`
	Points struct {
		ExpiryHorizon      time.Duration `mapstructure:"EXPIRY_HORIZON"`
		ExpiringSoonWindow time.Duration `mapstructure:"EXPIRING_SOON_WINDOW"`
	} `mapstructure:"POINTS"`
	Reward struct {
		Timezone             string        `mapstructure:"TIMEZONE"`
		PendingSweepInterval time.Duration `mapstructure:"PENDING_SWEEP_INTERVAL"`
		PendingBatchSize     int           `mapstructure:"PENDING_BATCH_SIZE"`
	} `mapstructure:"REWARD"`
	Bootstrap struct {
		AutoMigrate bool   `mapstructure:"AUTO_MIGRATE"`
		Seed        bool   `mapstructure:"SEED"`
		AdminID     string `mapstructure:"ADMIN_ID"`
	} `mapstructure:"BOOTSTRAP"`
	Worker struct {
		Concurrency int `mapstructure:"CONCURRENCY"`
	} `mapstructure:"WORKER"`
	Scheduler struct {
		ExpiryHour   int `mapstructure:"EXPIRY_HOUR"`
		BirthdayHour int `mapstructure:"BIRTHDAY_HOUR"`
	} `mapstructure:"SCHEDULER"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

var defaults = map[string]any{
	"APP_ENV":                                     "development",
	"APP_NAME":                                    "feedshop-rewards",
	"APP_VERSION":                                 "dev",
	"NODE_ID":                                     1,
	"TLS.ENABLE":                                  false,
	"TLS.CERT_PATH":                               "",
	"TLS.KEY_PATH":                                "",
	"OTEL.ADDR":                                   "",
	"OTEL.PROTOCOL":                               "grpc",
	"OTEL.INSECURE":                               true,
	"PYROSCOPE.ADDR":                              "",
	"METRICS.ENABLE":                              false,
	"METRICS.PORT":                                9102,
	"HTTP_SERVER.ADDR":                            "8080",
	"HTTP_SERVER.READ_TIMEOUT":                    "15s",
	"HTTP_SERVER.WRITE_TIMEOUT":                   "15s",
	"HTTP_SERVER.IDLE_TIMEOUT":                    "60s",
	"GRPC_SERVER.ADDR":                            "9090",
	"DATABASE.TYPE":                               "sqlite",
	"DATABASE.HOST":                               "localhost",
	"DATABASE.PORT":                               "5432",
	"DATABASE.DBNAME":                             "feedshop.db",
	"DATABASE.USER":                               "",
	"DATABASE.PASSWORD":                           "",
	"DATABASE.SSLMODE":                            "disable",
	"DATABASE.TIMEZONE":                           "Asia/Seoul",
	"DATABASE.CONNECTION_POOL.MAX_IDLE_CONN":      10,
	"DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS":     50,
	"DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME":  "30m",
	"DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME": "5m",
	"REDIS.ADDR":                                  "localhost:6379",
	"REDIS.PASSWORD":                              "",
	"REDIS.DB":                                    0,
	"REDIS.POOL_SIZE":                             10,
	"REDIS.POOL_TIMEOUT":                          "4s",
	"KAFKA.ADDRS":                                 "",
	"KAFKA.TOPIC":                                 "feedshop.rewards.events",
	"ACCESS_CONTROL.MODEL":                        "",
	"ACCESS_CONTROL.POLICY":                       "",
	"POINTS.EXPIRY_HORIZON":                       "8760h",
	"POINTS.EXPIRING_SOON_WINDOW":                 "720h",
	"REWARD.TIMEZONE":                             "Asia/Seoul",
	"REWARD.PENDING_SWEEP_INTERVAL":               "10m",
	"REWARD.PENDING_BATCH_SIZE":                   500,
	"BOOTSTRAP.AUTO_MIGRATE":                      true,
	"BOOTSTRAP.SEED":                              true,
	"BOOTSTRAP.ADMIN_ID":                          "",
	"WORKER.CONCURRENCY":                          10,
	"SCHEDULER.EXPIRY_HOUR":                       1,
	"SCHEDULER.BIRTHDAY_HOUR":                     9,
}

// LoadConfig reads ./config.yaml when present and lets environment variables override it.
func LoadConfig() (*Config, error) {
	path := "."
	if v, ok := os.LookupEnv("CONFIG_PATH"); ok {
		path = v
	}
	return Load(viper.New(), path)
}

func Load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// RewardLocation is the timezone used for daily and monthly reward windows.
func (c *Config) RewardLocation() *time.Location {
	loc, err := time.LoadLocation(c.Reward.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
