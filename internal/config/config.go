package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppCfg struct {
	Name        string `mapstructure:"name"`
	Port        string `mapstructure:"port"`
	Development bool   `mapstructure:"development"`
}

type ServerCfg struct {
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

type MongoCfg struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type JWTCfg struct {
	Secret     string `mapstructure:"secret"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

type WSCfg struct {
	SendBuffer    int `mapstructure:"send_buffer"`
	RatePerSecond int `mapstructure:"rate_per_second"`
}

type Config struct {
	App    AppCfg    `mapstructure:"app"`
	Server ServerCfg `mapstructure:"server"`
	Mongo  MongoCfg  `mapstructure:"mongo"`
	Redis  RedisCfg  `mapstructure:"redis"`
	JWT    JWTCfg    `mapstructure:"jwt"`
	WS     WSCfg     `mapstructure:"ws"`
	// Derived
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTTTL       time.Duration
}

// Load reads configuration from the given file (optional) with APP_*
// environment variables taking precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	v.SetDefault("app.name", "chatserver")
	v.SetDefault("app.port", "8080")
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 15)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "chatapp")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("jwt.secret", "secret123")
	v.SetDefault("jwt.ttl_minutes", 24*60)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.rate_per_second", 20)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	cfg.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	cfg.JWTTTL = time.Duration(cfg.JWT.TTLMinutes) * time.Minute
	return &cfg, nil
}
