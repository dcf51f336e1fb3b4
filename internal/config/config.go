package config

import (
	"encoding/json"
	"os"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Auth     AuthConfig     `json:"auth"`
	Limits   LimitsConfig   `json:"limits"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type AuthConfig struct {
	JWTSecret        string `json:"-"`
	TokenExpiryHours int    `json:"token_expiry_hours"`
}

type LimitsConfig struct {
	// FailOpen controls what a policy check returns when the counter
	// store is unreachable. Hard-limit quotas always fail closed.
	FailOpen            *bool `json:"fail_open"`
	EventRetentionHours int   `json:"event_retention_hours"`
	RecorderBuffer      int   `json:"recorder_buffer"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

func (c *Config) FailOpen() bool {
	if c.Limits.FailOpen == nil {
		return true
	}
	return *c.Limits.FailOpen
}

func Load(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()
	config.applyEnv()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == "" {
		c.Redis.Port = "6379"
	}
	if c.Auth.TokenExpiryHours <= 0 {
		c.Auth.TokenExpiryHours = 24
	}
	if c.Limits.EventRetentionHours <= 0 {
		c.Limits.EventRetentionHours = 24
	}
	if c.Limits.RecorderBuffer <= 0 {
		c.Limits.RecorderBuffer = 1000
	}
}

// Secrets come from the environment, never from config.json.
func (c *Config) applyEnv() {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}
}
