package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr         string
	MetricsAddr  string
	DBPath       string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
}

func Load() *Config {
	cfg := &Config{
		Addr:         ":9009",
		MetricsAddr:  ":9090",
		DBPath:       "wechat.db",
		ReadTimeout:  120,
		WriteTimeout: 30,
	}

	if addr := os.Getenv("WECHAT_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if addr := os.Getenv("WECHAT_METRICS_ADDR"); addr != "" {
		cfg.MetricsAddr = addr
	}

	if dbPath := os.Getenv("WECHAT_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if timeoutStr := os.Getenv("WECHAT_READ_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.ReadTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("WECHAT_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	return cfg
}
