package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets from the config file.
const (
	EnvTelegramToken = "APPEALBOT_TELEGRAM_TOKEN"
	EnvStorageDSN    = "APPEALBOT_STORAGE_DSN"
	EnvCacheAddr     = "APPEALBOT_CACHE_ADDR"
	EnvCachePassword = "APPEALBOT_CACHE_PASSWORD"
	EnvHTTPAdmin     = "APPEALBOT_HTTP_ADMIN_TOKEN"
)

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped; existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overlays non-empty environment variables onto cfg.
func ApplyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, EnvTelegramToken)
	set(&cfg.Storage.DSN, EnvStorageDSN)
	set(&cfg.Cache.Addr, EnvCacheAddr)
	set(&cfg.Cache.Password, EnvCachePassword)
	set(&cfg.HTTP.AdminToken, EnvHTTPAdmin)
}
