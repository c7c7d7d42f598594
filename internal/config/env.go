package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every override, e.g. SCHEDBOT_TELEGRAM_TOKEN.
const EnvPrefix = "SCHEDBOT"

// envOverrides are read from the process environment after the file is
// decoded. Unset variables leave the file value alone.
type envOverrides struct {
	LogLevel         string   `envconfig:"LOG_LEVEL"`
	Timezone         string   `envconfig:"TIMEZONE"`
	OneTimePolicy    string   `envconfig:"ONE_TIME_POLICY"`
	Transport        string   `envconfig:"TRANSPORT"`
	TelegramToken    string   `envconfig:"TELEGRAM_TOKEN"`
	WhatsAppStoreDir string   `envconfig:"WHATSAPP_STORE_DIR"`
	HTTPAddr         string   `envconfig:"HTTP_ADDR"`
	HTTPToken        string   `envconfig:"HTTP_TOKEN"`
	Autostart        []string `envconfig:"AUTOSTART"`
	CommandAllow     []string `envconfig:"COMMAND_ALLOW"`
}

// LoadDotEnv loads ".env" next to the config file. A missing file is not an
// error and variables already present in the environment win.
func LoadDotEnv(configPath string) error {
	p := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(p); err != nil && !isNotExist(err) {
		return fmt.Errorf("load %s: %w", p, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Scheduler.Timezone, o.Timezone)
	set(&cfg.Scheduler.OneTimePolicy, o.OneTimePolicy)
	set(&cfg.Transport.Driver, o.Transport)
	set(&cfg.Transport.Telegram.Token, o.TelegramToken)
	set(&cfg.Transport.WhatsApp.StoreDir, o.WhatsAppStoreDir)
	set(&cfg.HTTP.Addr, o.HTTPAddr)
	set(&cfg.HTTP.Token, o.HTTPToken)
	if len(o.Autostart) > 0 {
		cfg.Sessions.Autostart = o.Autostart
	}
	if len(o.CommandAllow) > 0 {
		cfg.Sessions.Commands.Allow = o.CommandAllow
	}
	return nil
}
