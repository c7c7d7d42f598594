package app

import (
	"fmt"
	"path/filepath"
	"time"

	"schedbot/internal/config"
	"schedbot/internal/recipient"
	"schedbot/internal/transport"
	"schedbot/internal/transport/console"
	"schedbot/internal/transport/telegram"
	"schedbot/internal/transport/whatsapp"
	"schedbot/pkg/logx"
)

// transportFactory maps transport.driver onto a per-tenant client factory.
func transportFactory(cfg *config.Config, log logx.Logger) (transport.Factory, error) {
	t := cfg.Transport
	switch t.Driver {
	case "whatsapp":
		dir := t.WhatsApp.StoreDir
		if dir == "" {
			dir = filepath.Join(".", "data", "whatsapp")
		}
		wc := whatsapp.Config{StoreDir: dir}
		return transport.FactoryFunc(func(tenant string) (transport.Client, error) {
			c, err := whatsapp.New(tenant, wc, log)
			if err != nil {
				return nil, err
			}
			return c, nil
		}), nil
	case "telegram":
		tc := telegram.Config{
			Token:       t.Telegram.Token,
			PollTimeout: config.DurationOr(t.Telegram.PollTimeout, 10*time.Second),
			APIURL:      t.Telegram.APIURL,
		}
		return transport.FactoryFunc(func(tenant string) (transport.Client, error) {
			c, err := telegram.New(tenant, tc, log)
			if err != nil {
				return nil, err
			}
			return c, nil
		}), nil
	case "console":
		cc := console.Config{Self: recipient.Recipient(t.Console.Self)}
		return transport.FactoryFunc(func(tenant string) (transport.Client, error) {
			return console.New(tenant, cc, log), nil
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", t.Driver)
	}
}
