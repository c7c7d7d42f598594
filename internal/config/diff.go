package config

import (
	"reflect"
	"sort"
	"strings"

	"schedbot/pkg/logx"
)

// Change summarizes the difference between two configs for reload logging.
// Attrs never carry secrets (tokens are reported as *_set booleans).
type Change struct {
	Sections []string
	Attrs    []logx.Field
	// RestartRequired lists changed sections that only take effect on restart.
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, attrs ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, attrs...)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		n := newCfg.Logging
		mark("logging", false,
			logx.String("logging.level", n.Level),
			logx.Bool("logging.console", n.Console),
			logx.Bool("logging.file_enabled", n.File.Enabled),
			logx.Bool("logging.alert_enabled", n.Alert.Enabled),
		)
	}

	o, n := oldCfg.Scheduler, newCfg.Scheduler
	if o.RatePerSec != n.RatePerSec || strings.TrimSpace(o.SendTimeout) != strings.TrimSpace(n.SendTimeout) {
		mark("dispatch", false,
			logx.Int("scheduler.rate_per_sec", n.RatePerSec),
			logx.String("scheduler.send_timeout", strings.TrimSpace(n.SendTimeout)),
		)
	}
	if strings.TrimSpace(o.Timezone) != strings.TrimSpace(n.Timezone) || o.OneTimePolicy != n.OneTimePolicy {
		mark("scheduler", true,
			logx.String("scheduler.timezone", strings.TrimSpace(n.Timezone)),
			logx.String("scheduler.one_time_policy", n.OneTimePolicy),
		)
	}

	ot, nt := oldCfg.Transport, newCfg.Transport
	if ot.Driver != nt.Driver || ot.WhatsApp != nt.WhatsApp || ot.Console != nt.Console ||
		ot.Telegram.PollTimeout != nt.Telegram.PollTimeout || ot.Telegram.APIURL != nt.Telegram.APIURL ||
		ot.Telegram.Token != nt.Telegram.Token {
		mark("transport", true,
			logx.String("transport.driver", nt.Driver),
			logx.Bool("transport.telegram.token_set", strings.TrimSpace(nt.Telegram.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sessions.Commands, newCfg.Sessions.Commands) {
		c := newCfg.Sessions.Commands
		mark("commands", false,
			logx.Bool("commands.disabled", c.Disabled),
			logx.String("commands.prefix", c.Prefix),
			logx.Int("commands.allow_count", len(c.Allow)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Sessions.Autostart, newCfg.Sessions.Autostart) ||
		!reflect.DeepEqual(oldCfg.Sessions.SeedJobs, newCfg.Sessions.SeedJobs) ||
		oldCfg.Sessions.ReadyNoticeEnabled() != newCfg.Sessions.ReadyNoticeEnabled() {
		mark("sessions", true,
			logx.Int("sessions.autostart_count", len(newCfg.Sessions.Autostart)),
			logx.Int("sessions.seed_tenants", len(newCfg.Sessions.SeedJobs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Content, newCfg.Content) {
		names := make([]string, 0, len(newCfg.Content.Producers))
		for name := range newCfg.Content.Producers {
			names = append(names, name)
		}
		sort.Strings(names)
		mark("content", false, logx.Strings("content.producers", names))
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	if oh.Enabled != nh.Enabled || oh.Addr != nh.Addr || oh.Pprof != nh.Pprof ||
		oh.AllowInsecure != nh.AllowInsecure || oh.ReadTimeout != nh.ReadTimeout ||
		oh.IdleTimeout != nh.IdleTimeout || oh.Token != nh.Token {
		mark("http", false,
			logx.Bool("http.enabled", nh.Enabled),
			logx.String("http.addr", nh.ListenAddr()),
			logx.Bool("http.pprof", nh.Pprof),
			logx.Bool("http.token_set", strings.TrimSpace(nh.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		var driver string
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", true, logx.String("storage.driver", driver))
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.RestartRequired)
	return ch
}
