package app

import (
	"strings"
	"time"

	"schedbot/internal/commands"
	"schedbot/internal/config"
	"schedbot/internal/content"
	"schedbot/internal/httpapi"
	"schedbot/internal/jobs"
	"schedbot/internal/session"
	"schedbot/internal/storage"
	"schedbot/pkg/logx"
)

// The config is validated before it reaches these mappers, so duration
// parse errors cannot occur here.

func mapLogging(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func timezone(cfg *config.Config) string {
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		return tz
	}
	return config.DefaultTimezone
}

func mapDispatch(cfg *config.Config) jobs.DispatchConfig {
	return jobs.DispatchConfig{
		RatePerSec:  cfg.Scheduler.RatePerSec,
		SendTimeout: config.DurationOr(cfg.Scheduler.SendTimeout, 30*time.Second),
	}
}

func mapSessions(cfg *config.Config, log logx.Logger) (session.Config, error) {
	policy, err := jobs.ParseOneTimePolicy(cfg.Scheduler.OneTimePolicy)
	if err != nil {
		return session.Config{}, err
	}
	seeds := make(map[string][]session.SeedJob, len(cfg.Sessions.SeedJobs))
	for tenant, list := range cfg.Sessions.SeedJobs {
		for _, s := range list {
			seeds[tenant] = append(seeds[tenant], session.SeedJob{
				ID: s.ID,
				Job: jobs.Config{
					Kind:       s.Kind,
					Recipients: s.Recipients,
					Message:    s.Message,
					At:         s.At,
					Expression: s.Expression,
				},
				Producer: s.Producer,
			})
		}
	}
	return session.Config{
		Jobs: jobs.ManagerConfig{
			Location:      jobs.LoadLocation(timezone(cfg), log),
			OneTimePolicy: policy,
			Dispatch:      mapDispatch(cfg),
		},
		SeedJobs:    seeds,
		ReadyNotice: cfg.Sessions.ReadyNoticeEnabled(),
	}, nil
}

func mapCommands(cfg *config.Config) commands.Config {
	return commands.Config{Prefix: cfg.Sessions.Commands.Prefix, Allow: cfg.Sessions.Commands.Allow}
}

func mapProducers(cfg *config.Config) map[string]content.ProducerConfig {
	out := make(map[string]content.ProducerConfig, len(cfg.Content.Producers))
	for name, p := range cfg.Content.Producers {
		out[name] = content.ProducerConfig{
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			Prompt:      p.Prompt,
			Timeout:     config.DurationOr(p.Timeout, 0),
			Fallback:    p.Fallback,
			MaxFailures: p.MaxFailures,
			OpenFor:     config.DurationOr(p.OpenFor, 0),
		}
	}
	return out
}

func mapHTTP(cfg *config.Config) httpapi.Config {
	h := cfg.HTTP
	return httpapi.Config{
		Enabled:       h.Enabled,
		Addr:          h.ListenAddr(),
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   config.DurationOr(h.ReadTimeout, 30*time.Second),
		IdleTimeout:   config.DurationOr(h.IdleTimeout, 2*time.Minute),
	}
}

func mapStorage(cfg *config.Config) storage.Config {
	if cfg.Storage == nil {
		return storage.Config{}
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: config.DurationOr(cfg.Storage.BusyTimeout, 0),
	}
}
