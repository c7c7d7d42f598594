package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate

	tenantRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks cfg without side effects. All problems are joined into
// one error.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", trimNamespace(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}

	durations := map[string]string{
		"scheduler.send_timeout":          cfg.Scheduler.SendTimeout,
		"transport.telegram.poll_timeout": cfg.Transport.Telegram.PollTimeout,
		"http.read_timeout":               cfg.HTTP.ReadTimeout,
		"http.idle_timeout":               cfg.HTTP.IdleTimeout,
	}
	for name, p := range cfg.Content.Producers {
		durations["content.producers."+name+".timeout"] = p.Timeout
		durations["content.producers."+name+".open_for"] = p.OpenFor
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Transport.Driver == "telegram" && strings.TrimSpace(cfg.Transport.Telegram.Token) == "" {
		errs = append(errs, errors.New("transport.telegram.token: required for the telegram driver"))
	}

	for _, t := range cfg.Sessions.Autostart {
		if !tenantRe.MatchString(t) {
			errs = append(errs, fmt.Errorf("sessions.autostart: invalid tenant %q", t))
		}
	}
	for tenant, seeds := range cfg.Sessions.SeedJobs {
		seen := make(map[string]bool, len(seeds))
		for _, s := range seeds {
			if seen[s.ID] {
				errs = append(errs, fmt.Errorf("sessions.seed_jobs.%s: duplicate id %q", tenant, s.ID))
			}
			seen[s.ID] = true
			if s.Producer != "" {
				if _, ok := cfg.Content.Producers[s.Producer]; !ok {
					errs = append(errs, fmt.Errorf("sessions.seed_jobs.%s.%s: unknown producer %q", tenant, s.ID, s.Producer))
				}
			} else if strings.TrimSpace(s.Message) == "" {
				errs = append(errs, fmt.Errorf("sessions.seed_jobs.%s.%s: message or producer required", tenant, s.ID))
			}
		}
	}

	if p := cfg.Sessions.Commands.AskProducer; p != "" {
		if _, ok := cfg.Content.Producers[p]; !ok {
			errs = append(errs, fmt.Errorf("sessions.commands.ask_producer: unknown producer %q", p))
		}
	}

	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Token) == "" && !cfg.HTTP.AllowInsecure && !isLoopback(cfg.HTTP.ListenAddr()) {
		errs = append(errs, errors.New("http.token: required when binding to a non-loopback address (or set allow_insecure)"))
	}
	return errors.Join(errs...)
}

// ListenAddr returns Addr or the loopback default.
func (h HTTPConfig) ListenAddr() string {
	if a := strings.TrimSpace(h.Addr); a != "" {
		return a
	}
	return "127.0.0.1:8090"
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func trimNamespace(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}
