package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Transport TransportConfig `json:"transport"`
	Sessions  SessionsConfig  `json:"sessions"`
	Content   ContentConfig   `json:"content,omitempty"`
	HTTP      HTTPConfig      `json:"http,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string       `json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

// LoggingAlert forwards records at/above MinLevel to To through Tenant's session.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	Tenant     string `json:"tenant" validate:"required_if=Enabled true"`
	To         string `json:"to" validate:"required_if=Enabled true"`
	MinLevel   string `json:"min_level" validate:"omitempty,oneof=warn warning error"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// DefaultTimezone applies when scheduler.timezone is empty.
const DefaultTimezone = "America/Bogota"

type SchedulerConfig struct {
	// Timezone is an IANA name; jobs without an explicit offset fire in it.
	Timezone string `json:"timezone,omitempty"`
	// OneTimePolicy is "rearm" (default) or "delete_after_fire".
	OneTimePolicy string `json:"one_time_policy,omitempty" validate:"omitempty,oneof=rearm delete_after_fire"`
	// RatePerSec caps sends per tenant; 0 disables pacing.
	RatePerSec  int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

type TransportConfig struct {
	Driver   string         `json:"driver" validate:"required,oneof=whatsapp telegram console"`
	WhatsApp WhatsAppConfig `json:"whatsapp,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
	Console  ConsoleConfig  `json:"console,omitempty"`
}

type WhatsAppConfig struct {
	StoreDir string `json:"store_dir,omitempty"`
}

type TelegramConfig struct {
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	APIURL      string `json:"api_url,omitempty" validate:"omitempty,url"`
}

type ConsoleConfig struct {
	Self string `json:"self,omitempty"`
}

type SessionsConfig struct {
	// Autostart lists tenants whose sessions are created at boot.
	Autostart []string `json:"autostart,omitempty"`
	// SeedJobs are created on each tenant's first ready.
	SeedJobs map[string][]SeedJob `json:"seed_jobs,omitempty" validate:"dive,dive"`
	// ReadyNotice sends a "client ready" message to the session's own account.
	ReadyNotice *bool          `json:"ready_notice,omitempty"`
	Commands    CommandsConfig `json:"commands"`
}

type SeedJob struct {
	ID         string   `json:"id" validate:"required"`
	Kind       string   `json:"kind" validate:"required"`
	Recipients []string `json:"recipients" validate:"required,min=1"`
	Message    string   `json:"message,omitempty"`
	At         string   `json:"at,omitempty"`
	Expression string   `json:"expression,omitempty"`
	// Producer names a content producer used instead of Message.
	Producer string `json:"producer,omitempty"`
}

type CommandsConfig struct {
	Disabled bool     `json:"disabled,omitempty"`
	Prefix   string   `json:"prefix,omitempty"`
	Allow    []string `json:"allow,omitempty"`
	// AskProducer names the producer behind the ask command. Empty picks
	// the only configured producer.
	AskProducer string `json:"ask_producer,omitempty"`
}

type ContentConfig struct {
	Producers map[string]ProducerConfig `json:"producers,omitempty" validate:"dive"`
}

type ProducerConfig struct {
	BaseURL     string `json:"base_url" validate:"required,url"`
	Model       string `json:"model" validate:"required"`
	Prompt      string `json:"prompt" validate:"required"`
	Timeout     string `json:"timeout,omitempty"`
	Fallback    string `json:"fallback,omitempty"`
	MaxFailures uint32 `json:"max_failures,omitempty"`
	OpenFor     string `json:"open_for,omitempty"`
}

// HTTPConfig controls the operations API (sessions, jobs, metrics, pprof).
//
// Prefer binding to localhost. A non-loopback Addr requires Token unless
// AllowInsecure is set.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:8090"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls the audit log. Nil disables it.
//
//	"storage": { "driver": "sqlite", "path": "./schedbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"required,oneof=file sqlite"`
	Path        string `json:"path" validate:"required"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ReadyNoticeEnabled defaults to true when the field is omitted.
func (s SessionsConfig) ReadyNoticeEnabled() bool {
	return s.ReadyNotice == nil || *s.ReadyNotice
}
