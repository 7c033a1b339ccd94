// Package config binds the proxy environment contract of spec §6 through
// viper, the same way plan.LoadStrictFlags binds the four strict-mode
// flags: one viper instance, CHAOS_ env prefix, automatic env lookup, and
// explicit defaults, so every setting can be overridden by an environment
// variable without a config file.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config is the full CHAOS_* proxy environment contract (spec §6), plus
// the handful of non-prefixed vars (OTEL_*, PII_REDACTION_ENABLED) it
// shares with the wider observability/security stack.
type Config struct {
	// Auth
	AdminToken string
	ReadKeys   []string
	AdminKeys  []string

	// JWT
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTStrict   bool

	// Tape / replay / classifier
	TapeKey           string
	ReplayStrict      bool
	ClassifierStrict  bool
	TapeKeyRequired   bool

	// Logging / audit / runs
	LogFile string
	LogDir  string
	AuditLog string
	RunsDir string

	// Dashboard
	DashboardAutostart bool
	DashboardAddr      string

	// Telemetry / redaction / upstream health
	OTLPEndpoint       string
	OTELSampleRate     float64
	PIIRedactionEnabled bool
	LLMHealthURL       string
	LLMHealthSkip      bool

	// Process
	ListenAddr string
	PlanPath   string
	Mode       string
}

// Load reads the full environment contract through viper. Every field has
// an explicit default so a bare environment (nothing set) yields a usable,
// conservative configuration: auth effectively disabled with a warning
// (security.NewAuth's own behavior), strict modes off except JWT, PII
// redaction on.
func Load() *Config {
	v := viper.New()
	v.SetEnvPrefix("CHAOS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("admin_token", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("jwt_issuer", "")
	v.SetDefault("jwt_audience", "")
	v.SetDefault("jwt_strict", true)
	v.SetDefault("tape_key", "")
	v.SetDefault("replay_strict", false)
	v.SetDefault("classifier_strict", false)
	v.SetDefault("tape_key_required", false)
	v.SetDefault("log_file", "")
	v.SetDefault("log_dir", "")
	v.SetDefault("audit_log", "")
	v.SetDefault("runs_dir", "runs")
	v.SetDefault("dashboard_autostart", true)
	v.SetDefault("dashboard_addr", ":9090")
	v.SetDefault("llm_health_url", "")
	v.SetDefault("llm_health_skip", false)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("plan_path", "plan.yaml")
	v.SetDefault("mode", "LIVE")

	cfg := &Config{
		AdminToken:         v.GetString("admin_token"),
		ReadKeys:           splitCSV(firstNonEmpty(v.GetString("read_keys"), v.GetString("read_key"))),
		AdminKeys:          splitCSV(firstNonEmpty(v.GetString("admin_keys"), v.GetString("admin_key"))),
		JWTSecret:          v.GetString("jwt_secret"),
		JWTIssuer:          v.GetString("jwt_issuer"),
		JWTAudience:        v.GetString("jwt_audience"),
		JWTStrict:          v.GetBool("jwt_strict"),
		TapeKey:            v.GetString("tape_key"),
		ReplayStrict:       v.GetBool("replay_strict"),
		ClassifierStrict:   v.GetBool("classifier_strict"),
		TapeKeyRequired:    v.GetBool("tape_key_required"),
		LogFile:            v.GetString("log_file"),
		LogDir:             v.GetString("log_dir"),
		AuditLog:           v.GetString("audit_log"),
		RunsDir:            v.GetString("runs_dir"),
		DashboardAutostart: v.GetBool("dashboard_autostart"),
		DashboardAddr:      v.GetString("dashboard_addr"),
		LLMHealthURL:       v.GetString("llm_health_url"),
		LLMHealthSkip:      v.GetBool("llm_health_skip"),
		ListenAddr:         v.GetString("listen_addr"),
		PlanPath:           v.GetString("plan_path"),
		Mode:               strings.ToUpper(v.GetString("mode")),
	}

	// OTEL_* and PII_REDACTION_ENABLED are shared, unprefixed env vars
	// (spec §6), read through a second viper instance with no prefix.
	ev := viper.New()
	ev.AutomaticEnv()
	ev.SetDefault("otel_exporter_otlp_endpoint", "")
	ev.SetDefault("otel_sample_rate", 1.0)
	ev.SetDefault("pii_redaction_enabled", true)
	cfg.OTLPEndpoint = ev.GetString("otel_exporter_otlp_endpoint")
	cfg.OTELSampleRate = ev.GetFloat64("otel_sample_rate")
	cfg.PIIRedactionEnabled = ev.GetBool("pii_redaction_enabled")

	return cfg
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
