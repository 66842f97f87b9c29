package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the OpsLeuth investigation engine.
type Config struct {
	Port      int
	Version   string
	Budgets   BudgetConfig
	Endpoints EndpointConfig
	Session   SessionConfig
	Telemetry TelemetryConfig
}

// BudgetConfig bounds retries, timeouts, and confidence policy.
type BudgetConfig struct {
	// MaxAttempts is the total attempts per delegated phase (including the first).
	MaxAttempts int
	// AttemptTimeout is the per-delegation timeout.
	AttemptTimeout time.Duration
	// InvestigationBudget is the wall-clock cap on a whole investigation.
	InvestigationBudget time.Duration
	// VersionPenalty is subtracted from a role's confidence when the
	// version cannot be resolved (E005), floored at 0.
	VersionPenalty float64
}

// EndpointConfig points at the external collaborators.
type EndpointConfig struct {
	// SpecialistBaseURL is the base URL for the three role endpoints
	// (POST {base}/{role}).
	SpecialistBaseURL string
	// PlannerURL is the planning capability endpoint.
	PlannerURL string
	// ArtifactURL is the artifact store upload endpoint.
	ArtifactURL string
	// AnalyticsURL is the best-effort analytics webhook. Empty disables delivery.
	AnalyticsURL string
}

type SessionConfig struct {
	// TTL is how long finished sessions are retained before the janitor
	// purges them.
	TTL time.Duration
	// SweepInterval is how often the janitor runs.
	SweepInterval time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("OPSLEUTH_PORT", 8080),
		Version: envStr("OPSLEUTH_VERSION", "0.2.0"),
		Budgets: BudgetConfig{
			MaxAttempts:         envInt("OPSLEUTH_MAX_ATTEMPTS", 3),
			AttemptTimeout:      envDuration("OPSLEUTH_ATTEMPT_TIMEOUT", 300*time.Second),
			InvestigationBudget: envDuration("OPSLEUTH_INVESTIGATION_BUDGET", 5*time.Minute),
			VersionPenalty:      envFloat("OPSLEUTH_VERSION_PENALTY", 0.1),
		},
		Endpoints: EndpointConfig{
			SpecialistBaseURL: envStr("OPSLEUTH_SPECIALIST_BASE_URL", "http://localhost:8090/roles"),
			PlannerURL:        envStr("OPSLEUTH_PLANNER_URL", "http://localhost:8090/planner"),
			ArtifactURL:       envStr("OPSLEUTH_ARTIFACT_URL", "http://localhost:8091/artifacts"),
			AnalyticsURL:      envStr("OPSLEUTH_ANALYTICS_URL", ""),
		},
		Session: SessionConfig{
			TTL:           envDuration("OPSLEUTH_SESSION_TTL", 24*time.Hour),
			SweepInterval: envDuration("OPSLEUTH_SESSION_SWEEP_INTERVAL", time.Hour),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "opsleuth-core"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
