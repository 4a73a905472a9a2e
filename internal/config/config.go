package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type ServerConfig struct {
	URI string `yaml:"uri"`
}

type EngineConfig struct {
	Mode     string  `yaml:"mode"` // mock, exec
	Command  string  `yaml:"command"`
	DataDir  string  `yaml:"data_dir"`
	Language string  `yaml:"language"`
	Voice    string  `yaml:"voice"`
	Speed    float64 `yaml:"speed"`
	Steps    int     `yaml:"steps"`
	Threads  int     `yaml:"threads"`
}

type SynthesisConfig struct {
	Streaming     bool `yaml:"streaming"`
	ChunkBytes    int  `yaml:"chunk_bytes"`
	MinFlushChars int  `yaml:"min_flush_chars"`
	TimeoutMS     int  `yaml:"timeout_ms"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	ServerName  string           `yaml:"server_name"`
	Environment string           `yaml:"environment"`
	Server      ServerConfig     `yaml:"server"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Engine      EngineConfig     `yaml:"engine"`
	Synthesis   SynthesisConfig  `yaml:"synthesis"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

func Default() Config {
	return Config{
		ServerName:  "wyoming-supertonic",
		Environment: "development",
		Server: ServerConfig{
			URI: "tcp://0.0.0.0:10209",
		},
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Engine: EngineConfig{
			Mode:     "mock",
			Language: "en",
			Speed:    1.0,
			Steps:    5,
			Threads:  4,
		},
		Synthesis: SynthesisConfig{
			Streaming:     true,
			ChunkBytes:    2048,
			MinFlushChars: 20,
			TimeoutMS:     0,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/synthesis-history.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServerName, "SUPERTONIC_SERVER_NAME")
	overrideString(&cfg.Environment, "SUPERTONIC_ENVIRONMENT")
	overrideString(&cfg.Server.URI, "SUPERTONIC_URI")
	overrideString(&cfg.HTTP.Bind, "SUPERTONIC_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SUPERTONIC_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SUPERTONIC_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SUPERTONIC_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SUPERTONIC_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Engine.Mode, "SUPERTONIC_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "SUPERTONIC_ENGINE_COMMAND")
	overrideString(&cfg.Engine.DataDir, "SUPERTONIC_ENGINE_DATA_DIR")
	overrideString(&cfg.Engine.Language, "SUPERTONIC_ENGINE_LANGUAGE")
	overrideString(&cfg.Engine.Voice, "SUPERTONIC_ENGINE_VOICE")
	overrideFloat(&cfg.Engine.Speed, "SUPERTONIC_ENGINE_SPEED")
	overrideInt(&cfg.Engine.Steps, "SUPERTONIC_ENGINE_STEPS")
	overrideInt(&cfg.Engine.Threads, "SUPERTONIC_ENGINE_THREADS")
	overrideBool(&cfg.Synthesis.Streaming, "SUPERTONIC_SYNTHESIS_STREAMING")
	overrideInt(&cfg.Synthesis.ChunkBytes, "SUPERTONIC_SYNTHESIS_CHUNK_BYTES")
	overrideInt(&cfg.Synthesis.MinFlushChars, "SUPERTONIC_SYNTHESIS_MIN_FLUSH_CHARS")
	overrideInt(&cfg.Synthesis.TimeoutMS, "SUPERTONIC_SYNTHESIS_TIMEOUT_MS")
	overrideBool(&cfg.Bus.Enabled, "SUPERTONIC_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "SUPERTONIC_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SUPERTONIC_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "SUPERTONIC_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SUPERTONIC_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SUPERTONIC_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SUPERTONIC_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SUPERTONIC_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SUPERTONIC_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "SUPERTONIC_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "SUPERTONIC_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "SUPERTONIC_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "SUPERTONIC_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "SUPERTONIC_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

// Speed bounds accepted for synthesis requests and config defaults.
const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// Validate re-checks the configuration after programmatic overrides.
func (c Config) Validate() error { return validate(c) }

func validate(cfg Config) error {
	if cfg.ServerName == "" {
		return errors.New("server_name must not be empty")
	}
	if !strings.HasPrefix(cfg.Server.URI, "tcp://") {
		return errors.New("server.uri must use the tcp:// scheme")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Engine.Mode {
	case "mock":
	case "exec":
		if cfg.Engine.Command == "" {
			return errors.New("engine.command must be set when mode=exec")
		}
		if cfg.Engine.DataDir == "" {
			return errors.New("engine.data_dir must be set when mode=exec")
		}
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Speed < MinSpeed || cfg.Engine.Speed > MaxSpeed {
		return fmt.Errorf("engine.speed must be between %.1f and %.1f", MinSpeed, MaxSpeed)
	}
	if cfg.Engine.Steps <= 0 {
		return errors.New("engine.steps must be positive")
	}
	if cfg.Engine.Threads < 1 {
		return errors.New("engine.threads must be >= 1")
	}
	if cfg.Synthesis.ChunkBytes < 2 {
		return errors.New("synthesis.chunk_bytes must be at least one sample")
	}
	if cfg.Synthesis.MinFlushChars < 0 {
		return errors.New("synthesis.min_flush_chars must be >= 0")
	}
	if cfg.Synthesis.TimeoutMS < 0 {
		return errors.New("synthesis.timeout_ms must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
