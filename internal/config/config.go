package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every environment variable, e.g. ENMS_LISTEN_ADDR.
const Prefix = "ENMS"

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":5000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/var/lib/enms"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	Development  bool   `envconfig:"DEV" default:"false"`

	// AuthDisabled makes every API request act as the first admin user.
	AuthDisabled bool `envconfig:"AUTH_DISABLED" default:"false"`
	// Origins allowed to open terminal websockets besides the server's own
	// host, e.g. "enms.example.com".
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`

	// Devices declared in YAML are upserted at startup.
	InventoryPath string `envconfig:"INVENTORY_PATH" default:""`

	// Terminal session settings
	TerminalShell            string        `envconfig:"TERMINAL_SHELL" default:"/bin/bash"`
	TerminalRecordingEnabled bool          `envconfig:"TERMINAL_RECORDING_ENABLED" default:"false"`
	TerminalIdleTimeout      time.Duration `envconfig:"TERMINAL_IDLE_TIMEOUT" default:"30m"`
	TerminalInputRate        float64       `envconfig:"TERMINAL_INPUT_RATE" default:"100"`
	TerminalInputBurst       int           `envconfig:"TERMINAL_INPUT_BURST" default:"200"`
	SSHConnectTimeout        time.Duration `envconfig:"SSH_CONNECT_TIMEOUT" default:"10s"`

	PendingSessionTTL       time.Duration `envconfig:"PENDING_SESSION_TTL" default:"1h"`
	TranscriptRetentionDays int           `envconfig:"TRANSCRIPT_RETENTION_DAYS" default:"30"`
	CleanupSchedule         string        `envconfig:"CLEANUP_SCHEDULE" default:"@every 10m"`
}

var Cfg Settings

// Process reads the environment into a fresh Settings value.
func Process() (Settings, error) {
	var s Settings
	if err := envconfig.Process(Prefix, &s); err != nil {
		return Settings{}, fmt.Errorf("process %s environment: %w", Prefix, err)
	}
	if s.TerminalInputRate <= 0 {
		return Settings{}, fmt.Errorf("%s_TERMINAL_INPUT_RATE must be positive", Prefix)
	}
	if s.TerminalInputBurst <= 0 {
		return Settings{}, fmt.Errorf("%s_TERMINAL_INPUT_BURST must be positive", Prefix)
	}
	return s, nil
}

// Load fills Cfg from the environment, reading a .env file first when one
// exists in the working directory.
func Load() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	s, err := Process()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	Cfg = s
}

// DatabaseFile returns the SQLite path, defaulting to enms.db under DataPath.
func (s Settings) DatabaseFile() string {
	if s.DatabasePath != "" {
		return s.DatabasePath
	}
	return s.DataPath + "/enms.db"
}

// LogFile returns the log path, defaulting to enms.log under DataPath.
func (s Settings) LogFile() string {
	if s.LogPath != "" {
		return s.LogPath
	}
	return s.DataPath + "/enms.log"
}
