package config

import (
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is read from TALKIE_* variables first; command-line flags then
// override individual fields.
type Config struct {
	ServerURL    string        `env:"SERVER_URL"     envDefault:"http://localhost:8080"`
	APIPrefix    string        `env:"API_PREFIX"     envDefault:"/api"`
	StateDir     string        `env:"STATE_DIR"`
	Format       string        `env:"FORMAT"         envDefault:"flac"`
	Device       string        `env:"DEVICE"`
	Gain         int32         `env:"GAIN"           envDefault:"1"`
	MinDuration  time.Duration `env:"MIN_DURATION"   envDefault:"500ms"`
	MinClipBytes int           `env:"MIN_CLIP_BYTES" envDefault:"1000"`
	PollInterval time.Duration `env:"POLL_INTERVAL"  envDefault:"1s"`
	PollAttempts int           `env:"POLL_ATTEMPTS"  envDefault:"60"`
	StatusClear  time.Duration `env:"STATUS_CLEAR"   envDefault:"3s"`
	HTTPTimeout  time.Duration `env:"HTTP_TIMEOUT"   envDefault:"30s"`
	Cues         bool          `env:"CUES"           envDefault:"true"`
}

// Flags holds the actions and overrides parsed from the command line.
type Flags struct {
	Server  string
	Device  string
	Format  string
	LogPath string
	WavPath string
	Setup   bool
	Login   string
	Logout  bool
	Doctor  bool
	Version bool
	TUI     bool
}

func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: "TALKIE_"}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and then args. Flags win over variables.
func Load(args []string) (Config, Flags, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, Flags{}, err
	}

	var f Flags
	fs := flag.NewFlagSet("talkie", flag.ContinueOnError)
	fs.StringVar(&f.Server, "server", "", "Backend base URL (overrides TALKIE_SERVER_URL)")
	fs.StringVar(&f.Device, "device", "", "Use named input device")
	fs.StringVar(&f.Format, "format", "", "Clip format: flac or wav")
	fs.StringVar(&f.LogPath, "logpath", "", "Log directory (overrides TALKIE_LOG_PATH)")
	fs.StringVar(&f.WavPath, "test", "", "Headless mode: read DOWN/UP/WAIT/SLEEP/QUIT from stdin, capture from this WAV")
	fs.BoolVar(&f.Setup, "setup", false, "Select microphone device interactively")
	fs.StringVar(&f.Login, "login", "", "Log in as this user (password read from the terminal)")
	fs.BoolVar(&f.Logout, "logout", false, "Forget the saved session")
	fs.BoolVar(&f.Doctor, "doctor", false, "Run connectivity and device checks")
	fs.BoolVar(&f.Version, "version", false, "Print version and exit")
	fs.BoolVar(&f.TUI, "tui", true, "Full-screen interface (false prints plain status lines)")
	if err := fs.Parse(args); err != nil {
		return Config{}, Flags{}, err
	}

	if f.Server != "" {
		cfg.ServerURL = f.Server
	}
	if f.Device != "" {
		cfg.Device = f.Device
	}
	if f.Format != "" {
		cfg.Format = f.Format
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, Flags{}, err
	}
	return cfg, f, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server url %q must be http(s)://host[:port]", c.ServerURL)
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")

	c.Format = strings.ToLower(c.Format)
	if c.Format != "flac" && c.Format != "wav" {
		return fmt.Errorf("unknown format %q (use flac or wav)", c.Format)
	}
	if c.PollAttempts < 1 {
		return fmt.Errorf("poll attempts must be at least 1, got %d", c.PollAttempts)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.MinDuration < 0 || c.MinClipBytes < 0 {
		return fmt.Errorf("capture thresholds must not be negative")
	}
	return nil
}
